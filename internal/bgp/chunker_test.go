package bgp_test

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/nettrail/gobsp/internal/bgp"
)

// fragmentsOf builds a fragment sequence of the given lengths, filling
// each fragment with a distinct byte so concatenation order is checkable.
func fragmentsOf(lengths ...int) [][]byte {
	frags := make([][]byte, len(lengths))
	for i, n := range lengths {
		frags[i] = bytes.Repeat([]byte{byte('a' + i)}, n)
	}
	return frags
}

// collectChunks drains a chunker, failing the test on an unexpected error.
func collectChunks(t *testing.T, c *bgp.Chunker) []bgp.Chunk {
	t.Helper()
	var chunks []bgp.Chunk
	for {
		chunk, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

// TestChunkerGreedyPacking verifies the deterministic greedy bin-packing:
// fragments [10, 10, 10] with a limit of 25 must pack into a 2-fragment
// 20-byte chunk followed by a 1-fragment 10-byte chunk, because the third
// fragment would have pushed the first chunk to 30 bytes.
func TestChunkerGreedyPacking(t *testing.T) {
	t.Parallel()

	c := bgp.NewChunker(25, slices.Values(fragmentsOf(10, 10, 10)))
	chunks := collectChunks(t, c)

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Count != 2 || len(chunks[0].Data) != 20 {
		t.Errorf("chunk[0] = {count=%d, bytes=%d}, want {count=2, bytes=20}",
			chunks[0].Count, len(chunks[0].Data))
	}
	if chunks[1].Count != 1 || len(chunks[1].Data) != 10 {
		t.Errorf("chunk[1] = {count=%d, bytes=%d}, want {count=1, bytes=10}",
			chunks[1].Count, len(chunks[1].Data))
	}
}

// TestChunkerIdentity verifies that for any sequence of fragments that
// each fit the limit, the emitted chunks concatenated in order reproduce
// the input exactly: no loss, no reordering, no duplication, no splits.
func TestChunkerIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limit   int
		lengths []int
	}{
		{name: "empty sequence", limit: 100, lengths: nil},
		{name: "single fragment", limit: 100, lengths: []int{42}},
		{name: "exact fit", limit: 30, lengths: []int{10, 10, 10}},
		{name: "one per chunk", limit: 10, lengths: []int{10, 10, 10}},
		{name: "mixed sizes", limit: 50, lengths: []int{7, 30, 12, 1, 50, 3, 3, 3}},
		{name: "zero length fragments", limit: 10, lengths: []int{0, 5, 0, 5, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frags := fragmentsOf(tt.lengths...)
			chunks := collectChunks(t, bgp.NewChunker(tt.limit, slices.Values(frags)))

			var want, got []byte
			for _, f := range frags {
				want = append(want, f...)
			}
			total := 0
			for _, c := range chunks {
				if len(c.Data) > tt.limit {
					t.Errorf("chunk of %d bytes exceeds limit %d", len(c.Data), tt.limit)
				}
				got = append(got, c.Data...)
				total += c.Count
			}
			if !bytes.Equal(got, want) {
				t.Errorf("reassembled %d bytes != input %d bytes", len(got), len(want))
			}
			if total != len(frags) {
				t.Errorf("fragment count = %d, want %d", total, len(frags))
			}
		})
	}
}

// TestChunkerOversizeFragment verifies that a fragment larger than the
// limit fails with a *SizeError and that no emitted chunk contains it,
// even when it arrives after packable fragments.
func TestChunkerOversizeFragment(t *testing.T) {
	t.Parallel()

	c := bgp.NewChunker(25, slices.Values(fragmentsOf(10, 26, 10)))

	_, ok, err := c.Next()
	var sizeErr *bgp.SizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("Next() error = %v, want *SizeError", err)
	}
	if ok {
		t.Error("Next() ok = true alongside a fatal error")
	}
	if sizeErr.FragmentLen != 26 || sizeErr.Limit != 25 {
		t.Errorf("SizeError = {%d, %d}, want {26, 25}", sizeErr.FragmentLen, sizeErr.Limit)
	}

	// The error is sticky: the chunker never recovers with the same input.
	if _, ok, err := c.Next(); ok || !errors.As(err, &sizeErr) {
		t.Errorf("second Next() = (ok=%v, err=%v), want sticky *SizeError", ok, err)
	}
}

// TestChunkerStop verifies Next after Stop reports exhaustion.
func TestChunkerStop(t *testing.T) {
	t.Parallel()

	c := bgp.NewChunker(25, slices.Values(fragmentsOf(10, 10)))
	c.Stop()

	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("Next() after Stop = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}
