package bgp

import (
	"fmt"
	"iter"
)

// -------------------------------------------------------------------------
// Outgoing Chunker — greedy bin-packing of framed fragments
// -------------------------------------------------------------------------

// SizeError is the fatal fault raised when a single fragment exceeds the
// chunk limit. It originates locally, not from the peer: the fragment
// producer generated an unencodable unit, which is a programming or
// configuration error. It must not be retried with the same input.
type SizeError struct {
	// FragmentLen is the offending fragment's length in bytes.
	FragmentLen int

	// Limit is the chunk size limit in effect.
	Limit int
}

// Error implements the error interface.
func (e *SizeError) Error() string {
	return fmt.Sprintf("fragment of %d bytes exceeds maximum message size %d", e.FragmentLen, e.Limit)
}

// Chunk is one bin-packed write unit: the concatenated fragments and how
// many of them it contains.
type Chunk struct {
	// Data is the concatenated fragment bytes, at most the chunker limit.
	Data []byte

	// Count is the number of fragments packed into Data.
	Count int
}

// Chunker bin-packs a lazy fragment sequence into chunks no larger than
// a fixed limit, greedily and in arrival order:
//
//   - a fragment that fits in the open chunk is appended to it;
//   - a fragment that would overflow it seals the chunk and opens the
//     next one with that fragment;
//   - a fragment larger than the limit on its own is a fatal SizeError;
//   - the final partial chunk is sealed when the sequence ends.
//
// Fragments are never split, reordered, duplicated, or dropped: the
// emitted chunks concatenated in order reproduce the input exactly.
type Chunker struct {
	limit int
	next  func() ([]byte, bool)
	stop  func()

	// pending holds a fragment that sealed the previous chunk and seeds
	// the next one.
	pending    []byte
	hasPending bool

	done bool
	err  error
}

// NewChunker creates a Chunker over frags with the given chunk limit.
// The session engine uses MessageSize; tests may use smaller limits.
func NewChunker(limit int, frags iter.Seq[[]byte]) *Chunker {
	next, stop := iter.Pull(frags)
	return &Chunker{limit: limit, next: next, stop: stop}
}

// Next returns the next chunk. ok is false when the fragment sequence is
// exhausted or after an error; a *SizeError is sticky and terminal.
func (c *Chunker) Next() (Chunk, bool, error) {
	if c.err != nil {
		return Chunk{}, false, c.err
	}
	if c.done {
		return Chunk{}, false, nil
	}

	var buf []byte
	count := 0
	for {
		frag, ok := c.pending, c.hasPending
		c.pending, c.hasPending = nil, false
		if !ok {
			frag, ok = c.next()
		}
		if !ok {
			c.done = true
			c.stop()
			break
		}
		if len(frag) > c.limit {
			c.err = &SizeError{FragmentLen: len(frag), Limit: c.limit}
			c.stop()
			return Chunk{}, false, c.err
		}
		if len(buf)+len(frag) > c.limit {
			c.pending, c.hasPending = frag, true
			return Chunk{Data: buf, Count: count}, true, nil
		}
		buf = append(buf, frag...)
		count++
	}

	if count > 0 {
		return Chunk{Data: buf, Count: count}, true, nil
	}
	return Chunk{}, false, nil
}

// Stop releases the underlying fragment sequence. Safe to call more
// than once; Next after Stop reports exhaustion.
func (c *Chunker) Stop() {
	c.done = true
	c.stop()
}
