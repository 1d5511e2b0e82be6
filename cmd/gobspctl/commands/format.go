// Package commands implements the gobspctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nettrail/gobsp/internal/reactor"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPeers renders the peer snapshots in the requested format.
func formatPeers(peers []reactor.Status, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(peers)
	case formatYAML:
		return marshalYAML(peers)
	case formatTable:
		return formatPeersTable(peers)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPeer renders a single peer snapshot in the requested format.
func formatPeer(peer reactor.Status, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(peer)
	case formatYAML:
		return marshalYAML(peer)
	case formatTable:
		return formatPeerDetail(peer)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatPeersTable(peers []reactor.Status) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tSTATE\tAS\tHOLD\tUPTIME\tPENDING")

	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%ds\t%s\t%d/%d\n",
			p.Peer,
			p.State,
			p.PeerAS,
			p.HoldTime,
			formatUptime(p.UptimeSeconds),
			p.PendingAnnounce,
			p.PendingWithdraw,
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatPeerDetail(p reactor.Status) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Peer Address:\t%s\n", p.Peer)
	fmt.Fprintf(w, "State:\t%s\n", p.State)
	fmt.Fprintf(w, "Peer AS:\t%d\n", p.PeerAS)
	fmt.Fprintf(w, "Hold Time:\t%ds\n", p.HoldTime)
	fmt.Fprintf(w, "Uptime:\t%s\n", formatUptime(p.UptimeSeconds))
	fmt.Fprintf(w, "Pending Announce:\t%d\n", p.PendingAnnounce)
	fmt.Fprintf(w, "Pending Withdraw:\t%d\n", p.PendingWithdraw)

	if p.LastError != "" {
		fmt.Fprintf(w, "Last Error:\t%s\n", p.LastError)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// formatUptime renders uptime seconds as a duration, "-" when down.
func formatUptime(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	return (time.Duration(seconds) * time.Second).String()
}

// --- Structured formatters ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data), nil
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal to YAML: %w", err)
	}

	return string(data), nil
}
