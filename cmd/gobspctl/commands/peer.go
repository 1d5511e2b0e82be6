package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nettrail/gobsp/internal/reactor"
)

// errPeerNotFound is returned when the daemon has no peer with the
// requested address.
var errPeerNotFound = errors.New("no such peer")

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect BGP peers",
	}

	cmd.AddCommand(peerListCmd())
	cmd.AddCommand(peerShowCmd())

	return cmd
}

// --- peer list ---

func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all BGP peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := client.fetch(cmd.Context())
			if err != nil {
				return err
			}

			out, err := formatPeers(doc.Peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- peer show ---

func peerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <peer-address>",
		Short: "Show details of one BGP peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := findPeer(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := formatPeer(peer, outputFormat)
			if err != nil {
				return fmt.Errorf("format peer: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// findPeer fetches the status document and selects the peer by address.
func findPeer(ctx context.Context, addr string) (reactor.Status, error) {
	doc, err := client.fetch(ctx)
	if err != nil {
		return reactor.Status{}, err
	}

	for _, p := range doc.Peers {
		if p.Peer == addr {
			return p, nil
		}
	}
	return reactor.Status{}, fmt.Errorf("%w: %s", errPeerNotFound, addr)
}
