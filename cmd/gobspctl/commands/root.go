package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nettrail/gobsp/internal/reactor"
)

var (
	// client talks to the daemon's status endpoint, initialized in
	// PersistentPreRunE.
	client *statusClient

	// outputFormat controls the output format for all commands
	// (table, json, or yaml).
	outputFormat string

	// serverAddr is the daemon status address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for gobspctl.
var rootCmd = &cobra.Command{
	Use:   "gobspctl",
	Short: "CLI client for the gobsp daemon",
	Long:  "gobspctl inspects the gobsp daemon through its HTTP status endpoint.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = &statusClient{
			baseURL: "http://" + serverAddr,
			http:    &http.Client{Timeout: 10 * time.Second},
		}

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8642",
		"gobsp daemon status address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(peerCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// statusDocument mirrors the daemon's /status response.
type statusDocument struct {
	Version string           `json:"version"`
	Peers   []reactor.Status `json:"peers"`
}

// statusClient fetches the daemon's status document.
type statusClient struct {
	baseURL string
	http    *http.Client
}

func (c *statusClient) fetch(ctx context.Context) (*statusDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: unexpected HTTP %d", resp.StatusCode)
	}

	doc := &statusDocument{}
	if err := json.NewDecoder(resp.Body).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return doc, nil
}
