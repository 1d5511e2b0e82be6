// gobsp-watcher is a reference monitoring helper for gobsp's per-peer
// api.program hook.
//
// gobsp invokes this binary as a child process and writes one JSON event
// per line to its STDIN: session transitions, raw packet copies, and
// decoded route changes. The watcher logs each event to STDERR and keeps
// a plain-text state file other tooling can poll.
//
// Configuration via environment variables:
//
//	GOBSP_WATCH_PEER  - only handle events for this peer (default: all)
//	GOBSP_STATE_FILE  - path of the state file (default: none)
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	appversion "github.com/nettrail/gobsp/internal/version"
)

// event mirrors the daemon's monitoring line format.
type event struct {
	Type     string   `json:"type"`
	Time     string   `json:"time"`
	Peer     string   `json:"peer"`
	Reason   string   `json:"reason"`
	Category uint8    `json:"category"`
	Announce []string `json:"announce"`
	Withdraw []string `json:"withdraw"`
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Println(appversion.Full("gobsp-watcher"))
		return 0
	}

	watchPeer := os.Getenv("GOBSP_WATCH_PEER")
	stateFile := os.Getenv("GOBSP_STATE_FILE")

	// Helper convention: events arrive on STDIN, logging goes to STDERR.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("gobsp-watcher starting",
		slog.String("watch_peer", watchPeer),
		slog.String("state_file", stateFile),
	)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("unparseable event line", slog.String("error", err.Error()))
			continue
		}
		if watchPeer != "" && ev.Peer != watchPeer {
			continue
		}

		handle(ev, stateFile, logger)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("read stdin", slog.String("error", err.Error()))
		return 1
	}

	// EOF means the daemon closed our stdin: orderly shutdown.
	logger.Info("gobsp-watcher stopped")
	return 0
}

// handle logs one event and mirrors session state to the state file.
func handle(ev event, stateFile string, logger *slog.Logger) {
	switch ev.Type {
	case "connected":
		logger.Info("peer up", slog.String("peer", ev.Peer))
		writeState(stateFile, ev.Peer+" up\n", logger)
	case "down":
		logger.Warn("peer down",
			slog.String("peer", ev.Peer),
			slog.String("reason", ev.Reason),
		)
		writeState(stateFile, ev.Peer+" down\n", logger)
	case "route":
		logger.Info("routes changed",
			slog.String("peer", ev.Peer),
			slog.Int("announced", len(ev.Announce)),
			slog.Int("withdrawn", len(ev.Withdraw)),
		)
	case "send", "receive":
		logger.Debug("packet",
			slog.String("direction", ev.Type),
			slog.String("peer", ev.Peer),
			slog.Uint64("category", uint64(ev.Category)),
		)
	default:
		logger.Debug("unhandled event", slog.String("type", ev.Type))
	}
}

// writeState atomically replaces the state file contents.
func writeState(path, content string, logger *slog.Logger) {
	if path == "" {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		logger.Warn("write state file", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warn("rename state file", slog.String("error", err.Error()))
	}
}
