// Package config manages gobsp daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nettrail/gobsp/internal/bgp"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gobsp configuration.
type Config struct {
	Status  StatusConfig  `koanf:"status"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	BGP     BGPConfig     `koanf:"bgp"`
	Peers   []PeerConfig  `koanf:"peers"`
}

// StatusConfig holds the HTTP status endpoint configuration.
type StatusConfig struct {
	// Addr is the status listen address (e.g., ":8642").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9642").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// BGPConfig holds the local speaker identity shared by every peer.
type BGPConfig struct {
	// RouterID is the local BGP Identifier, an IPv4-form address.
	RouterID string `koanf:"router_id"`

	// LocalAS is the local autonomous system number. Four-octet values
	// are accepted; the OPEN carries AS_TRANS with the real value in a
	// capability (RFC 6793).
	LocalAS uint32 `koanf:"local_as"`

	// HoldTime is the proposed hold time (e.g., "90s"). Zero disables
	// the hold timer.
	HoldTime time.Duration `koanf:"hold_time"`
}

// APIConfig gates what the monitoring helper receives for one peer.
type APIConfig struct {
	// Program is the helper command line, empty for no helper.
	Program string `koanf:"program"`

	// NeighborChanges forwards session up/down transitions.
	NeighborChanges bool `koanf:"neighbor_changes"`

	// SendPackets forwards a copy of every message sent.
	SendPackets bool `koanf:"send_packets"`

	// ReceivePackets forwards a copy of every message received.
	ReceivePackets bool `koanf:"receive_packets"`

	// ReceiveRoutes enables UPDATE body decoding and route forwarding.
	ReceiveRoutes bool `koanf:"receive_routes"`
}

// PeerConfig describes one neighbor from the configuration file.
type PeerConfig struct {
	// Addr is the peer's IP address.
	Addr string `koanf:"addr"`

	// PeerAS is the expected remote autonomous system number.
	PeerAS uint32 `koanf:"peer_as"`

	// LocalAddr pins the source address for the outgoing connection
	// (optional).
	LocalAddr string `koanf:"local_addr"`

	// HoldTime overrides bgp.hold_time for this peer when nonzero.
	HoldTime time.Duration `koanf:"hold_time"`

	// MD5 is the RFC 2385 TCP MD5 signature password (optional).
	MD5 string `koanf:"md5"`

	// TTL is the outgoing TTL, zero for the OS default.
	TTL uint8 `koanf:"ttl"`

	// RequireASN4 rejects peers that do not advertise the four-octet
	// AS capability.
	RequireASN4 bool `koanf:"require_asn4"`

	// Families lists the address families to negotiate, e.g.
	// "ipv4/unicast". Empty means IPv4 unicast only.
	Families []string `koanf:"families"`

	// GroupUpdates batches announcements sharing an attribute set into
	// one UPDATE.
	GroupUpdates bool `koanf:"group_updates"`

	// API configures monitoring for this peer.
	API APIConfig `koanf:"api"`
}

// Key returns the peer's unique identity, its address.
func (pc PeerConfig) Key() string { return pc.Addr }

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// 90 second hold time is the conventional value most implementations
// propose (RFC 4271 suggests "a reasonable maximum").
func DefaultConfig() *Config {
	return &Config{
		Status: StatusConfig{
			Addr: ":8642",
		},
		Metrics: MetricsConfig{
			Addr: ":9642",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		BGP: BGPConfig{
			HoldTime: 90 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gobsp configuration.
// Variables are named GOBSP_<section>_<key>, e.g., GOBSP_STATUS_ADDR.
const envPrefix = "GOBSP_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (GOBSP_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOBSP_STATUS_ADDR   -> status.addr
//	GOBSP_METRICS_ADDR  -> metrics.addr
//	GOBSP_METRICS_PATH  -> metrics.path
//	GOBSP_LOG_LEVEL     -> log.level
//	GOBSP_LOG_FORMAT    -> log.format
//	GOBSP_BGP_LOCAL_AS  -> bgp.local_as
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// GOBSP_STATUS_ADDR -> status.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOBSP_STATUS_ADDR -> status.addr.
// Strips the GOBSP_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)

	// Multi-word leaf keys keep their underscore: only the first
	// separator splits section from key.
	section, key, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + key
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"status.addr":   defaults.Status.Addr,
		"metrics.addr":  defaults.Metrics.Addr,
		"metrics.path":  defaults.Metrics.Path,
		"log.level":     defaults.Log.Level,
		"log.format":    defaults.Log.Format,
		"bgp.hold_time": defaults.BGP.HoldTime.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyStatusAddr indicates the status listen address is empty.
	ErrEmptyStatusAddr = errors.New("status.addr must not be empty")

	// ErrMissingRouterID indicates bgp.router_id is unset.
	ErrMissingRouterID = errors.New("bgp.router_id must be set")

	// ErrInvalidRouterID indicates bgp.router_id is not an IPv4 address.
	ErrInvalidRouterID = errors.New("bgp.router_id must be an IPv4 address")

	// ErrMissingLocalAS indicates bgp.local_as is unset.
	ErrMissingLocalAS = errors.New("bgp.local_as must be set")

	// ErrInvalidPeerAddr indicates a peer has an invalid address.
	ErrInvalidPeerAddr = errors.New("peer address is invalid")

	// ErrMissingPeerAS indicates a peer has no peer_as.
	ErrMissingPeerAS = errors.New("peer_as must be set")

	// ErrDuplicatePeer indicates two peers share an address.
	ErrDuplicatePeer = errors.New("duplicate peer address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Status.Addr == "" {
		return ErrEmptyStatusAddr
	}

	if cfg.BGP.RouterID == "" {
		return ErrMissingRouterID
	}
	rid, err := netip.ParseAddr(cfg.BGP.RouterID)
	if err != nil || !rid.Is4() {
		return fmt.Errorf("bgp.router_id %q: %w", cfg.BGP.RouterID, ErrInvalidRouterID)
	}

	if cfg.BGP.LocalAS == 0 {
		return ErrMissingLocalAS
	}

	return validatePeers(cfg.Peers)
}

// validatePeers checks each declarative peer entry for correctness.
func validatePeers(peers []PeerConfig) error {
	seen := make(map[string]struct{}, len(peers))

	for i, pc := range peers {
		if _, err := netip.ParseAddr(pc.Addr); err != nil {
			return fmt.Errorf("peers[%d] addr %q: %w", i, pc.Addr, ErrInvalidPeerAddr)
		}

		if pc.PeerAS == 0 {
			return fmt.Errorf("peers[%d]: %w", i, ErrMissingPeerAS)
		}

		if pc.LocalAddr != "" {
			if _, err := netip.ParseAddr(pc.LocalAddr); err != nil {
				return fmt.Errorf("peers[%d] local_addr %q: %w", i, pc.LocalAddr, ErrInvalidPeerAddr)
			}
		}

		for _, f := range pc.Families {
			if _, err := bgp.ParseFamily(f); err != nil {
				return fmt.Errorf("peers[%d]: %w", i, err)
			}
		}

		key := pc.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("peers[%d] addr %q: %w", i, key, ErrDuplicatePeer)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Neighbor Conversion
// -------------------------------------------------------------------------

// Neighbors converts the validated configuration into the session
// engine's neighbor records, applying the bgp section defaults to each
// peer.
func (c *Config) Neighbors() ([]*bgp.Neighbor, error) {
	neighbors := make([]*bgp.Neighbor, 0, len(c.Peers))
	for i, pc := range c.Peers {
		n, err := c.neighbor(pc)
		if err != nil {
			return nil, fmt.Errorf("peers[%d]: %w", i, err)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

func (c *Config) neighbor(pc PeerConfig) (*bgp.Neighbor, error) {
	addr, err := netip.ParseAddr(pc.Addr)
	if err != nil {
		return nil, fmt.Errorf("addr %q: %w", pc.Addr, ErrInvalidPeerAddr)
	}

	n := &bgp.Neighbor{
		Addr:         addr,
		LocalAS:      c.BGP.LocalAS,
		PeerAS:       pc.PeerAS,
		HoldTime:     c.BGP.HoldTime,
		MD5:          pc.MD5,
		TTL:          pc.TTL,
		RequireASN4:  pc.RequireASN4,
		GroupUpdates: pc.GroupUpdates,
		API: bgp.APIOptions{
			Program:         pc.API.Program,
			NeighborChanges: pc.API.NeighborChanges,
			SendPackets:     pc.API.SendPackets,
			ReceivePackets:  pc.API.ReceivePackets,
			ReceiveRoutes:   pc.API.ReceiveRoutes,
		},
	}

	n.RouterID, _ = netip.ParseAddr(c.BGP.RouterID)

	if pc.LocalAddr != "" {
		n.LocalAddr, err = netip.ParseAddr(pc.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("local_addr %q: %w", pc.LocalAddr, ErrInvalidPeerAddr)
		}
	}
	if pc.HoldTime != 0 {
		n.HoldTime = pc.HoldTime
	}

	if len(pc.Families) == 0 {
		n.Families = []bgp.Family{bgp.FamilyIPv4Unicast}
	}
	for _, f := range pc.Families {
		fam, err := bgp.ParseFamily(f)
		if err != nil {
			return nil, err
		}
		n.Families = append(n.Families, fam)
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
