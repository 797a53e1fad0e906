// Package config manages the FPR node configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete fprd node configuration.
type Config struct {
	Node     NodeConfig    `koanf:"node"`
	Control  ControlConfig `koanf:"control"`
	Metrics  MetricsConfig `koanf:"metrics"`
	Log      LogConfig     `koanf:"log"`
	Protocol ProtoConfig   `koanf:"protocol"`
}

// ControlConfig holds the local control API endpoint used by fprctl.
type ControlConfig struct {
	// Addr is the HTTP listen address for the control API (e.g., ":9101").
	Addr string `koanf:"addr"`
}

// NodeConfig identifies this node and its starting role.
type NodeConfig struct {
	// Name is the display name advertised in ConnectInfo.
	Name string `koanf:"name"`
	// MAC is this node's link-layer address, colon-hex ("02:00:00:00:00:01").
	MAC string `koanf:"mac"`
	// Mode is the starting role: "client", "host", or "extender".
	Mode string `koanf:"mode"`
	// Channel is the radio channel passed to fpr.InitOptions.
	Channel uint8 `koanf:"channel"`
	// LowPower scales the broadcast/keepalive/reconnect intervals.
	LowPower bool `koanf:"low_power"`
	// Transport selects the link-layer driver: "loopback" (in-process bus,
	// for tests and single-host demos) or "udp" (broadcast UDP datagrams
	// addressed by a synthetic MAC, for multi-process demos on one LAN).
	Transport string `koanf:"transport"`
	// BusAddr is the loopback bus name (transport="loopback") or the UDP
	// broadcast address (transport="udp", e.g. "255.255.255.255:7850").
	BusAddr string `koanf:"bus_addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
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

// ProtoConfig holds the default FPR protocol parameters.
type ProtoConfig struct {
	// QueueCapacity bounds each peer's receive queue.
	QueueCapacity int `koanf:"queue_capacity"`
	// DefaultMaxHops is the TTL assigned when a caller does not specify one.
	DefaultMaxHops uint8 `koanf:"default_max_hops"`
	// BroadcastInterval is the HOST presence beacon period.
	BroadcastInterval time.Duration `koanf:"broadcast_interval"`
	// KeepaliveInterval is the CLIENT keepalive/reconnect scan period.
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
	// ReconnectTimeout is the silence duration after which a CONNECTED peer
	// is demoted back to DISCOVERED.
	ReconnectTimeout time.Duration `koanf:"reconnect_timeout"`
	// LowPowerScale multiplies the intervals above when node.low_power is set.
	LowPowerScale int `koanf:"low_power_scale"`
	// MaxPeers bounds how many clients a HOST admits concurrently.
	MaxPeers int `koanf:"max_peers"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the reference protocol
// constants.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Mode:      "client",
			Transport: "loopback",
			BusAddr:   "fpr0",
		},
		Control: ControlConfig{
			Addr: ":9101",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Protocol: ProtoConfig{
			QueueCapacity:     10,
			DefaultMaxHops:    10,
			BroadcastInterval: 3 * time.Second,
			KeepaliveInterval: 5 * time.Second,
			ReconnectTimeout:  15 * time.Second,
			LowPowerScale:     4,
			MaxPeers:          32,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for fprd configuration.
// Variables are named FPR_<section>_<key>, e.g., FPR_NODE_NAME.
const envPrefix = "FPR_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (FPR_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	FPR_NODE_NAME        -> node.name
//	FPR_NODE_MAC         -> node.mac
//	FPR_NODE_MODE        -> node.mode
//	FPR_METRICS_ADDR     -> metrics.addr
//	FPR_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

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

// envKeyMapper transforms FPR_NODE_NAME -> node.name.
// Strips the FPR_ prefix, lowercases, and replaces _ with.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"node.name":                  defaults.Node.Name,
		"node.mac":                   defaults.Node.MAC,
		"node.mode":                  defaults.Node.Mode,
		"node.channel":               defaults.Node.Channel,
		"node.low_power":             defaults.Node.LowPower,
		"node.transport":             defaults.Node.Transport,
		"node.bus_addr":              defaults.Node.BusAddr,
		"control.addr":               defaults.Control.Addr,
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"protocol.queue_capacity":    defaults.Protocol.QueueCapacity,
		"protocol.default_max_hops":  defaults.Protocol.DefaultMaxHops,
		"protocol.broadcast_interval": defaults.Protocol.BroadcastInterval.String(),
		"protocol.keepalive_interval": defaults.Protocol.KeepaliveInterval.String(),
		"protocol.reconnect_timeout":  defaults.Protocol.ReconnectTimeout.String(),
		"protocol.low_power_scale":    defaults.Protocol.LowPowerScale,
		"protocol.max_peers":          defaults.Protocol.MaxPeers,
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
	// ErrEmptyNodeName indicates the node name is empty.
	ErrEmptyNodeName = errors.New("node.name must not be empty")

	// ErrInvalidNodeMAC indicates node.mac could not be parsed.
	ErrInvalidNodeMAC = errors.New("node.mac is invalid")

	// ErrInvalidNodeMode indicates an unrecognized node mode.
	ErrInvalidNodeMode = errors.New("node.mode must be client, host, or extender")

	// ErrInvalidTransport indicates an unrecognized transport.
	ErrInvalidTransport = errors.New("node.transport must be loopback or udp")

	// ErrInvalidMaxHops indicates the default max hops is zero.
	ErrInvalidMaxHops = errors.New("protocol.default_max_hops must be >= 1")

	// ErrInvalidQueueCapacity indicates the queue capacity is non-positive.
	ErrInvalidQueueCapacity = errors.New("protocol.queue_capacity must be > 0")
)

// ValidNodeModes lists the recognized node.mode strings.
var ValidNodeModes = map[string]bool{
	"client":   true,
	"host":     true,
	"extender": true,
}

// ValidTransports lists the recognized node.transport strings.
var ValidTransports = map[string]bool{
	"loopback": true,
	"udp":      true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Node.Name == "" {
		return ErrEmptyNodeName
	}

	if cfg.Node.Mode != "" && !ValidNodeModes[cfg.Node.Mode] {
		return fmt.Errorf("node.mode %q: %w", cfg.Node.Mode, ErrInvalidNodeMode)
	}

	if cfg.Node.Transport != "" && !ValidTransports[cfg.Node.Transport] {
		return fmt.Errorf("node.transport %q: %w", cfg.Node.Transport, ErrInvalidTransport)
	}

	if cfg.Node.MAC != "" {
		if _, err := fpr.ParseMAC(cfg.Node.MAC); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidNodeMAC, err)
		}
	}

	if cfg.Protocol.DefaultMaxHops < 1 {
		return ErrInvalidMaxHops
	}

	if cfg.Protocol.QueueCapacity <= 0 {
		return ErrInvalidQueueCapacity
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
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
