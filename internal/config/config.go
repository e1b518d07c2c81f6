// Package config manages haggled daemon configuration using koanf/v2.
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
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete haggled configuration.
type Config struct {
	IPC          IPCConfig          `koanf:"ipc"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Log          LogConfig          `koanf:"log"`
	Datastore    DatastoreConfig    `koanf:"datastore"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Protocol     ProtocolConfig     `koanf:"protocol"`
	Storage      StorageConfig      `koanf:"storage"`
}

// ProtocolConfig holds transport/send tuning for the protocol manager
// (spec.md §4.5).
type ProtocolConfig struct {
	// TCPPort is the port the Ethernet/Wi-Fi server protocol binds on each
	// local interface that comes up (the listener is tied to the interface
	// by name), and the port dialed on peers.
	TCPPort int `koanf:"tcp_port"`
	// SendTimeout bounds how long a single send attempt may block before
	// being reported as SEND_FAILURE.
	SendTimeout time.Duration `koanf:"send_timeout"`
	// ReceiveIdleTimeout closes a receiver instance that has read nothing
	// for this long.
	ReceiveIdleTimeout time.Duration `koanf:"receive_idle_timeout"`
}

// StorageConfig holds the persistent state layout root (spec.md §6): a
// single storage directory per node holding received payload spill files
// (mem-dObj-<n>.do) and the per-application session directories. The data
// store is kept in memory, and the PID file path is set separately by
// IPCConfig.PIDFile.
type StorageConfig struct {
	// Dir is the storage directory root.
	Dir string `koanf:"dir"`
}

// IPCConfig holds the application-facing control endpoint configuration
// (spec.md §4.6).
type IPCConfig struct {
	// Transport selects "udp" (loopback datagram) or "unix" (local-domain
	// datagram socket).
	Transport string `koanf:"transport"`
	// Addr is the UDP loopback address, used when Transport == "udp".
	Addr string `koanf:"addr"`
	// SocketPath is the local-domain socket path, used when
	// Transport == "unix".
	SocketPath string `koanf:"socket_path"`
	// PIDFile is the path haggled writes its process id to on startup and
	// removes on clean shutdown (spec.md §6).
	PIDFile string `koanf:"pid_file"`
	// StorageDir is the per-application storage root under which the ipc
	// manager creates one subdirectory per registered client session
	// (spec.md §6's "persistent state layout"). Populated from
	// Config.Storage.Dir at load time.
	StorageDir string `koanf:"-"`
}

// StorageRoot returns the directory application client storage
// subdirectories are created under, defaulting to "/var/lib/haggle" if
// unset.
func (c IPCConfig) StorageRoot() string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	return "/var/lib/haggle"
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

// DatastoreConfig holds the tuning knobs for the data store and matching
// engine (spec.md §4.3).
type DatastoreConfig struct {
	// FilterReplayLimit is loaded but not read by the data store manager, which bounds match_now replay with its built-in
	// limit of 10.
	FilterReplayLimit int `koanf:"filter_replay_limit"`
	// AgeBatchCap is loaded and validated but not read by the data store
	// manager, which caps each age_dataobjects sweep at its built-in 256
	// objects.
	AgeBatchCap int `koanf:"age_batch_cap"`
	// AgeMinAge is the minimum age before an unmatched object becomes
	// eligible for aging.
	AgeMinAge time.Duration `koanf:"age_min_age"`
	// AgeInterval is how often the aging sweep runs.
	AgeInterval time.Duration `koanf:"age_interval"`
}

// ConnectivityConfig holds local/neighbor discovery tuning (spec.md §4.4).
type ConnectivityConfig struct {
	// ResourcePolicy selects a named beacon interval profile: unlimited,
	// high, medium or low, mapped to {2s, 5s, 10s, 15s}.
	ResourcePolicy string `koanf:"resource_policy"`
	// LossMax is the number of missed beacons tolerated before a neighbor
	// interface is aged out.
	LossMax int `koanf:"loss_max"`
	// BluetoothEnabled toggles the D-Bus/BlueZ discoverer.
	BluetoothEnabled bool `koanf:"bluetooth_enabled"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// resourcePolicyIntervals maps a named resource policy to its beacon
// interval (spec.md §4.4).
var resourcePolicyIntervals = map[string]time.Duration{
	"unlimited": 2 * time.Second,
	"high":      5 * time.Second,
	"medium":    10 * time.Second,
	"low":       15 * time.Second,
}

// BeaconInterval resolves the configured resource policy name to a beacon
// interval, defaulting to the "medium" profile for an unrecognized name.
func (c ConnectivityConfig) BeaconInterval() time.Duration {
	if d, ok := resourcePolicyIntervals[c.ResourcePolicy]; ok {
		return d
	}
	return resourcePolicyIntervals["medium"]
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		IPC: IPCConfig{
			Transport:  "udp",
			Addr:       "127.0.0.1:8787",
			SocketPath: "/run/haggle/haggled.sock",
			PIDFile:    "/run/haggle/haggled.pid",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Datastore: DatastoreConfig{
			FilterReplayLimit: 10,
			AgeBatchCap:       256,
			AgeMinAge:         24 * time.Hour,
			AgeInterval:       10 * time.Minute,
		},
		Connectivity: ConnectivityConfig{
			ResourcePolicy:   "medium",
			LossMax:          3,
			BluetoothEnabled: false,
		},
		Protocol: ProtocolConfig{
			TCPPort:            8787,
			SendTimeout:        30 * time.Second,
			ReceiveIdleTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Dir: "/var/lib/haggle",
		},
	}
	cfg.IPC.StorageDir = cfg.Storage.Dir
	return cfg
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for haggled configuration.
// Variables are named HAGGLE_<section>_<key>, e.g., HAGGLE_IPC_ADDR.
const envPrefix = "HAGGLE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (HAGGLE_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	HAGGLE_IPC_ADDR         -> ipc.addr
//	HAGGLE_METRICS_ADDR     -> metrics.addr
//	HAGGLE_METRICS_PATH     -> metrics.path
//	HAGGLE_LOG_LEVEL        -> log.level
//	HAGGLE_LOG_FORMAT       -> log.format
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
	// HAGGLE_IPC_ADDR -> ipc.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.IPC.StorageDir = cfg.Storage.Dir

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms HAGGLE_IPC_ADDR -> ipc.addr.
// Strips the HAGGLE_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"ipc.transport":                    defaults.IPC.Transport,
		"ipc.addr":                         defaults.IPC.Addr,
		"ipc.socket_path":                  defaults.IPC.SocketPath,
		"ipc.pid_file":                     defaults.IPC.PIDFile,
		"metrics.addr":                     defaults.Metrics.Addr,
		"metrics.path":                     defaults.Metrics.Path,
		"log.level":                        defaults.Log.Level,
		"log.format":                       defaults.Log.Format,
		"datastore.filter_replay_limit":    defaults.Datastore.FilterReplayLimit,
		"datastore.age_batch_cap":          defaults.Datastore.AgeBatchCap,
		"datastore.age_min_age":            defaults.Datastore.AgeMinAge.String(),
		"datastore.age_interval":           defaults.Datastore.AgeInterval.String(),
		"connectivity.resource_policy":     defaults.Connectivity.ResourcePolicy,
		"connectivity.loss_max":            defaults.Connectivity.LossMax,
		"connectivity.bluetooth_enabled":   defaults.Connectivity.BluetoothEnabled,
		"protocol.tcp_port":                defaults.Protocol.TCPPort,
		"protocol.send_timeout":            defaults.Protocol.SendTimeout.String(),
		"protocol.receive_idle_timeout":    defaults.Protocol.ReceiveIdleTimeout.String(),
		"storage.dir":                      defaults.Storage.Dir,
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
	// ErrEmptyIPCAddr indicates the UDP IPC listen address is empty.
	ErrEmptyIPCAddr = errors.New("ipc.addr must not be empty when ipc.transport is udp")

	// ErrEmptySocketPath indicates the local-domain IPC socket path is
	// empty.
	ErrEmptySocketPath = errors.New("ipc.socket_path must not be empty when ipc.transport is unix")

	// ErrInvalidIPCTransport indicates an unrecognized ipc.transport value.
	ErrInvalidIPCTransport = errors.New("ipc.transport must be udp or unix")

	// ErrInvalidResourcePolicy indicates an unrecognized
	// connectivity.resource_policy value.
	ErrInvalidResourcePolicy = errors.New("connectivity.resource_policy must be one of unlimited, high, medium, low")

	// ErrInvalidLossMax indicates the configured loss_max is not positive.
	ErrInvalidLossMax = errors.New("connectivity.loss_max must be >= 1")

	// ErrInvalidAgeBatchCap indicates the configured age batch cap is not
	// positive.
	ErrInvalidAgeBatchCap = errors.New("datastore.age_batch_cap must be >= 1")

	// ErrInvalidTCPPort indicates the configured protocol TCP port is out
	// of range.
	ErrInvalidTCPPort = errors.New("protocol.tcp_port must be between 1 and 65535")

	// ErrEmptyStorageDir indicates the storage directory is empty.
	ErrEmptyStorageDir = errors.New("storage.dir must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	switch cfg.IPC.Transport {
	case "udp":
		if cfg.IPC.Addr == "" {
			return ErrEmptyIPCAddr
		}
	case "unix":
		if cfg.IPC.SocketPath == "" {
			return ErrEmptySocketPath
		}
	default:
		return ErrInvalidIPCTransport
	}

	if _, ok := resourcePolicyIntervals[cfg.Connectivity.ResourcePolicy]; !ok {
		return ErrInvalidResourcePolicy
	}

	if cfg.Connectivity.LossMax < 1 {
		return ErrInvalidLossMax
	}

	if cfg.Datastore.AgeBatchCap < 1 {
		return ErrInvalidAgeBatchCap
	}

	if cfg.Protocol.TCPPort < 1 || cfg.Protocol.TCPPort > 65535 {
		return ErrInvalidTCPPort
	}

	if cfg.Storage.Dir == "" {
		return ErrEmptyStorageDir
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
