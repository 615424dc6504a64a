// Package config assembles the daemon configuration from command line flags
// and an optional YAML file. Flags that were explicitly set win over the
// file; everything else falls back to defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eventspool/eventspool/internal/auth"
	"github.com/eventspool/eventspool/internal/compression"
	"github.com/eventspool/eventspool/internal/queue"
	"github.com/eventspool/eventspool/internal/receiver"
	"github.com/eventspool/eventspool/internal/retry"
	"github.com/eventspool/eventspool/internal/store"
	"github.com/eventspool/eventspool/internal/telemetry"
	tlspkg "github.com/eventspool/eventspool/internal/tls"
	"github.com/eventspool/eventspool/internal/transport"
)

// version is set at build time via -ldflags.
var version = "dev"

// Version returns the build version string.
func Version() string {
	return version
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("eventspool version %s\n", version)
}

// Config holds the daemon configuration.
type Config struct {
	// Service identity
	ServiceName string

	// Ingest API settings
	IngestListenAddr   string
	IngestMaxBodyBytes int64

	// Ingest TLS settings
	IngestTLSEnabled    bool
	IngestTLSCertFile   string
	IngestTLSKeyFile    string
	IngestTLSCAFile     string
	IngestTLSClientAuth bool

	// Ingest Auth settings
	IngestAuthEnabled       bool
	IngestAuthBearerToken   string
	IngestAuthBasicUsername string
	IngestAuthBasicPassword string

	// Exporter settings
	ExporterEndpoint    string
	ExporterProtocol    string
	ExporterInsecure    bool
	ExporterTimeout     time.Duration
	ExporterDefaultPath string

	// Exporter TLS settings
	ExporterTLSEnabled            bool
	ExporterTLSCertFile           string
	ExporterTLSKeyFile            string
	ExporterTLSCAFile             string
	ExporterTLSInsecureSkipVerify bool
	ExporterTLSServerName         string

	// Exporter Auth settings
	ExporterAuthBearerToken   string
	ExporterAuthBasicUsername string
	ExporterAuthBasicPassword string
	ExporterAuthHeaders       string

	// Exporter compression settings
	ExporterCompression      string
	ExporterCompressionLevel int

	// Exporter HTTP client settings
	ExporterMaxIdleConns         int
	ExporterMaxIdleConnsPerHost  int
	ExporterMaxConnsPerHost      int
	ExporterIdleConnTimeout      time.Duration
	ExporterDisableKeepAlives    bool
	ExporterForceHTTP2           bool
	ExporterHTTP2ReadIdleTimeout time.Duration
	ExporterHTTP2PingTimeout     time.Duration

	// Spool storage settings
	StoreBackend     string
	StoreDir         string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisKeyPrefix   string
	RedisDialTimeout time.Duration
	RedisReadTimeout time.Duration

	// Spool sizing settings
	QueueMaxSize          int
	QueueMaxRetries       int
	QueueWarningThreshold int

	// Retry settings
	RetryInterval  time.Duration
	RetryBatchSize int

	// Stats settings
	StatsListenAddr  string
	StatsLogInterval time.Duration

	// Self-telemetry settings
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryTimeout         time.Duration
	TelemetryPushInterval    time.Duration
	TelemetryCompression     string
	TelemetryShutdownTimeout time.Duration
	TelemetryHeaders         map[string]string

	// Memory limit settings
	MemoryLimitRatio float64

	// Logging settings
	LogResource string

	// Flags
	ConfigFile  string
	ShowVersion bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:                 "eventspool",
		IngestListenAddr:            ":9180",
		ExporterEndpoint:            "localhost:4317",
		ExporterProtocol:            "grpc",
		ExporterInsecure:            true,
		ExporterTimeout:             30 * time.Second,
		ExporterDefaultPath:         "/v1/logs",
		ExporterCompression:         "none",
		ExporterMaxIdleConns:        100,
		ExporterMaxIdleConnsPerHost: 100,
		ExporterIdleConnTimeout:     90 * time.Second,
		StoreBackend:                "file",
		StoreDir:                    "./spool",
		RedisKeyPrefix:              "eventspool",
		RedisDialTimeout:            5 * time.Second,
		RedisReadTimeout:            3 * time.Second,
		QueueMaxSize:                1000,
		QueueMaxRetries:             5,
		QueueWarningThreshold:       100,
		RetryInterval:               30 * time.Second,
		RetryBatchSize:              10,
		StatsListenAddr:             ":9190",
		StatsLogInterval:            60 * time.Second,
		TelemetryProtocol:           "grpc",
		TelemetryInsecure:           true,
		TelemetryPushInterval:       30 * time.Second,
		TelemetryShutdownTimeout:    5 * time.Second,
		MemoryLimitRatio:            0.9,
	}
}

// ParseFlags parses command line flags, overlays the YAML file named by
// -config if any, and re-applies explicitly set flags on top.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to YAML configuration file")
	flag.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "Service name reported in logs, delivery resource, and self-telemetry")

	// Ingest flags
	flag.StringVar(&cfg.IngestListenAddr, "ingest-listen", cfg.IngestListenAddr, "Ingest API listen address")
	flag.Int64Var(&cfg.IngestMaxBodyBytes, "ingest-max-body-size", cfg.IngestMaxBodyBytes, "Maximum ingest request body size in bytes (0 = no limit)")

	flag.BoolVar(&cfg.IngestTLSEnabled, "ingest-tls-enabled", cfg.IngestTLSEnabled, "Enable TLS for the ingest API")
	flag.StringVar(&cfg.IngestTLSCertFile, "ingest-tls-cert", cfg.IngestTLSCertFile, "Path to ingest TLS certificate file")
	flag.StringVar(&cfg.IngestTLSKeyFile, "ingest-tls-key", cfg.IngestTLSKeyFile, "Path to ingest TLS private key file")
	flag.StringVar(&cfg.IngestTLSCAFile, "ingest-tls-ca", cfg.IngestTLSCAFile, "Path to CA certificate for client verification (mTLS)")
	flag.BoolVar(&cfg.IngestTLSClientAuth, "ingest-tls-client-auth", cfg.IngestTLSClientAuth, "Require client certificates (mTLS)")

	flag.BoolVar(&cfg.IngestAuthEnabled, "ingest-auth-enabled", cfg.IngestAuthEnabled, "Enable authentication for the ingest API")
	flag.StringVar(&cfg.IngestAuthBearerToken, "ingest-auth-bearer-token", cfg.IngestAuthBearerToken, "Bearer token for ingest authentication")
	flag.StringVar(&cfg.IngestAuthBasicUsername, "ingest-auth-basic-username", cfg.IngestAuthBasicUsername, "Basic auth username for the ingest API")
	flag.StringVar(&cfg.IngestAuthBasicPassword, "ingest-auth-basic-password", cfg.IngestAuthBasicPassword, "Basic auth password for the ingest API")

	// Exporter flags
	flag.StringVar(&cfg.ExporterEndpoint, "exporter-endpoint", cfg.ExporterEndpoint, "Delivery endpoint (host:port for gRPC, URL for HTTP)")
	flag.StringVar(&cfg.ExporterProtocol, "exporter-protocol", cfg.ExporterProtocol, "Delivery protocol: grpc or http")
	flag.BoolVar(&cfg.ExporterInsecure, "exporter-insecure", cfg.ExporterInsecure, "Use insecure connection (no TLS) for delivery")
	flag.DurationVar(&cfg.ExporterTimeout, "exporter-timeout", cfg.ExporterTimeout, "Per-send request timeout")
	flag.StringVar(&cfg.ExporterDefaultPath, "exporter-default-path", cfg.ExporterDefaultPath, "HTTP path appended when the endpoint has none")

	flag.BoolVar(&cfg.ExporterTLSEnabled, "exporter-tls-enabled", cfg.ExporterTLSEnabled, "Enable custom TLS config for delivery")
	flag.StringVar(&cfg.ExporterTLSCertFile, "exporter-tls-cert", cfg.ExporterTLSCertFile, "Path to client certificate file (mTLS)")
	flag.StringVar(&cfg.ExporterTLSKeyFile, "exporter-tls-key", cfg.ExporterTLSKeyFile, "Path to client private key file (mTLS)")
	flag.StringVar(&cfg.ExporterTLSCAFile, "exporter-tls-ca", cfg.ExporterTLSCAFile, "Path to CA certificate for server verification")
	flag.BoolVar(&cfg.ExporterTLSInsecureSkipVerify, "exporter-tls-skip-verify", cfg.ExporterTLSInsecureSkipVerify, "Skip TLS certificate verification")
	flag.StringVar(&cfg.ExporterTLSServerName, "exporter-tls-server-name", cfg.ExporterTLSServerName, "Override server name for TLS verification")

	flag.StringVar(&cfg.ExporterAuthBearerToken, "exporter-auth-bearer-token", cfg.ExporterAuthBearerToken, "Bearer token for delivery authentication")
	flag.StringVar(&cfg.ExporterAuthBasicUsername, "exporter-auth-basic-username", cfg.ExporterAuthBasicUsername, "Basic auth username for delivery")
	flag.StringVar(&cfg.ExporterAuthBasicPassword, "exporter-auth-basic-password", cfg.ExporterAuthBasicPassword, "Basic auth password for delivery")
	flag.StringVar(&cfg.ExporterAuthHeaders, "exporter-auth-headers", cfg.ExporterAuthHeaders, "Custom delivery headers (format: key1=value1,key2=value2)")

	flag.StringVar(&cfg.ExporterCompression, "exporter-compression", cfg.ExporterCompression, "Delivery compression: none, gzip, zstd, snappy, zlib, deflate, lz4")
	flag.IntVar(&cfg.ExporterCompressionLevel, "exporter-compression-level", cfg.ExporterCompressionLevel, "Compression level (algorithm-specific, 0 for default)")

	flag.IntVar(&cfg.ExporterMaxIdleConns, "exporter-max-idle-conns", cfg.ExporterMaxIdleConns, "Maximum idle connections across all hosts")
	flag.IntVar(&cfg.ExporterMaxIdleConnsPerHost, "exporter-max-idle-conns-per-host", cfg.ExporterMaxIdleConnsPerHost, "Maximum idle connections per host")
	flag.IntVar(&cfg.ExporterMaxConnsPerHost, "exporter-max-conns-per-host", cfg.ExporterMaxConnsPerHost, "Maximum total connections per host (0 = no limit)")
	flag.DurationVar(&cfg.ExporterIdleConnTimeout, "exporter-idle-conn-timeout", cfg.ExporterIdleConnTimeout, "Idle connection timeout")
	flag.BoolVar(&cfg.ExporterDisableKeepAlives, "exporter-disable-keep-alives", cfg.ExporterDisableKeepAlives, "Disable HTTP keep-alives")
	flag.BoolVar(&cfg.ExporterForceHTTP2, "exporter-force-http2", cfg.ExporterForceHTTP2, "Force HTTP/2 for non-TLS connections")
	flag.DurationVar(&cfg.ExporterHTTP2ReadIdleTimeout, "exporter-http2-read-idle-timeout", cfg.ExporterHTTP2ReadIdleTimeout, "HTTP/2 read idle timeout for health checks")
	flag.DurationVar(&cfg.ExporterHTTP2PingTimeout, "exporter-http2-ping-timeout", cfg.ExporterHTTP2PingTimeout, "HTTP/2 ping timeout")

	// Spool flags
	flag.StringVar(&cfg.StoreBackend, "spool-store", cfg.StoreBackend, "Spool storage backend: memory, file, or redis")
	flag.StringVar(&cfg.StoreDir, "spool-dir", cfg.StoreDir, "Spool storage directory (file backend)")
	flag.StringVar(&cfg.RedisAddr, "spool-redis-addr", cfg.RedisAddr, "Redis address (redis backend)")
	flag.StringVar(&cfg.RedisPassword, "spool-redis-password", cfg.RedisPassword, "Redis password")
	flag.IntVar(&cfg.RedisDB, "spool-redis-db", cfg.RedisDB, "Redis database number")
	flag.StringVar(&cfg.RedisKeyPrefix, "spool-redis-key-prefix", cfg.RedisKeyPrefix, "Prefix for spool keys in Redis")
	flag.DurationVar(&cfg.RedisDialTimeout, "spool-redis-dial-timeout", cfg.RedisDialTimeout, "Redis dial timeout")
	flag.DurationVar(&cfg.RedisReadTimeout, "spool-redis-read-timeout", cfg.RedisReadTimeout, "Redis read timeout")

	flag.IntVar(&cfg.QueueMaxSize, "spool-max-size", cfg.QueueMaxSize, "Maximum spooled events; the oldest is evicted beyond this")
	flag.IntVar(&cfg.QueueMaxRetries, "spool-max-retries", cfg.QueueMaxRetries, "Delivery attempts per event before it is dropped")
	flag.IntVar(&cfg.QueueWarningThreshold, "spool-warning-threshold", cfg.QueueWarningThreshold, "Spool size at which the queue reports backed-up")

	// Retry flags
	flag.DurationVar(&cfg.RetryInterval, "retry-interval", cfg.RetryInterval, "Period between dispatch cycles")
	flag.IntVar(&cfg.RetryBatchSize, "retry-batch-size", cfg.RetryBatchSize, "Concurrent sends per dispatch batch")

	// Stats flags
	flag.StringVar(&cfg.StatsListenAddr, "stats-listen", cfg.StatsListenAddr, "Stats/metrics/health HTTP listen address")
	flag.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", cfg.StatsLogInterval, "Interval for periodic stats log lines (0 = disabled)")

	// Self-telemetry flags
	flag.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for self-telemetry (empty = disabled)")
	flag.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Self-telemetry protocol: grpc or http")
	flag.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use insecure connection for self-telemetry")
	flag.DurationVar(&cfg.TelemetryTimeout, "telemetry-timeout", cfg.TelemetryTimeout, "Per-export timeout for self-telemetry (0 = SDK default)")
	flag.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Metric push interval for self-telemetry")
	flag.StringVar(&cfg.TelemetryCompression, "telemetry-compression", cfg.TelemetryCompression, "Self-telemetry compression: gzip or empty")
	flag.DurationVar(&cfg.TelemetryShutdownTimeout, "telemetry-shutdown-timeout", cfg.TelemetryShutdownTimeout, "Self-telemetry flush grace period on shutdown")

	// Memory limit flags
	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory to use for GOMEMLIMIT (0.0-1.0)")

	// Logging flags
	flag.StringVar(&cfg.LogResource, "log-resource", cfg.LogResource, "Resource attributes attached to every log line (format: key1=value1,key2=value2)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	flag.Parse()

	if cfg.ConfigFile != "" {
		yamlCfg, err := LoadYAML(cfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file %s: %v\n", cfg.ConfigFile, err)
			os.Exit(1)
		}
		file := cfg.ConfigFile
		cfg = yamlCfg.ToConfig()
		cfg.ConfigFile = file
		applyFlagOverrides(cfg)
	}

	return cfg
}

// applyFlagOverrides re-applies explicitly set CLI flags over the YAML
// overlay. The flag values still live in the struct that ParseFlags bound
// them to, so reading f.Value here sees what the command line said.
func applyFlagOverrides(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "service-name":
			cfg.ServiceName = f.Value.String()
		case "ingest-listen":
			cfg.IngestListenAddr = f.Value.String()
		case "ingest-max-body-size":
			cfg.IngestMaxBodyBytes = flagInt64(f)
		case "ingest-tls-enabled":
			cfg.IngestTLSEnabled = f.Value.String() == "true"
		case "ingest-tls-cert":
			cfg.IngestTLSCertFile = f.Value.String()
		case "ingest-tls-key":
			cfg.IngestTLSKeyFile = f.Value.String()
		case "ingest-tls-ca":
			cfg.IngestTLSCAFile = f.Value.String()
		case "ingest-tls-client-auth":
			cfg.IngestTLSClientAuth = f.Value.String() == "true"
		case "ingest-auth-enabled":
			cfg.IngestAuthEnabled = f.Value.String() == "true"
		case "ingest-auth-bearer-token":
			cfg.IngestAuthBearerToken = f.Value.String()
		case "ingest-auth-basic-username":
			cfg.IngestAuthBasicUsername = f.Value.String()
		case "ingest-auth-basic-password":
			cfg.IngestAuthBasicPassword = f.Value.String()
		case "exporter-endpoint":
			cfg.ExporterEndpoint = f.Value.String()
		case "exporter-protocol":
			cfg.ExporterProtocol = f.Value.String()
		case "exporter-insecure":
			cfg.ExporterInsecure = f.Value.String() == "true"
		case "exporter-timeout":
			cfg.ExporterTimeout = flagDuration(f)
		case "exporter-default-path":
			cfg.ExporterDefaultPath = f.Value.String()
		case "exporter-tls-enabled":
			cfg.ExporterTLSEnabled = f.Value.String() == "true"
		case "exporter-tls-cert":
			cfg.ExporterTLSCertFile = f.Value.String()
		case "exporter-tls-key":
			cfg.ExporterTLSKeyFile = f.Value.String()
		case "exporter-tls-ca":
			cfg.ExporterTLSCAFile = f.Value.String()
		case "exporter-tls-skip-verify":
			cfg.ExporterTLSInsecureSkipVerify = f.Value.String() == "true"
		case "exporter-tls-server-name":
			cfg.ExporterTLSServerName = f.Value.String()
		case "exporter-auth-bearer-token":
			cfg.ExporterAuthBearerToken = f.Value.String()
		case "exporter-auth-basic-username":
			cfg.ExporterAuthBasicUsername = f.Value.String()
		case "exporter-auth-basic-password":
			cfg.ExporterAuthBasicPassword = f.Value.String()
		case "exporter-auth-headers":
			cfg.ExporterAuthHeaders = f.Value.String()
		case "exporter-compression":
			cfg.ExporterCompression = f.Value.String()
		case "exporter-compression-level":
			cfg.ExporterCompressionLevel = flagInt(f)
		case "exporter-max-idle-conns":
			cfg.ExporterMaxIdleConns = flagInt(f)
		case "exporter-max-idle-conns-per-host":
			cfg.ExporterMaxIdleConnsPerHost = flagInt(f)
		case "exporter-max-conns-per-host":
			cfg.ExporterMaxConnsPerHost = flagInt(f)
		case "exporter-idle-conn-timeout":
			cfg.ExporterIdleConnTimeout = flagDuration(f)
		case "exporter-disable-keep-alives":
			cfg.ExporterDisableKeepAlives = f.Value.String() == "true"
		case "exporter-force-http2":
			cfg.ExporterForceHTTP2 = f.Value.String() == "true"
		case "exporter-http2-read-idle-timeout":
			cfg.ExporterHTTP2ReadIdleTimeout = flagDuration(f)
		case "exporter-http2-ping-timeout":
			cfg.ExporterHTTP2PingTimeout = flagDuration(f)
		case "spool-store":
			cfg.StoreBackend = f.Value.String()
		case "spool-dir":
			cfg.StoreDir = f.Value.String()
		case "spool-redis-addr":
			cfg.RedisAddr = f.Value.String()
		case "spool-redis-password":
			cfg.RedisPassword = f.Value.String()
		case "spool-redis-db":
			cfg.RedisDB = flagInt(f)
		case "spool-redis-key-prefix":
			cfg.RedisKeyPrefix = f.Value.String()
		case "spool-redis-dial-timeout":
			cfg.RedisDialTimeout = flagDuration(f)
		case "spool-redis-read-timeout":
			cfg.RedisReadTimeout = flagDuration(f)
		case "spool-max-size":
			cfg.QueueMaxSize = flagInt(f)
		case "spool-max-retries":
			cfg.QueueMaxRetries = flagInt(f)
		case "spool-warning-threshold":
			cfg.QueueWarningThreshold = flagInt(f)
		case "retry-interval":
			cfg.RetryInterval = flagDuration(f)
		case "retry-batch-size":
			cfg.RetryBatchSize = flagInt(f)
		case "stats-listen":
			cfg.StatsListenAddr = f.Value.String()
		case "stats-log-interval":
			cfg.StatsLogInterval = flagDuration(f)
		case "telemetry-endpoint":
			cfg.TelemetryEndpoint = f.Value.String()
		case "telemetry-protocol":
			cfg.TelemetryProtocol = f.Value.String()
		case "telemetry-insecure":
			cfg.TelemetryInsecure = f.Value.String() == "true"
		case "telemetry-timeout":
			cfg.TelemetryTimeout = flagDuration(f)
		case "telemetry-push-interval":
			cfg.TelemetryPushInterval = flagDuration(f)
		case "telemetry-compression":
			cfg.TelemetryCompression = f.Value.String()
		case "telemetry-shutdown-timeout":
			cfg.TelemetryShutdownTimeout = flagDuration(f)
		case "memory-limit-ratio":
			cfg.MemoryLimitRatio = flagFloat64(f)
		case "log-resource":
			cfg.LogResource = f.Value.String()
		case "version", "v":
			cfg.ShowVersion = f.Value.String() == "true"
		}
	})
}

func flagInt(f *flag.Flag) int {
	if v, ok := f.Value.(flag.Getter); ok {
		if i, ok := v.Get().(int); ok {
			return i
		}
	}
	return 0
}

func flagInt64(f *flag.Flag) int64 {
	if v, ok := f.Value.(flag.Getter); ok {
		if i, ok := v.Get().(int64); ok {
			return i
		}
	}
	return 0
}

func flagFloat64(f *flag.Flag) float64 {
	if v, ok := f.Value.(flag.Getter); ok {
		if fl, ok := v.Get().(float64); ok {
			return fl
		}
	}
	return 0
}

func flagDuration(f *flag.Flag) time.Duration {
	d, err := time.ParseDuration(f.Value.String())
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the configuration and returns one error naming every
// problem found, keyed by the flag that controls it.
func (c *Config) Validate() error {
	var issues []string

	switch c.StoreBackend {
	case "memory", "file", "redis":
	default:
		issues = append(issues, fmt.Sprintf("spool-store: unknown backend %q (expected memory, file, or redis)", c.StoreBackend))
	}
	if c.StoreBackend == "file" && c.StoreDir == "" {
		issues = append(issues, "spool-dir: required when spool-store is file")
	}
	if c.StoreBackend == "redis" && c.RedisAddr == "" {
		issues = append(issues, "spool-redis-addr: required when spool-store is redis")
	}

	if c.QueueMaxSize <= 0 {
		issues = append(issues, "spool-max-size: must be positive")
	}
	if c.QueueMaxRetries < 1 {
		issues = append(issues, "spool-max-retries: must be at least 1")
	}
	if c.QueueWarningThreshold < 0 {
		issues = append(issues, "spool-warning-threshold: must not be negative")
	}
	if c.QueueMaxSize > 0 && c.QueueWarningThreshold > c.QueueMaxSize {
		issues = append(issues, "spool-warning-threshold: exceeds spool-max-size, the warning could never fire")
	}

	if c.RetryInterval <= 0 {
		issues = append(issues, "retry-interval: must be positive")
	}
	if c.RetryBatchSize <= 0 {
		issues = append(issues, "retry-batch-size: must be positive")
	}

	if c.ExporterEndpoint == "" {
		issues = append(issues, "exporter-endpoint: must not be empty")
	}
	switch c.ExporterProtocol {
	case "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("exporter-protocol: unknown protocol %q (expected grpc or http)", c.ExporterProtocol))
	}
	if _, err := compression.ParseType(c.ExporterCompression); err != nil {
		issues = append(issues, fmt.Sprintf("exporter-compression: %v", err))
	}

	if c.IngestTLSEnabled && (c.IngestTLSCertFile == "" || c.IngestTLSKeyFile == "") {
		issues = append(issues, "ingest-tls-cert, ingest-tls-key: required when ingest-tls-enabled is set")
	}
	if c.IngestAuthEnabled && c.IngestAuthBearerToken == "" && c.IngestAuthBasicUsername == "" {
		issues = append(issues, "ingest-auth-enabled: set but no bearer token or basic auth username configured")
	}
	if c.IngestMaxBodyBytes < 0 {
		issues = append(issues, "ingest-max-body-size: must not be negative")
	}

	if c.TelemetryEndpoint != "" {
		switch c.TelemetryProtocol {
		case "grpc", "http":
		default:
			issues = append(issues, fmt.Sprintf("telemetry-protocol: unknown protocol %q (expected grpc or http)", c.TelemetryProtocol))
		}
		if c.TelemetryCompression != "" && c.TelemetryCompression != "gzip" {
			issues = append(issues, "telemetry-compression: only gzip is supported")
		}
	}

	if c.MemoryLimitRatio <= 0 || c.MemoryLimitRatio > 1 {
		issues = append(issues, "memory-limit-ratio: must be in (0.0, 1.0]")
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

// IngestTLSConfig returns the TLS configuration for the ingest API.
func (c *Config) IngestTLSConfig() tlspkg.ServerConfig {
	return tlspkg.ServerConfig{
		Enabled:    c.IngestTLSEnabled,
		CertFile:   c.IngestTLSCertFile,
		KeyFile:    c.IngestTLSKeyFile,
		CAFile:     c.IngestTLSCAFile,
		ClientAuth: c.IngestTLSClientAuth,
	}
}

// IngestAuthConfig returns the auth configuration for the ingest API.
func (c *Config) IngestAuthConfig() auth.ServerConfig {
	return auth.ServerConfig{
		Enabled:           c.IngestAuthEnabled,
		BearerToken:       c.IngestAuthBearerToken,
		BasicAuthUsername: c.IngestAuthBasicUsername,
		BasicAuthPassword: c.IngestAuthBasicPassword,
	}
}

// ReceiverConfig returns the ingest API configuration. The stats recorder
// is wired by the caller.
func (c *Config) ReceiverConfig() receiver.Config {
	return receiver.Config{
		Addr:         c.IngestListenAddr,
		Auth:         c.IngestAuthConfig(),
		TLS:          c.IngestTLSConfig(),
		MaxBodyBytes: c.IngestMaxBodyBytes,
	}
}

// ExporterTLSConfig returns the TLS configuration for delivery.
func (c *Config) ExporterTLSConfig() tlspkg.ClientConfig {
	return tlspkg.ClientConfig{
		Enabled:            c.ExporterTLSEnabled,
		CertFile:           c.ExporterTLSCertFile,
		KeyFile:            c.ExporterTLSKeyFile,
		CAFile:             c.ExporterTLSCAFile,
		InsecureSkipVerify: c.ExporterTLSInsecureSkipVerify,
		ServerName:         c.ExporterTLSServerName,
	}
}

// ExporterAuthConfig returns the auth configuration for delivery.
func (c *Config) ExporterAuthConfig() auth.ClientConfig {
	return auth.ClientConfig{
		BearerToken:       c.ExporterAuthBearerToken,
		BasicAuthUsername: c.ExporterAuthBasicUsername,
		BasicAuthPassword: c.ExporterAuthBasicPassword,
		Headers:           ParseHeaders(c.ExporterAuthHeaders),
	}
}

// ExporterCompressionConfig returns the compression configuration for
// delivery. Validate reports unknown types before this is called.
func (c *Config) ExporterCompressionConfig() compression.Config {
	typ, err := compression.ParseType(c.ExporterCompression)
	if err != nil {
		typ = compression.TypeNone
	}
	return compression.Config{
		Type:  typ,
		Level: compression.Level(c.ExporterCompressionLevel),
	}
}

// TransportConfig returns the full delivery transport configuration.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Endpoint:    c.ExporterEndpoint,
		Protocol:    transport.Protocol(c.ExporterProtocol),
		Insecure:    c.ExporterInsecure,
		Timeout:     c.ExporterTimeout,
		DefaultPath: c.ExporterDefaultPath,
		ServiceName: c.ServiceName,
		TLS:         c.ExporterTLSConfig(),
		Auth:        c.ExporterAuthConfig(),
		Compression: c.ExporterCompressionConfig(),
		HTTPClient: transport.HTTPClientConfig{
			MaxIdleConns:         c.ExporterMaxIdleConns,
			MaxIdleConnsPerHost:  c.ExporterMaxIdleConnsPerHost,
			MaxConnsPerHost:      c.ExporterMaxConnsPerHost,
			IdleConnTimeout:      c.ExporterIdleConnTimeout,
			DisableKeepAlives:    c.ExporterDisableKeepAlives,
			ForceAttemptHTTP2:    c.ExporterForceHTTP2,
			HTTP2ReadIdleTimeout: c.ExporterHTTP2ReadIdleTimeout,
			HTTP2PingTimeout:     c.ExporterHTTP2PingTimeout,
		},
	}
}

// QueueConfig returns the spool sizing configuration. The stats recorder
// is wired by the caller.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		MaxQueueSize:     c.QueueMaxSize,
		MaxRetries:       c.QueueMaxRetries,
		WarningThreshold: c.QueueWarningThreshold,
	}
}

// RetryConfig returns the retry manager configuration. Callbacks and the
// stats recorder are wired by the caller.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		RetryInterval: c.RetryInterval,
		BatchSize:     c.RetryBatchSize,
	}
}

// RedisOptions returns the Redis connection options for the spool store.
func (c *Config) RedisOptions() store.RedisOptions {
	return store.RedisOptions{
		Addr:        c.RedisAddr,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		KeyPrefix:   c.RedisKeyPrefix,
		DialTimeout: c.RedisDialTimeout,
		ReadTimeout: c.RedisReadTimeout,
	}
}

// TelemetryConfig returns the self-telemetry configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        c.TelemetryProtocol,
		Insecure:        c.TelemetryInsecure,
		Timeout:         c.TelemetryTimeout,
		PushInterval:    c.TelemetryPushInterval,
		Compression:     c.TelemetryCompression,
		Headers:         c.TelemetryHeaders,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
	}
}

// LogResourceAttrs parses the log-resource flag into resource attributes,
// always including the service name.
func (c *Config) LogResourceAttrs() map[string]string {
	attrs := map[string]string{
		"service": c.ServiceName,
	}
	for k, v := range ParseHeaders(c.LogResource) {
		attrs[k] = v
	}
	return attrs
}

// ParseHeaders parses a "key1=value1,key2=value2" string. Malformed pairs
// are skipped; an empty input yields nil.
func ParseHeaders(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
