package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig mirrors the configuration file structure.
type YAMLConfig struct {
	Service   string        `yaml:"service"`
	Ingest    IngestYAML    `yaml:"ingest"`
	Exporter  ExporterYAML  `yaml:"exporter"`
	Spool     SpoolYAML     `yaml:"spool"`
	Retry     RetryYAML     `yaml:"retry"`
	Stats     StatsYAML     `yaml:"stats"`
	Telemetry TelemetryYAML `yaml:"telemetry"`
	Memory    MemoryYAML    `yaml:"memory"`
	Logging   LoggingYAML   `yaml:"logging"`
}

// IngestYAML holds the ingest API section.
type IngestYAML struct {
	Address     string         `yaml:"address"`
	MaxBodySize ByteSize       `yaml:"max_body_size"`
	TLS         TLSServerYAML  `yaml:"tls"`
	Auth        AuthServerYAML `yaml:"auth"`
}

// TLSServerYAML holds server-side TLS settings.
type TLSServerYAML struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth bool   `yaml:"client_auth"`
}

// AuthServerYAML holds server-side auth settings.
type AuthServerYAML struct {
	Enabled       bool   `yaml:"enabled"`
	BearerToken   string `yaml:"bearer_token"`
	BasicUsername string `yaml:"basic_username"`
	BasicPassword string `yaml:"basic_password"`
}

// ExporterYAML holds the delivery section.
type ExporterYAML struct {
	Endpoint    string          `yaml:"endpoint"`
	Protocol    string          `yaml:"protocol"`
	Insecure    *bool           `yaml:"insecure"`
	Timeout     Duration        `yaml:"timeout"`
	DefaultPath string          `yaml:"default_path"`
	TLS         TLSClientYAML   `yaml:"tls"`
	Auth        AuthClientYAML  `yaml:"auth"`
	Compression CompressionYAML `yaml:"compression"`
	HTTPClient  HTTPClientYAML  `yaml:"http_client"`
}

// TLSClientYAML holds client-side TLS settings.
type TLSClientYAML struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// AuthClientYAML holds client-side auth settings.
type AuthClientYAML struct {
	BearerToken   string            `yaml:"bearer_token"`
	BasicUsername string            `yaml:"basic_username"`
	BasicPassword string            `yaml:"basic_password"`
	Headers       map[string]string `yaml:"headers"`
}

// CompressionYAML holds delivery compression settings.
type CompressionYAML struct {
	Type  string `yaml:"type"`
	Level int    `yaml:"level"`
}

// HTTPClientYAML holds delivery connection pool settings.
type HTTPClientYAML struct {
	MaxIdleConns         int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost  int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost      int      `yaml:"max_conns_per_host"`
	IdleConnTimeout      Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives    bool     `yaml:"disable_keep_alives"`
	ForceHTTP2           bool     `yaml:"force_http2"`
	HTTP2ReadIdleTimeout Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     Duration `yaml:"http2_ping_timeout"`
}

// SpoolYAML holds the spool storage and sizing section.
type SpoolYAML struct {
	Store            string    `yaml:"store"`
	Dir              string    `yaml:"dir"`
	Redis            RedisYAML `yaml:"redis"`
	MaxSize          int       `yaml:"max_size"`
	MaxRetries       int       `yaml:"max_retries"`
	WarningThreshold int       `yaml:"warning_threshold"`
}

// RedisYAML holds Redis backend settings.
type RedisYAML struct {
	Address     string   `yaml:"address"`
	Password    string   `yaml:"password"`
	DB          int      `yaml:"db"`
	KeyPrefix   string   `yaml:"key_prefix"`
	DialTimeout Duration `yaml:"dial_timeout"`
	ReadTimeout Duration `yaml:"read_timeout"`
}

// RetryYAML holds the dispatch cycle section.
type RetryYAML struct {
	Interval  Duration `yaml:"interval"`
	BatchSize int      `yaml:"batch_size"`
}

// StatsYAML holds the stats server section.
type StatsYAML struct {
	Address     string   `yaml:"address"`
	LogInterval Duration `yaml:"log_interval"`
}

// TelemetryYAML holds the OTLP self-telemetry section.
type TelemetryYAML struct {
	Endpoint        string            `yaml:"endpoint"`
	Protocol        string            `yaml:"protocol"`
	Insecure        *bool             `yaml:"insecure"`
	Timeout         Duration          `yaml:"timeout"`
	PushInterval    Duration          `yaml:"push_interval"`
	Compression     string            `yaml:"compression"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
	Headers         map[string]string `yaml:"headers"`
}

// MemoryYAML holds the memory limit section.
type MemoryYAML struct {
	LimitRatio float64 `yaml:"limit_ratio"`
}

// LoggingYAML holds the logging section.
type LoggingYAML struct {
	Resource string `yaml:"resource"`
}

// Duration wraps time.Duration so YAML values read "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is an int64 that accepts human-readable YAML values: a raw
// integer is bytes, and Ki, Mi, Gi, Ti suffixes scale by powers of 1024.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for ByteSize.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return FormatByteSize(int64(b)), nil
}

// ParseByteSize parses a human-readable byte size. Accepted suffixes:
// Ki, Mi, Gi, Ti. Plain integers are bytes; floats like "1.5Gi" work.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	suffixes := []struct {
		name string
		mult int64
	}{
		{"Ti", 1 << 40},
		{"Gi", 1 << 30},
		{"Mi", 1 << 20},
		{"Ki", 1 << 10},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			f, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi, Gi, or Ti suffixes)", s)
	}
	return n, nil
}

// FormatByteSize renders a byte count with the largest exact suffix.
func FormatByteSize(n int64) string {
	switch {
	case n >= 1<<40 && n%(1<<40) == 0:
		return strconv.FormatInt(n>>40, 10) + "Ti"
	case n >= 1<<30 && n%(1<<30) == 0:
		return strconv.FormatInt(n>>30, 10) + "Gi"
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "Mi"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "Ki"
	default:
		return strconv.FormatInt(n, 10)
	}
}

// LoadYAML reads and parses a YAML configuration file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToConfig builds a Config from the file contents: defaults first, then
// every field the file actually sets layered on top.
func (y *YAMLConfig) ToConfig() *Config {
	cfg := DefaultConfig()

	if y.Service != "" {
		cfg.ServiceName = y.Service
	}

	if y.Ingest.Address != "" {
		cfg.IngestListenAddr = y.Ingest.Address
	}
	if y.Ingest.MaxBodySize > 0 {
		cfg.IngestMaxBodyBytes = int64(y.Ingest.MaxBodySize)
	}
	cfg.IngestTLSEnabled = y.Ingest.TLS.Enabled
	cfg.IngestTLSCertFile = y.Ingest.TLS.CertFile
	cfg.IngestTLSKeyFile = y.Ingest.TLS.KeyFile
	cfg.IngestTLSCAFile = y.Ingest.TLS.CAFile
	cfg.IngestTLSClientAuth = y.Ingest.TLS.ClientAuth
	cfg.IngestAuthEnabled = y.Ingest.Auth.Enabled
	cfg.IngestAuthBearerToken = y.Ingest.Auth.BearerToken
	cfg.IngestAuthBasicUsername = y.Ingest.Auth.BasicUsername
	cfg.IngestAuthBasicPassword = y.Ingest.Auth.BasicPassword

	if y.Exporter.Endpoint != "" {
		cfg.ExporterEndpoint = y.Exporter.Endpoint
	}
	if y.Exporter.Protocol != "" {
		cfg.ExporterProtocol = y.Exporter.Protocol
	}
	if y.Exporter.Insecure != nil {
		cfg.ExporterInsecure = *y.Exporter.Insecure
	}
	if y.Exporter.Timeout > 0 {
		cfg.ExporterTimeout = time.Duration(y.Exporter.Timeout)
	}
	if y.Exporter.DefaultPath != "" {
		cfg.ExporterDefaultPath = y.Exporter.DefaultPath
	}
	cfg.ExporterTLSEnabled = y.Exporter.TLS.Enabled
	cfg.ExporterTLSCertFile = y.Exporter.TLS.CertFile
	cfg.ExporterTLSKeyFile = y.Exporter.TLS.KeyFile
	cfg.ExporterTLSCAFile = y.Exporter.TLS.CAFile
	cfg.ExporterTLSInsecureSkipVerify = y.Exporter.TLS.InsecureSkipVerify
	cfg.ExporterTLSServerName = y.Exporter.TLS.ServerName
	cfg.ExporterAuthBearerToken = y.Exporter.Auth.BearerToken
	cfg.ExporterAuthBasicUsername = y.Exporter.Auth.BasicUsername
	cfg.ExporterAuthBasicPassword = y.Exporter.Auth.BasicPassword
	cfg.ExporterAuthHeaders = joinHeaders(y.Exporter.Auth.Headers)
	if y.Exporter.Compression.Type != "" {
		cfg.ExporterCompression = y.Exporter.Compression.Type
	}
	if y.Exporter.Compression.Level != 0 {
		cfg.ExporterCompressionLevel = y.Exporter.Compression.Level
	}
	if y.Exporter.HTTPClient.MaxIdleConns != 0 {
		cfg.ExporterMaxIdleConns = y.Exporter.HTTPClient.MaxIdleConns
	}
	if y.Exporter.HTTPClient.MaxIdleConnsPerHost != 0 {
		cfg.ExporterMaxIdleConnsPerHost = y.Exporter.HTTPClient.MaxIdleConnsPerHost
	}
	if y.Exporter.HTTPClient.MaxConnsPerHost != 0 {
		cfg.ExporterMaxConnsPerHost = y.Exporter.HTTPClient.MaxConnsPerHost
	}
	if y.Exporter.HTTPClient.IdleConnTimeout > 0 {
		cfg.ExporterIdleConnTimeout = time.Duration(y.Exporter.HTTPClient.IdleConnTimeout)
	}
	cfg.ExporterDisableKeepAlives = y.Exporter.HTTPClient.DisableKeepAlives
	cfg.ExporterForceHTTP2 = y.Exporter.HTTPClient.ForceHTTP2
	if y.Exporter.HTTPClient.HTTP2ReadIdleTimeout > 0 {
		cfg.ExporterHTTP2ReadIdleTimeout = time.Duration(y.Exporter.HTTPClient.HTTP2ReadIdleTimeout)
	}
	if y.Exporter.HTTPClient.HTTP2PingTimeout > 0 {
		cfg.ExporterHTTP2PingTimeout = time.Duration(y.Exporter.HTTPClient.HTTP2PingTimeout)
	}

	if y.Spool.Store != "" {
		cfg.StoreBackend = y.Spool.Store
	}
	if y.Spool.Dir != "" {
		cfg.StoreDir = y.Spool.Dir
	}
	if y.Spool.Redis.Address != "" {
		cfg.RedisAddr = y.Spool.Redis.Address
	}
	if y.Spool.Redis.Password != "" {
		cfg.RedisPassword = y.Spool.Redis.Password
	}
	if y.Spool.Redis.DB != 0 {
		cfg.RedisDB = y.Spool.Redis.DB
	}
	if y.Spool.Redis.KeyPrefix != "" {
		cfg.RedisKeyPrefix = y.Spool.Redis.KeyPrefix
	}
	if y.Spool.Redis.DialTimeout > 0 {
		cfg.RedisDialTimeout = time.Duration(y.Spool.Redis.DialTimeout)
	}
	if y.Spool.Redis.ReadTimeout > 0 {
		cfg.RedisReadTimeout = time.Duration(y.Spool.Redis.ReadTimeout)
	}
	if y.Spool.MaxSize != 0 {
		cfg.QueueMaxSize = y.Spool.MaxSize
	}
	if y.Spool.MaxRetries != 0 {
		cfg.QueueMaxRetries = y.Spool.MaxRetries
	}
	if y.Spool.WarningThreshold != 0 {
		cfg.QueueWarningThreshold = y.Spool.WarningThreshold
	}

	if y.Retry.Interval > 0 {
		cfg.RetryInterval = time.Duration(y.Retry.Interval)
	}
	if y.Retry.BatchSize != 0 {
		cfg.RetryBatchSize = y.Retry.BatchSize
	}

	if y.Stats.Address != "" {
		cfg.StatsListenAddr = y.Stats.Address
	}
	if y.Stats.LogInterval > 0 {
		cfg.StatsLogInterval = time.Duration(y.Stats.LogInterval)
	}

	if y.Telemetry.Endpoint != "" {
		cfg.TelemetryEndpoint = y.Telemetry.Endpoint
	}
	if y.Telemetry.Protocol != "" {
		cfg.TelemetryProtocol = y.Telemetry.Protocol
	}
	if y.Telemetry.Insecure != nil {
		cfg.TelemetryInsecure = *y.Telemetry.Insecure
	}
	if y.Telemetry.Timeout > 0 {
		cfg.TelemetryTimeout = time.Duration(y.Telemetry.Timeout)
	}
	if y.Telemetry.PushInterval > 0 {
		cfg.TelemetryPushInterval = time.Duration(y.Telemetry.PushInterval)
	}
	if y.Telemetry.Compression != "" {
		cfg.TelemetryCompression = y.Telemetry.Compression
	}
	if y.Telemetry.ShutdownTimeout > 0 {
		cfg.TelemetryShutdownTimeout = time.Duration(y.Telemetry.ShutdownTimeout)
	}
	if len(y.Telemetry.Headers) > 0 {
		cfg.TelemetryHeaders = y.Telemetry.Headers
	}

	if y.Memory.LimitRatio > 0 {
		cfg.MemoryLimitRatio = y.Memory.LimitRatio
	}

	if y.Logging.Resource != "" {
		cfg.LogResource = y.Logging.Resource
	}

	return cfg
}

// joinHeaders renders a header map back into the flat key=value,key=value
// form used by the flag, with keys sorted for determinism.
func joinHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+headers[k])
	}
	return strings.Join(pairs, ",")
}
