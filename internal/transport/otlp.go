package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/eventspool/eventspool/internal/auth"
	"github.com/eventspool/eventspool/internal/compression"
	"github.com/eventspool/eventspool/internal/event"
	tlspkg "github.com/eventspool/eventspool/internal/tls"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// ErrorType represents a category of send error for metrics.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx status codes)
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side errors (4xx status codes)
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication/authorization errors (401, 403)
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

var (
	// sendBytesTotal tracks actual bytes sent to the OTLP backend
	sendBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_otlp_send_bytes_total",
		Help: "Total bytes sent to the OTLP logs backend",
	}, []string{"compression"})

	// sendRequestsTotal tracks the number of send requests
	sendRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_otlp_send_requests_total",
		Help: "Total number of OTLP log send requests",
	})

	// sendErrorsTotal tracks the number of send errors by type
	sendErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_otlp_send_errors_total",
		Help: "Total number of OTLP log send errors by error type",
	}, []string{"error_type"})

	// sendEventsTotal tracks the number of events delivered
	sendEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_otlp_send_events_total",
		Help: "Total number of events delivered to the OTLP logs backend",
	})
)

func init() {
	prometheus.MustRegister(sendBytesTotal)
	prometheus.MustRegister(sendRequestsTotal)
	prometheus.MustRegister(sendErrorsTotal)
	prometheus.MustRegister(sendEventsTotal)
}

// Protocol represents the delivery protocol.
type Protocol string

const (
	// ProtocolGRPC uses OTLP gRPC protocol.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP uses OTLP HTTP protocol.
	ProtocolHTTP Protocol = "http"
)

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int
	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections
	// to keep per-host. If zero, DefaultMaxIdleConnsPerHost is used.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself. Zero means no limit.
	IdleConnTimeout time.Duration
	// DisableKeepAlives, if true, disables HTTP keep-alives and will only use
	// the connection to the server for a single HTTP request.
	DisableKeepAlives bool
	// ForceAttemptHTTP2 controls whether HTTP/2 is enabled when a non-zero
	// TLSClientConfig is provided.
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout is the timeout after which a health check using ping
	// frame will be carried out if no frame is received on the connection.
	// Note: this is for HTTP/2 connections.
	HTTP2ReadIdleTimeout time.Duration
	// HTTP2PingTimeout is the timeout after which the connection will be closed
	// if a response to Ping is not received.
	HTTP2PingTimeout time.Duration
}

// Config holds the OTLP sender configuration.
type Config struct {
	// Endpoint is the target endpoint (host:port for gRPC, URL for HTTP).
	Endpoint string
	// Protocol is the delivery protocol (grpc or http).
	Protocol Protocol
	// Insecure uses insecure connection (no TLS).
	Insecure bool
	// Timeout is the per-send request timeout.
	Timeout time.Duration
	// DefaultPath is the path to append when endpoint has no path (default: /v1/logs).
	DefaultPath string
	// ServiceName is reported as the resource service.name (default: eventspool).
	ServiceName string
	// TLS configuration for secure connections.
	TLS tlspkg.ClientConfig
	// Auth configuration for authentication.
	Auth auth.ClientConfig
	// Compression configuration for HTTP sends.
	Compression compression.Config
	// HTTPClient configuration for HTTP connection pooling.
	HTTPClient HTTPClientConfig
}

// OTLPSender delivers events as OTLP log records via gRPC or HTTP.
type OTLPSender struct {
	protocol    Protocol
	timeout     time.Duration
	compression compression.Config
	resource    *resourcepb.Resource

	// gRPC client
	grpcConn   *grpc.ClientConn
	grpcClient collogspb.LogsServiceClient

	// HTTP client
	httpClient   *http.Client
	httpEndpoint string
}

// New creates a new OTLPSender based on the configuration.
func New(ctx context.Context, cfg Config) (*OTLPSender, error) {
	// Default to gRPC if not specified
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "eventspool"
	}

	switch cfg.Protocol {
	case ProtocolGRPC:
		return newGRPCSender(ctx, cfg)
	case ProtocolHTTP:
		return newHTTPSender(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

// newGRPCSender creates a gRPC-based sender.
func newGRPCSender(_ context.Context, cfg Config) (*OTLPSender, error) {
	var opts []grpc.DialOption

	// Configure TLS or insecure connection
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		// Default to system TLS when not insecure and no custom TLS config
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	// Configure authentication
	if cfg.Auth.BearerToken != "" || cfg.Auth.BasicAuthUsername != "" || len(cfg.Auth.Headers) > 0 {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.GRPCClientInterceptor(cfg.Auth)))
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}

	return &OTLPSender{
		protocol:   ProtocolGRPC,
		timeout:    cfg.Timeout,
		resource:   newResource(cfg.ServiceName),
		grpcConn:   conn,
		grpcClient: collogspb.NewLogsServiceClient(conn),
	}, nil
}

// newHTTPSender creates an HTTP-based sender.
func newHTTPSender(_ context.Context, cfg Config) (*OTLPSender, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// Apply default values if not set
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	// Configure TLS
	if !cfg.Insecure {
		if cfg.TLS.Enabled {
			tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
			if err != nil {
				return nil, fmt.Errorf("failed to create TLS config: %w", err)
			}
			transport.TLSClientConfig = tlsConfig
		} else {
			// Default TLS config
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	var roundTripper http.RoundTripper = transport

	// Configure HTTP/2 settings if enabled
	if cfg.HTTPClient.ForceAttemptHTTP2 || (!cfg.Insecure && transport.TLSClientConfig != nil) {
		http2Transport, err := http2.ConfigureTransports(transport)
		if err == nil && http2Transport != nil {
			if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
				http2Transport.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
			}
			if cfg.HTTPClient.HTTP2PingTimeout > 0 {
				http2Transport.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
			}
		}
	}

	// Configure authentication
	if cfg.Auth.BearerToken != "" || cfg.Auth.BasicAuthUsername != "" || len(cfg.Auth.Headers) > 0 {
		roundTripper = auth.HTTPTransport(cfg.Auth, roundTripper)
	}

	client := &http.Client{
		Transport: roundTripper,
		Timeout:   cfg.Timeout,
	}

	// Build endpoint URL
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	// Add scheme if missing
	scheme := "http"
	if !cfg.Insecure {
		scheme = "https"
	}
	if !hasScheme(endpoint) {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	// Add path if missing
	if !hasPath(endpoint) {
		defaultPath := cfg.DefaultPath
		if defaultPath == "" {
			defaultPath = "/v1/logs"
		}
		endpoint = endpoint + defaultPath
	}

	return &OTLPSender{
		protocol:     ProtocolHTTP,
		timeout:      cfg.Timeout,
		compression:  cfg.Compression,
		resource:     newResource(cfg.ServiceName),
		httpClient:   client,
		httpEndpoint: endpoint,
	}, nil
}

// Send delivers one event to the configured endpoint.
func (s *OTLPSender) Send(ctx context.Context, ev event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := s.encode(ev)

	switch s.protocol {
	case ProtocolGRPC:
		return s.sendGRPC(ctx, req)
	case ProtocolHTTP:
		return s.sendHTTP(ctx, req)
	default:
		return fmt.Errorf("unsupported protocol: %s", s.protocol)
	}
}

// sendGRPC delivers a request via gRPC.
func (s *OTLPSender) sendGRPC(ctx context.Context, req *collogspb.ExportLogsServiceRequest) error {
	// Estimate size for metrics tracking (gRPC handles compression internally)
	size := proto.Size(req)

	sendRequestsTotal.Inc()

	_, err := s.grpcClient.Export(ctx, req)
	if err != nil {
		recordSendError(classifyGRPCError(err))
		return err
	}

	// Track as uncompressed since gRPC compression is handled at transport level
	sendBytesTotal.WithLabelValues("grpc").Add(float64(size))
	sendEventsTotal.Inc()

	return nil
}

// sendHTTP delivers a request via HTTP.
func (s *OTLPSender) sendHTTP(ctx context.Context, req *collogspb.ExportLogsServiceRequest) error {
	body, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	compressionLabel := "none"

	// Apply compression if configured
	if s.compression.Type != compression.TypeNone && s.compression.Type != "" {
		body, err = compression.Compress(body, s.compression)
		if err != nil {
			return fmt.Errorf("failed to compress request: %w", err)
		}
		compressionLabel = string(s.compression.Type)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.httpEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	// Set Content-Encoding header if compression is used
	if encoding := s.compression.Type.ContentEncoding(); encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}

	sendRequestsTotal.Inc()

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		errType := classifyError(err)
		recordSendError(errType)
		return &SendError{Err: fmt.Errorf("failed to send request: %w", err), Type: errType}
	}
	defer resp.Body.Close()

	// Read a bounded slice of the body so error detail survives, then drain
	// the rest to allow connection reuse.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		errType := classifyHTTPStatusCode(resp.StatusCode)
		recordSendError(errType)
		return &SendError{
			Type:       errType,
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(detail)),
		}
	}

	sendBytesTotal.WithLabelValues(compressionLabel).Add(float64(len(body)))
	sendEventsTotal.Inc()

	return nil
}

// Close closes the sender connection.
func (s *OTLPSender) Close() error {
	switch s.protocol {
	case ProtocolGRPC:
		if s.grpcConn != nil {
			return s.grpcConn.Close()
		}
	case ProtocolHTTP:
		if s.httpClient != nil {
			s.httpClient.CloseIdleConnections()
		}
	}
	return nil
}

// encode wraps one event into an OTLP logs export request. The event name
// travels as the event.name attribute and the properties become the record
// body, so collectors can route on the name without parsing the body.
func (s *OTLPSender) encode(ev event.Event) *collogspb.ExportLogsServiceRequest {
	record := &logspb.LogRecord{
		TimeUnixNano:   uint64(time.Now().UnixNano()),
		SeverityNumber: logspb.SeverityNumber_SEVERITY_NUMBER_INFO,
		SeverityText:   "INFO",
		Attributes: []*commonpb.KeyValue{
			{Key: "event.name", Value: stringValue(ev.Name)},
		},
	}
	if len(ev.Properties) > 0 {
		record.Body = &commonpb.AnyValue{
			Value: &commonpb.AnyValue_KvlistValue{KvlistValue: toKeyValueList(ev.Properties)},
		}
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: s.resource,
				ScopeLogs: []*logspb.ScopeLogs{
					{LogRecords: []*logspb.LogRecord{record}},
				},
			},
		},
	}
}

// newResource builds the OTLP resource identifying this producer.
func newResource(serviceName string) *resourcepb.Resource {
	return &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			{Key: "service.name", Value: stringValue(serviceName)},
		},
	}
}

// toKeyValueList converts an event property map to OTLP key-values.
func toKeyValueList(props map[string]interface{}) *commonpb.KeyValueList {
	kvs := make([]*commonpb.KeyValue, 0, len(props))
	for k, v := range props {
		kvs = append(kvs, &commonpb.KeyValue{Key: k, Value: toAnyValue(v)})
	}
	return &commonpb.KeyValueList{Values: kvs}
}

// toAnyValue converts an arbitrary property value to an OTLP value.
func toAnyValue(v interface{}) *commonpb.AnyValue {
	switch val := v.(type) {
	case nil:
		return &commonpb.AnyValue{}
	case string:
		return stringValue(val)
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case float32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: val}}
	case []interface{}:
		vals := make([]*commonpb.AnyValue, 0, len(val))
		for _, item := range val {
			vals = append(vals, toAnyValue(item))
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: vals}}}
	case map[string]interface{}:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: toKeyValueList(val)}}
	default:
		return stringValue(fmt.Sprintf("%v", val))
	}
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

// classifyGRPCError categorizes a gRPC error into an error type.
func classifyGRPCError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	// Check for gRPC status codes
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return ErrorTypeTimeout
		case codes.Unavailable:
			return ErrorTypeNetwork
		case codes.Unauthenticated:
			return ErrorTypeAuth
		case codes.PermissionDenied:
			return ErrorTypeAuth
		case codes.ResourceExhausted:
			return ErrorTypeRateLimit
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return ErrorTypeClientError
		case codes.Internal, codes.Unknown, codes.DataLoss, codes.Aborted:
			return ErrorTypeServerError
		}
	}

	// Fall back to generic error classification
	return classifyError(err)
}

// classifyError categorizes an error into a low-cardinality error type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	errStr := err.Error()

	// Check for timeout errors
	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}

	// Check for network errors
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	// Check for common error patterns in error string
	if contains(errStr, "connection refused") ||
		contains(errStr, "no such host") ||
		contains(errStr, "network is unreachable") ||
		contains(errStr, "connection reset") ||
		contains(errStr, "broken pipe") {
		return ErrorTypeNetwork
	}

	if contains(errStr, "timeout") ||
		contains(errStr, "deadline exceeded") {
		return ErrorTypeTimeout
	}

	return ErrorTypeUnknown
}

// classifyHTTPStatusCode categorizes an HTTP status code into an error type.
func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// isTimeoutError checks if the error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	// Check for net.Error timeout
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	// Check for context deadline exceeded
	if err == context.DeadlineExceeded {
		return true
	}
	return false
}

// isNetworkError checks if the error is a network error.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	// Check for net.Error (but not timeout)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		return true
	}
	// Check for DNS errors
	if _, ok := err.(*net.DNSError); ok {
		return true
	}
	// Check for OpError
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	return false
}

// hasScheme checks if a URL has a scheme.
func hasScheme(url string) bool {
	return len(url) >= 7 && (url[:7] == "http://" || (len(url) >= 8 && url[:8] == "https://"))
}

// hasPath checks if a URL has a path component.
func hasPath(url string) bool {
	// Find the host portion
	start := 0
	if hasScheme(url) {
		if len(url) >= 8 && url[:8] == "https://" {
			start = 8
		} else {
			start = 7
		}
	}
	// Check if there's a / after the host
	for i := start; i < len(url); i++ {
		if url[i] == '/' {
			return true
		}
	}
	return false
}

// contains is a simple case-insensitive substring check.
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && len(substr) > 0 && containsLower(toLower(s), toLower(substr))))
}

func containsLower(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

// recordSendError increments the error counter with the appropriate error type.
func recordSendError(errType ErrorType) {
	sendErrorsTotal.WithLabelValues(string(errType)).Inc()
}
