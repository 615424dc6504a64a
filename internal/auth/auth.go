// Package auth attaches credentials to outbound delivery requests and
// validates credentials on the ingest API. Bearer tokens take
// precedence over basic auth when both are configured.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServerConfig holds authentication settings for the ingest API.
type ServerConfig struct {
	// Enabled turns on credential checks for incoming requests.
	Enabled bool
	// BearerToken is the expected bearer token.
	BearerToken string
	// BasicAuthUsername is the expected basic auth username.
	BasicAuthUsername string
	// BasicAuthPassword is the expected basic auth password.
	BasicAuthPassword string
}

// ClientConfig holds credentials attached to outbound delivery requests.
type ClientConfig struct {
	// BearerToken is the bearer token to send with requests.
	BearerToken string
	// BasicAuthUsername is the username for basic authentication.
	BasicAuthUsername string
	// BasicAuthPassword is the password for basic authentication.
	BasicAuthPassword string
	// Headers is a map of custom headers to send with requests.
	Headers map[string]string
}

// HTTPMiddleware wraps an ingest handler with credential checks. A
// config that is enabled but carries no credentials admits everything.
func HTTPMiddleware(cfg ServerConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkAuthorization(r.Header.Get("Authorization"), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAuthorization validates an Authorization header value against
// the configured credentials.
func checkAuthorization(header string, cfg ServerConfig) error {
	if cfg.BearerToken != "" {
		if header == "" {
			return fmt.Errorf("missing authorization header")
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return fmt.Errorf("invalid authorization header format")
		}
		if token != cfg.BearerToken {
			return fmt.Errorf("invalid bearer token")
		}
		return nil
	}

	if cfg.BasicAuthUsername != "" && cfg.BasicAuthPassword != "" {
		if header == "" {
			return fmt.Errorf("missing authorization header")
		}
		if header != "Basic "+encodeBasic(cfg.BasicAuthUsername, cfg.BasicAuthPassword) {
			return fmt.Errorf("invalid basic auth credentials")
		}
		return nil
	}

	return nil
}

// GRPCClientInterceptor returns a unary interceptor that adds the
// configured credentials to outgoing request metadata.
func GRPCClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		md := metadata.MD{}

		if cfg.BearerToken != "" {
			md.Set("authorization", "Bearer "+cfg.BearerToken)
		} else if cfg.BasicAuthUsername != "" && cfg.BasicAuthPassword != "" {
			md.Set("authorization", "Basic "+encodeBasic(cfg.BasicAuthUsername, cfg.BasicAuthPassword))
		}
		for k, v := range cfg.Headers {
			md.Set(k, v)
		}

		if len(md) > 0 {
			ctx = metadata.NewOutgoingContext(ctx, md)
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// HTTPTransport returns an http.RoundTripper that adds the configured
// credentials to every request.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{
		base: base,
		cfg:  cfg,
	}
}

type authTransport struct {
	base http.RoundTripper
	cfg  ClientConfig
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	reqClone := req.Clone(req.Context())

	if t.cfg.BearerToken != "" {
		reqClone.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	} else if t.cfg.BasicAuthUsername != "" && t.cfg.BasicAuthPassword != "" {
		reqClone.SetBasicAuth(t.cfg.BasicAuthUsername, t.cfg.BasicAuthPassword)
	}
	for k, v := range t.cfg.Headers {
		reqClone.Header.Set(k, v)
	}

	return t.base.RoundTrip(reqClone)
}

// encodeBasic returns the base64 encoded user:password pair.
func encodeBasic(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
