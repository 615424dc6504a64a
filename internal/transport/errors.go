package transport

import (
	"fmt"
)

// SendError is a structured error returned from send operations. It carries
// the classified error type, HTTP status code, and backend response detail so
// callers can log and record failures without re-parsing error strings.
type SendError struct {
	// Err is the underlying error.
	Err error
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for gRPC or network errors).
	StatusCode int
	// Message is the response body or error detail from the backend.
	Message string
}

// Error implements the error interface.
func (e *SendError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Message != "" {
		return fmt.Sprintf("send failed: status=%d type=%s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("send failed: status=%d type=%s", e.StatusCode, e.Type)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the same event
// may succeed on retry (server errors, network issues, timeouts, rate limits).
func (e *SendError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// Classify maps any send error onto an ErrorType, unwrapping structured
// errors and classifying raw gRPC and network errors directly.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if se, ok := err.(*SendError); ok {
		return se.Type
	}
	return classifyGRPCError(err)
}
