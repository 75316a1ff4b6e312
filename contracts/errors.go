package contracts

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorKind is the closed enumeration of failure kinds the dispatch engine
// can produce. Every kind carries a canonical HTTP status, fixed below in
// httpStatusByKind, so no component outside the error taxonomy needs to
// know how to render one for the wire.
type ErrorKind string

const (
	KindAuth                   ErrorKind = "auth"
	KindInvalidRequest         ErrorKind = "invalid_request"
	KindTimeout                ErrorKind = "timeout"
	KindQueueTimeout           ErrorKind = "queue_timeout"
	KindQueueFull              ErrorKind = "queue_full"
	KindRateLimit              ErrorKind = "rate_limit"
	KindUpstreamAuth           ErrorKind = "upstream_auth"
	KindCLIError               ErrorKind = "cli_error"
	KindCLINotFound            ErrorKind = "cli_not_found"
	KindMemory                 ErrorKind = "memory"
	KindSessionNotFound        ErrorKind = "session_not_found"
	KindSessionLimit           ErrorKind = "session_limit"
	KindTaskNotFound           ErrorKind = "task_not_found"
	KindInvalidModel           ErrorKind = "invalid_model"
	KindStreamingNotSupported  ErrorKind = "streaming_not_supported"
	KindInternal               ErrorKind = "internal"
)

var httpStatusByKind = map[ErrorKind]int{
	KindAuth:                  http.StatusUnauthorized,
	KindInvalidRequest:        http.StatusBadRequest,
	KindTimeout:               http.StatusGatewayTimeout,
	KindQueueTimeout:          http.StatusGatewayTimeout,
	KindQueueFull:             http.StatusTooManyRequests,
	KindRateLimit:             http.StatusTooManyRequests,
	KindUpstreamAuth:          http.StatusUnauthorized,
	KindCLIError:              http.StatusInternalServerError,
	KindCLINotFound:           http.StatusInternalServerError,
	KindMemory:                http.StatusInternalServerError,
	KindSessionNotFound:       http.StatusNotFound,
	KindSessionLimit:          http.StatusTooManyRequests,
	KindTaskNotFound:          http.StatusNotFound,
	KindInvalidModel:          http.StatusBadRequest,
	KindStreamingNotSupported: http.StatusBadRequest,
	KindInternal:              http.StatusInternalServerError,
}

// Error is the value-typed error record produced by every failure path in
// the core. The HTTP collaborators render it; the core never formats for
// the wire itself.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// newError builds an Error for kind, defaulting Code to the kind string.
func newError(kind ErrorKind, message string, details map[string]any) *Error {
	return &Error{
		Kind:       kind,
		HTTPStatus: httpStatusByKind[kind],
		Code:       string(kind),
		Message:    message,
		Details:    details,
	}
}

func NewAuthError(message string) *Error                  { return newError(KindAuth, message, nil) }
func NewInvalidRequestError(message string) *Error        { return newError(KindInvalidRequest, message, nil) }
func NewTimeoutError(message string) *Error                { return newError(KindTimeout, message, nil) }
func NewQueueTimeoutError(message string) *Error           { return newError(KindQueueTimeout, message, nil) }
func NewQueueFullError(message string) *Error               { return newError(KindQueueFull, message, nil) }
func NewRateLimitError(message string) *Error               { return newError(KindRateLimit, message, nil) }
func NewUpstreamAuthError(message string) *Error            { return newError(KindUpstreamAuth, message, nil) }
func NewMemoryError(message string) *Error                  { return newError(KindMemory, message, nil) }
func NewSessionNotFoundError(message string) *Error         { return newError(KindSessionNotFound, message, nil) }
func NewSessionLimitError(message string) *Error            { return newError(KindSessionLimit, message, nil) }
func NewTaskNotFoundError(message string) *Error            { return newError(KindTaskNotFound, message, nil) }
func NewInvalidModelError(message string) *Error            { return newError(KindInvalidModel, message, nil) }
func NewStreamingNotSupportedError(message string) *Error   { return newError(KindStreamingNotSupported, message, nil) }
func NewInternalError(message string) *Error                { return newError(KindInternal, message, nil) }

// NewCLIError constructs a cli_error, optionally carrying exit/signal
// details (spec §4.1's {exitCode, signal, stderr} shape).
func NewCLIError(message string, details map[string]any) *Error {
	return newError(KindCLIError, message, details)
}

// NewCLINotFoundError is raised when the OS reports the CLI binary itself
// could not be found.
func NewCLINotFoundError(message string) *Error {
	return newError(KindCLINotFound, message, nil)
}

// Aborted is the canonical cli_error produced when cancellation fires
// before or during a run (spec §4.1, §4.2, §5).
func Aborted(reason string) *Error {
	return newError(KindCLIError, "aborted: "+reason, map[string]any{"reason": reason})
}

// Retryable reports whether err should be retried by the Worker Pool's
// retry loop (spec §4.2): timeout and rate_limit kinds, or a transport-level
// connection reset.
func Retryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == KindTimeout || ce.Kind == KindRateLimit
	}
	return IsTransportReset(err)
}

// IsTransportReset reports whether err represents a connection reset by
// peer at the transport layer, independent of our own ErrorKind taxonomy.
func IsTransportReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(strings.ToLower(opErr.Err.Error()), "connection reset")
	}
	return false
}

// ClassifyStderr maps a non-zero exit's stderr text to the error kind spec
// §4.1 calls for, scanning case-insensitively for known substrings.
func ClassifyStderr(stderr string) ErrorKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return KindRateLimit
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "not logged in"), strings.Contains(lower, "login"):
		return KindUpstreamAuth
	case strings.Contains(lower, "out of memory"), strings.Contains(lower, "heap limit"), strings.Contains(lower, "allocation failed"):
		return KindMemory
	default:
		return KindCLIError
	}
}
