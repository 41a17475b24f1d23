package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrProtocol marks a malformed or unexpected provider payload.
var ErrProtocol = errors.New("protocol violation")

// Error codes used as metric labels.
const (
	CodeTimeout     = "timeout"
	CodeRateLimited = "rate_limited"
	CodeServerError = "server_error"
	CodeClientError = "client_error"
	CodeProtocol    = "protocol"
	CodeCanceled    = "canceled"
	CodeUnknown     = "unknown"
)

// StatusError is a non-2xx provider HTTP response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// Classify maps err to one of the Code* labels. A nil error classifies as "".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyHTTPStatus(statusErr.Status)
	}
	if errors.Is(err, ErrProtocol) {
		return CodeProtocol
	}
	return CodeUnknown
}

// ClassifyHTTPStatus maps an HTTP status code to a Code* label.
func ClassifyHTTPStatus(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return CodeRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CodeTimeout
	case code >= 500:
		return CodeServerError
	case code >= 400:
		return CodeClientError
	default:
		return CodeUnknown
	}
}
