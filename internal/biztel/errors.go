package biztel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/callquality/backend/internal/utils"
)

var (
	ErrAuth      = errors.New("biztel: authentication failed")
	ErrNotFound  = errors.New("biztel: resource not found")
	ErrRateLimit = errors.New("biztel: rate limit exceeded")
	ErrServer    = errors.New("biztel: server error")
)

// APIError is a non-2xx response. Use errors.Is with the Err* sentinels to
// classify it.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("biztel api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func newAPIError(status int, body []byte) *APIError {
	msg := utils.Truncate(string(body), 200)
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &APIError{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized:
		e.kind = ErrAuth
	case status == http.StatusNotFound:
		e.kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		e.kind = ErrRateLimit
	case status >= 500:
		e.kind = ErrServer
	}
	return e
}

// retryable reports whether a failed attempt may be repeated: timeouts,
// transport failures, rate limiting and server errors. Authentication and
// not-found failures are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrServer) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
