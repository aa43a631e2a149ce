// Package resilience classifies failures from the record store and the
// actor platform and retries the ones that are safe to repeat.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry and carries the HTTP status
// that produced it, when there was one. The record-store and actor clients
// wrap 429s and 5xx responses this way at the point the response is read.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Message fragments that identify transient transport failures after the
// HTTP client has flattened them into wrapped strings.
var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether the error (or any error in its chain) is a
// TransientError, or matches a known transient network failure: timeouts,
// connection resets, DNS trouble.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code is worth retrying:
// the record store's 429 rate-limit rejections, request timeouts, and either
// platform's 5xx responses.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// IsPreCommit reports whether the failed request provably never committed
// server-side, so repeating it cannot duplicate a write: the store rejected
// it with 429 before applying anything, the dial never completed, or name
// resolution failed. Non-idempotent creates retry only on these classes.
func IsPreCommit(err error) bool {
	var te *TransientError
	if errors.As(err, &te) && te.StatusCode == 429 {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsAmbiguous reports whether a failed write may have committed server-side
// anyway: the request was sent but the response never arrived, or the server
// answered 5xx after possibly applying it. Callers reconcile by re-reading
// under the record's uniqueness key.
func IsAmbiguous(err error) bool {
	if IsPreCommit(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		switch te.StatusCode {
		case 408, 500, 502, 503, 504:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
