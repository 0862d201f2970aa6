package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ProviderError classifies provider call failures as transient/permanent.
// Every adapter builds its errors through this type so the same condition
// never retries on one vendor and fails fast on another.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// retryableStatusCodes is the single source of truth for HTTP-level retry
// decisions across all adapters.
var retryableStatusCodes = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(statusCode int) bool {
	_, ok := retryableStatusCodes[statusCode]
	return ok
}

// transientMarkers are substrings of vendor error text that indicate a
// transient transport or throttling condition.
var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"connection reset",
	"connection refused",
	"no such host",
	"i/o timeout",
	"temporarily unavailable",
	"service unavailable",
}

// IsTransient reports whether an error should be retried against the same
// provider. An elapsed context deadline is terminal: the overall call budget
// is gone, so repeating the same call cannot succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}
