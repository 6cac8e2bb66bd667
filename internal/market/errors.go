package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies provider failures for routing decisions
type ErrorKind int

const (
	// KindFatal errors (bad arguments, malformed requests) propagate
	// immediately without trying another provider.
	KindFatal ErrorKind = iota
	// KindRateLimit errors (HTTP 429, vendor "rate limit" bodies) trigger
	// backoff and fall through to the next slot.
	KindRateLimit
	// KindTransient errors (5xx, network) fall through to the next slot.
	KindTransient
	// KindUpstream errors (provider-side 4xx: auth, not found) fall through
	// to the next slot without backoff.
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindUpstream:
		return "upstream"
	default:
		return "fatal"
	}
}

// ProviderError is a typed failure from a vendor adapter
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the next slot should be tried
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindFatal
}

// Backoffable reports whether the failure should advance the provider's
// exponential backoff.
func (e *ProviderError) Backoffable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

// ErrAllProvidersFailed is returned when every slot in the hierarchy has
// been exhausted.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrCapabilityUnsupported is returned when no configured provider supports
// the requested capability.
var ErrCapabilityUnsupported = errors.New("capability not supported by configured providers")

// ClassifyHTTPError builds a ProviderError from an HTTP response status and
// body fragment.
func ClassifyHTTPError(provider string, status int, body string, err error) *ProviderError {
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" && err != nil {
		msg = err.Error()
	}

	kind := KindFatal
	switch {
	case status == 429 || containsRateLimit(msg):
		kind = KindRateLimit
	case status >= 500:
		kind = KindTransient
	case status == 401 || status == 403 || status == 404:
		kind = KindUpstream
	case status >= 400:
		kind = KindFatal
	case status == 0:
		// Network-level failure, no HTTP status
		kind = KindTransient
	}

	return &ProviderError{Provider: provider, StatusCode: status, Kind: kind, Message: msg, Err: err}
}

// ClassifyError wraps an arbitrary adapter error into a ProviderError
func ClassifyError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: KindTransient, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{Provider: provider, Kind: KindTransient, Message: netErr.Error(), Err: err}
	}
	if containsRateLimit(err.Error()) {
		return &ProviderError{Provider: provider, Kind: KindRateLimit, Message: err.Error(), Err: err}
	}
	return &ProviderError{Provider: provider, Kind: KindTransient, Message: err.Error(), Err: err}
}

func containsRateLimit(s string) bool {
	return strings.Contains(strings.ToLower(s), "rate limit")
}
