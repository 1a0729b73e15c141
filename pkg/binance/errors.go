package binance

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies gateway errors for callers that need to explain a failure
// rather than inspect it.
type Kind string

const (
	KindBanned              Kind = "banned"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTransport           Kind = "transport"
	KindUnknown             Kind = "unknown"
)

// StatusError is the raw classification the REST client attaches to any
// non-2xx response. The executor turns it into one of the typed errors below;
// callers outside the executor should never see it.
type StatusError struct {
	Status     int
	Message    string
	RetryAfter time.Duration // from the Retry-After header, zero if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exchange returned %d: %s", e.Status, e.Message)
}

// BanError means the source IP is blocked. Permanent until the shared ban
// state is cleared manually; never retried automatically.
type BanError struct {
	Until time.Time
}

func (e *BanError) Error() string {
	return fmt.Sprintf("banned by exchange until %s", e.Until.Format(time.RFC3339))
}

// RateLimitError reports a throttled call. When Exhausted is set the retry
// budget is spent and the caller should treat the failure as permanent.
type RateLimitError struct {
	RetryAfter time.Duration
	Exhausted  bool
}

func (e *RateLimitError) Error() string {
	if e.Exhausted {
		return "rate limit exceeded: retry budget exhausted"
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError is any other non-2xx answer, carrying the upstream message.
// 5xx responses are retryable at the caller's discretion; 4xx are caller
// mistakes and permanent.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Message)
}

func (e *UpstreamError) Retryable() bool {
	return e.Status >= 500
}

// TransportError wraps timeouts, DNS and connection failures. The exchange
// may or may not have seen the request, so rate state is never mutated for it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its taxonomy kind.
func Classify(err error) Kind {
	var ban *BanError
	var rl *RateLimitError
	var up *UpstreamError
	var tr *TransportError

	switch {
	case errors.As(err, &ban):
		return KindBanned
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.As(err, &up):
		if up.Retryable() {
			return KindUpstreamUnavailable
		}
		return KindUpstreamRejected
	case errors.As(err, &tr):
		return KindTransport
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether a later attempt could succeed without outside
// intervention.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited:
		var rl *RateLimitError
		errors.As(err, &rl)
		return !rl.Exhausted
	case KindUpstreamUnavailable, KindTransport:
		return true
	default:
		return false
	}
}
