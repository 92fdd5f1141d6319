package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// Defaults match the public API policy.
const (
	DefaultMaxRequests = 5
	DefaultWindow      = 60 * time.Second
)

// ErrInvalidConfig is returned for a non-positive limit or window.
var ErrInvalidConfig = errors.New("ratelimit: max requests and window must be positive")

// Result describes the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns how long the client should wait, rounded up to a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// Limiter enforces MaxRequests per Window per key.
type Limiter struct {
	store       Store
	maxRequests int64
	window      time.Duration
}

// NewLimiter creates a fixed-window limiter over store.
func NewLimiter(store Store, maxRequests int, window time.Duration) (*Limiter, error) {
	if maxRequests <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Limiter{store: store, maxRequests: int64(maxRequests), window: window}, nil
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts one request for key and reports whether it fits the window.
// Rejected requests still count, so a client hammering the API does not
// get a fresh window early.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	remaining := l.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= l.maxRequests,
		Limit:     l.maxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Peek returns the current state for key without counting a request.
func (l *Limiter) Peek(ctx context.Context, key string) (Result, error) {
	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Allowed: true, Limit: l.maxRequests, Remaining: l.maxRequests}, nil
	}
	remaining := l.maxRequests - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   e.Count < l.maxRequests,
		Limit:     l.maxRequests,
		Remaining: remaining,
		ResetAt:   e.ResetAt,
	}, nil
}

// Reset clears key's window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Set(ctx, key, Entry{})
}

// ClientKey identifies the caller: the first X-Forwarded-For hop, else the
// remote IP.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
