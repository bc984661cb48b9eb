// Package ratelimit provides fixed-window counters for per-caller bundling quotas.
package ratelimit

import (
	"context"
	"time"
)

// Store counts requests per key in fixed windows. Implementations:
//   - MemoryStore: one instance
//   - PostgresStore: several instances sharing the service database
//   - RedisStore: several instances sharing Redis, Dragonfly, Valkey or KeyDB
type Store interface {
	// Increment adds one to key. A missing or ended window restarts at 1
	// and lasts window. It returns the count and the end of the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)

	// Close releases resources the store owns
	Close() error
}

// Cleaner is implemented by stores whose expired counters must be purged periodically
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Caller kinds with separate quotas
const (
	KindUser  = "user"
	KindGuest = "guest"
)

// Result contains the rate limit check result
type Result struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	// ResetAt is when the current window ends
	ResetAt time.Time
	// Kind is the quota that was charged
	Kind string
}

// RetryAfter is the time until the window resets, rounded up to whole seconds
func (r *Result) RetryAfter() time.Duration {
	d := time.Until(r.ResetAt)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// Check charges one request to key and reports whether it fits in limit
func Check(ctx context.Context, store Store, key string, limit int64, window time.Duration) (*Result, error) {
	count, resetAt, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}

	return &Result{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}

// Quotas are the bundle allowances per window. Authenticated users are
// counted by user id, anonymous callers by client IP.
type Quotas struct {
	User   int64
	Guest  int64
	Window time.Duration
}

// Key returns the quota kind and counter key for a caller
func (q Quotas) Key(userID, ip string) (kind, key string) {
	if userID != "" {
		return KindUser, "bundle:user:" + userID
	}
	return KindGuest, "bundle:guest:" + ip
}

// Check charges one bundle to the caller's quota
func (q Quotas) Check(ctx context.Context, store Store, userID, ip string) (*Result, error) {
	kind, key := q.Key(userID, ip)
	limit := q.Guest
	if kind == KindUser {
		limit = q.User
	}

	res, err := Check(ctx, store, key, limit, q.Window)
	if err != nil {
		return nil, err
	}
	res.Kind = kind
	return res, nil
}
