package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Denial describes the limit a request ran into.
type Denial struct {
	// Bucket is the scope name, or "route:<path>" for route limits.
	Bucket string
	Limit  Limit
	Count  int64
}

// RetryAfter returns a conservative wait before the client should try again.
func (d *Denial) RetryAfter() time.Duration {
	return time.Duration(math.Ceil(d.Limit.Window.Seconds())) * time.Second
}

func (d *Denial) String() string {
	return fmt.Sprintf("%s, %d/%d requests in %s", d.Bucket, d.Count, d.Limit.Max, d.Limit.Window)
}

// Limiter records hits in a Store and checks them against a Policy.
type Limiter struct {
	store  Store
	policy Policy
}

// NewLimiter creates a limiter enforcing policy on top of store.
func NewLimiter(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy}
}

// Policy returns the policy the limiter enforces.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check records a hit for client in every scope and returns the first limit exceeded,
// or nil when the request may proceed. Scopes without limits are skipped.
func (l *Limiter) Check(ctx context.Context, client string, scopes []Scope) (*Denial, error) {
	for _, scope := range scopes {
		denial, err := l.check(ctx, client, string(scope), l.policy[scope])
		if denial != nil || err != nil {
			return denial, err
		}
	}

	return nil, nil
}

// CheckRoute records a hit for client against limits that belong to one route,
// independent of the scope policy. Counters are keyed by the route template.
func (l *Limiter) CheckRoute(ctx context.Context, client, route string, limits []Limit) (*Denial, error) {
	return l.check(ctx, client, "route:"+route, limits)
}

func (l *Limiter) check(ctx context.Context, client, bucket string, limits []Limit) (*Denial, error) {
	for _, limit := range limits {
		key := fmt.Sprintf("%s:%s:%d", client, bucket, limit.Window.Milliseconds())

		count, err := l.store.Record(ctx, key, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", bucket, err)
		}

		if count > limit.Max {
			return &Denial{Bucket: bucket, Limit: limit, Count: count}, nil
		}
	}

	return nil, nil
}
