package ratelimit

import "time"

// Limit caps the number of hits in a sliding window.
type Limit struct {
	Max    int64
	Window time.Duration
}

// PerMinute returns a limit of n hits per minute.
func PerMinute(n int64) Limit {
	return Limit{Max: n, Window: time.Minute}
}

// PerHour returns a limit of n hits per hour.
func PerHour(n int64) Limit {
	return Limit{Max: n, Window: time.Hour}
}

// Policy maps each scope to its limits. A request passes only when every limit
// of every scope it resolves to still has room.
type Policy map[Scope][]Limit

// DefaultPolicy keeps link opens generous and ledger administration tight.
func DefaultPolicy() Policy {
	return Policy{
		ScopeGlobal: {PerMinute(1000)},
		ScopeRead:   {PerMinute(600)},
		ScopeWrite:  {PerMinute(60), PerHour(1000)},
		ScopeAdmin:  {PerMinute(10)},
	}
}

// MaxWindow returns the longest window of any limit in the policy.
func (p Policy) MaxWindow() time.Duration {
	var longest time.Duration

	for _, limits := range p {
		for _, limit := range limits {
			longest = max(longest, limit.Window)
		}
	}

	return longest
}
