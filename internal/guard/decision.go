// Package guard holds in-process admission checks: webhook rate limiting, per-method
// circuit breaking for payouts, and overlap protection for scheduled runs.
package guard

import "time"

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	Reason  string
	// Guard names the guard that refused.
	Guard string
	// RetryAfter is how long until the same check may pass; zero when unknown.
	RetryAfter time.Duration
}

var allow = Decision{Allowed: true}

func deny(guard, reason string, retryAfter time.Duration) Decision {
	return Decision{Reason: reason, Guard: guard, RetryAfter: retryAfter}
}
