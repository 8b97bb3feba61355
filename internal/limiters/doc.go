// Package limiters holds the per-account limiters built on internal/rate:
// [IssueLimiter] caps how often a token kind is reissued, and [TOTPLimiter]
// counts code failures and remembers the last accepted time step.
//
// Every method is nil-safe; a nil limiter never limits.
package limiters
