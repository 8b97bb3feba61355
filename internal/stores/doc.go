// Package stores provides Redis-backed record stores for the single-use
// secrets an account can hold: email verification codes and password reset
// tokens.
//
// # Design
//
// Each (kind, account) pair maps to exactly one versioned, binary-encoded
// record. Saving a record supersedes the previous one. Consume runs the
// read-compare-mark sequence inside a WATCH/MULTI optimistic transaction
// with bounded retry, so a record transitions to used at most once. Records
// are kept for a retention window after logical expiry; the Redis TTL is the
// only garbage collector. Secret comparisons use constant-time compare.
//
// # What this package must NOT do
//
//   - Import authgate or any sibling internal package.
//   - Store or log plaintext secrets.
//   - Read the wall clock; callers pass now.
package stores
