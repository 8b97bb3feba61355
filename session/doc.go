// Package session provides Redis-backed server-side sessions.
//
// A session is a Redis hash keyed by an opaque random id with a sliding idle
// TTL. Sessions bound to an account (through [FieldAccountID]) are indexed
// per account so that every session of an account can be revoked at once.
//
// # Architecture boundaries
//
// This package stores string fields. It does NOT decide what the fields mean
// or whether a request is authorized; the Engine's session gate owns that.
//
// # What this package must NOT do
//
//   - Import authgate (no upward imports).
//   - Store secrets in session fields.
package session
