// Package authgate is a multi-factor credential and session lifecycle engine:
// registration with email verification, password login, optional TOTP second
// factor, password change and reset, all over Redis-backed sessions and
// single-use tokens.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([AccountStore], [Mailer], [SessionHandle],
// [CredentialVerifier]) and value types. Token storage, rate limiting and
// random generation live under internal/; the token lifecycle and session
// store are the token and session sub-packages.
//
// # Error contract
//
// Every Engine method returns nil or an error matching one of the sentinels
// in this package under errors.Is. Collaborator failures are logged and
// replaced with [ErrServerError]. [Classify] maps any returned error to a
// status class for the transport layer.
//
// # What this package must NOT do
//
//   - Return password digests or TOTP secrets, except the secret in the one
//     [TOTPSetup] produced by [Engine.SetupTOTP].
//   - Expose Redis clients or internal stores in its public API.
//   - Import any sub-package that re-imports authgate.
package authgate
