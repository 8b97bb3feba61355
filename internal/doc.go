// Package internal holds the crypto/rand helpers behind session ids, email
// codes and reset tokens, plus the at-rest hash for single-use secrets.
//
// # Sub-packages
//
//   - limiters: issue-rate and TOTP failure limiters
//   - rate: Redis fixed windows and the failed-login throttle
//   - stores: the Redis token store with atomic consume
package internal
