// Package middleware exposes net/http adapters over authgate.Engine.
//
// # Guards
//
//   - [RequireTwoFactor]: admits logged-in sessions whose second factor is
//     satisfied and places the account view on the request context.
//
// The package translates HTTP semantics into Engine calls. It does not read
// Redis or inspect session fields itself; every decision comes from
// Engine.RequireTwoFactor, and errors are mapped with [StatusFor].
package middleware
