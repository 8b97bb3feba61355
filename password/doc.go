// Package password implements one-way password digests.
//
// New digests use argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] also verifies bcrypt digests ($2a$, $2b$, $2y$) and reports them
// through [Multi.NeedsUpgrade] so callers can re-hash after the next
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy is
// enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other authgate package.
//   - Log plaintext passwords or digests.
package password
