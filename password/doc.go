// Package password implements password hashing, verification and strength
// policy.
//
// # Output format
//
// New hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes ($2a$, $2b$, $2y$) carried over from
// earlier deployments. [Hasher.NeedsUpgrade] reports true for those and for
// argon2id hashes produced with weaker parameters, so the caller can re-hash
// on the next successful login.
//
// # Policy
//
// [Policy.Check] enforces minimum length, character classes and a common
// password denylist. It is applied to new passwords only, never at login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other hybridAuth package.
//   - Log plaintext passwords.
package password
