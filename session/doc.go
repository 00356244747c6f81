// Package session provides the Redis-backed refresh-session store.
//
// Each session is a Redis hash holding the owning account id, the sha256 of
// the current refresh secret, and its lifetime. Rotation and revocation run
// as Lua scripts so a compare-and-swap on the refresh hash is atomic: of N
// concurrent rotations with the same secret exactly one succeeds, and a
// presented secret that no longer matches deletes the session.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does not parse
// access tokens or make authorization decisions.
//
// # What this package must NOT do
//
//   - Import hybridAuth or jwt (no upward imports).
//   - Store plaintext refresh secrets.
package session
