// Package stores provides Redis-backed, short-lived record stores for
// password reset and email verification tokens.
//
// Each record is a versioned binary blob with a TTL, keyed by token id and
// namespaced by [Purpose]. Consume uses WATCH/MULTI optimistic transactions
// with retry on contention. Records are single-use, wrong-secret guesses are
// bounded, and secret comparison is constant time.
//
// This package does not generate tokens, enforce request rate limits or log
// plaintext secrets.
package stores
