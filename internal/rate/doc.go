// Package rate provides Redis-backed fixed-window counters for
// per-account throttles that must hold across replicas, such as
// forgot-password and resend-verification requests per email.
//
// Window semantics: INCR plus EXPIRE on the first hit. Keys are
// prefix:rule:hash(subject).
//
// Per-IP HTTP limits are process-local and live in internal/httpapi.
package rate
