// Package federated verifies tokens minted by an external identity provider.
//
// A [Verifier] checks the JOSE header against an algorithm allow-list with
// go-jose, verifies the signature against the provider's key set through
// go-oidc (a remote JWKS that is cached and refetched on an unknown kid),
// then validates iss, exp, nbf, token_use, aud or client_id, and sub.
//
// Every failure is reported as [ErrVerification]. Key-set fetch failures
// additionally match [ErrKeySetUnavailable] so callers can log them, but
// they must still be surfaced to end users as a generic failure.
package federated
