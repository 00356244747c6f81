// Package jwt issues and verifies the application's own access tokens.
//
// An access token embeds the account id, the session id and a role snapshot.
// The role claim is a display hint only; authorization always re-reads the
// account. Tokens from the federated identity provider are handled by the
// federated package, not here.
package jwt
