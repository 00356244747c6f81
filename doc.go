// Package hybridAuth authenticates principals by local password or by a
// federated identity-provider token, resolves either to exactly one local
// account, and issues short-lived access JWTs with rotating opaque refresh
// tokens held in Redis.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// hybridAuth is the public surface: [Engine], [Builder], [Config] and value
// types such as [TokenPair], [Profile] and [AuditEvent]. Token encoding,
// one-time token storage, request throttling and audit dispatch live under
// internal/. Account persistence is supplied by the caller through
// account.Store; store/postgres provides the production implementation.
//
// # Trust rules
//
//   - Role and active state are read from the account store on every
//     authorization. Token claims only identify the account.
//   - An email match never overrides an existing federated subject binding.
//   - Credential failures are indistinguishable to callers. Reasons are kept
//     in audit details and logs.
//
// # Cost per call
//
// Authorize is one JWT verification and one account read. Login and
// FederatedLogin are one password hash or one provider signature check,
// a few account store calls and one Redis transaction. Refresh is one Lua
// script plus one account read.
package hybridAuth
