// Package middleware exposes net/http guards built on hybridAuth.Engine
// authorization.
//
// # Guards
//
//   - [Guard] admits requests whose account holds at least a given role.
//   - [RequireUser], [RequireViewer], [RequireAdmin], [RequireSuperadmin]
//     are shorthands for the four ranks.
//
// Each guard reads the Authorization header, calls Engine.Authorize and
// stores the resulting [hybridAuth.Principal] in the request context, where
// [PrincipalFromContext] finds it.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token parsing,
// account lookup and the role comparison all happen in the Engine.
//
// # Status mapping
//
//   - ErrUnauthorized: 401
//   - ErrForbidden and ErrLinkingDenied: 403
//   - anything else: 503
package middleware
