// Package internal holds helpers private to hybridAuth: random identifiers
// and the opaque id||secret token encoding shared by refresh, password-reset
// and email-verification tokens.
//
// # Sub-packages
//
//   - audit: async event dispatch
//   - config: environment configuration via viper
//   - httpapi: HTTP/JSON transport for the engine
//   - ids: sortable record identifiers
//   - logger: zap logger construction
//   - rate: Redis-backed fixed-window counters
//   - stores: Redis single-use token store
package internal
