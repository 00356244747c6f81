// Package linking maps a verified federated identity onto exactly one local
// account.
//
// The [Resolver] applies a fixed priority: an existing subject binding wins,
// then a verified email may bind an unlinked account, then auto-provisioning
// may create one. An email match never overrides an existing subject
// binding. Every call returns one [Decision]; denials carry no account.
package linking
