// Package account defines the local identity record, the ordered role
// hierarchy, and the persistence contract shared by the credential,
// federated, linking and authorization paths.
//
// MemoryStore is a concurrency-safe in-process implementation used by tests
// and local development; store/postgres provides the durable one.
package account
