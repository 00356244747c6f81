// Package audit implements async event delivery for security-relevant
// operations.
//
// [Dispatcher] is a buffered relay with drop-if-full or block-if-full
// semantics and a single worker goroutine. It is generic over the event
// type so that the event model stays with the caller; this package never
// decides which events to emit and never imports its callers.
package audit
