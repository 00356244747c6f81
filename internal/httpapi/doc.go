// Package httpapi is the HTTP/JSON surface of a hybridAuth engine.
//
// Every route answers with JSON. Failures are {"error": "..."} with a generic
// message; detailed reasons stay in audit events and logs. Login-style routes
// are throttled per client IP with golang.org/x/time/rate in addition to the
// per-account throttles inside the engine.
package httpapi
