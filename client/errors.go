package client

import (
	"errors"
	"fmt"
	"net"
)

// ErrReauthenticate is returned when the session could not be refreshed and
// has been cleared. The user has to sign in again.
var ErrReauthenticate = errors.New("session expired: sign in again")

// ErrNotAuthenticated is returned when a call needs a session and there is none.
var ErrNotAuthenticated = errors.New("not authenticated")

// NetworkError is a transport failure: the request never produced an HTTP
// response. It is safe to retry.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Kind identifies the error class for callers that switch on a string.
func (e *NetworkError) Kind() string { return "NetworkError" }

// Timeout reports whether the underlying failure was a timeout.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}
