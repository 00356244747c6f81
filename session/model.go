package session

import "time"

// Session is the server-side record behind one refresh token. Only the
// sha256 of the refresh secret is kept; the plaintext never reaches Redis.
type Session struct {
	ID          string
	AccountID   string
	RefreshHash [32]byte
	IP          string
	UserAgent   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
