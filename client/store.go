// Package client is a Go client for the hybridAuth HTTP API.
//
// Session state lives in exactly one place, a [Store]. An optional
// [LegacyMirror] receives a copy of every write for consumers that still
// read the old storage layout; it is never read back. A [Session] wraps the
// store and is handed to whoever needs the signed-in user, instead of a
// process-wide "current user".
//
// [Client.Do] never turns a 401 into an error. It reports NeedsRefresh in
// its [Result] and [Client.Fetch] drives the [Refresher], which coalesces
// concurrent refreshes into one network call.
package client

import "sync"

// Profile is the account view returned by login and whoami.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Active        bool   `json:"active"`
	Provider      string `json:"provider"`
	EmailVerified bool   `json:"email_verified"`
}

// State is one logical session record.
type State struct {
	AccessToken  string
	RefreshToken string
	Profile      *Profile
}

// Authenticated reports whether the state carries an access token.
func (s State) Authenticated() bool {
	return s.AccessToken != ""
}

func (s State) clone() State {
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

// LegacyMirror receives every write made to a Store. Implementations must
// not be used as a source of truth.
type LegacyMirror interface {
	Write(State)
	Clear()
}

// Store is the single authoritative holder of session state.
type Store struct {
	mu     sync.RWMutex
	state  State
	mirror LegacyMirror
}

// NewStore returns an empty store. mirror may be nil.
func NewStore(mirror LegacyMirror) *Store {
	return &Store{mirror: mirror}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Set replaces the whole record.
func (s *Store) Set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.clone()
	s.mirrorLocked()
}

// SetTokens updates the token pair and keeps the profile. An empty refresh
// token keeps the current one, which is what the server sends when
// rotation is off.
func (s *Store) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = access
	if refresh != "" {
		s.state.RefreshToken = refresh
	}
	s.mirrorLocked()
}

// SetProfile updates the profile and keeps the tokens.
func (s *Store) SetProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Profile = &p
	s.mirrorLocked()
}

// Clear drops the record and the mirror.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	if s.mirror != nil {
		s.mirror.Clear()
	}
}

func (s *Store) mirrorLocked() {
	if s.mirror != nil {
		s.mirror.Write(s.state.clone())
	}
}

// MapMirror is a LegacyMirror that flattens state into string keys, the
// shape older consumers expect in key-value storage.
type MapMirror struct {
	mu   sync.Mutex
	data map[string]string
}

const (
	MirrorKeyAccessToken  = "access_token"
	MirrorKeyRefreshToken = "refresh_token"
	MirrorKeyUserID       = "user_id"
	MirrorKeyUserEmail    = "user_email"
	MirrorKeyUserRole     = "user_role"
)

func NewMapMirror() *MapMirror {
	return &MapMirror{data: make(map[string]string)}
}

func (m *MapMirror) Write(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string]string{
		MirrorKeyAccessToken:  st.AccessToken,
		MirrorKeyRefreshToken: st.RefreshToken,
	}
	if st.Profile != nil {
		m.data[MirrorKeyUserID] = st.Profile.ID
		m.data[MirrorKeyUserEmail] = st.Profile.Email
		m.data[MirrorKeyUserRole] = st.Profile.Role
	}
}

func (m *MapMirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
}

// Get returns a mirrored value. It exists for the legacy consumers the
// mirror feeds.
func (m *MapMirror) Get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}
