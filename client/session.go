package client

// Session is the signed-in user context. Create one at startup and pass it
// to the components that need it.
type Session struct {
	store *Store
}

// NewSession wraps store. A nil store gets a fresh one without a mirror.
func NewSession(store *Store) *Session {
	if store == nil {
		store = NewStore(nil)
	}
	return &Session{store: store}
}

// Store returns the backing store.
func (s *Session) Store() *Store { return s.store }

// Authenticated reports whether a session is present.
func (s *Session) Authenticated() bool {
	return s.store.Snapshot().Authenticated()
}

// Profile returns the signed-in profile, or false when there is none.
func (s *Session) Profile() (Profile, bool) {
	st := s.store.Snapshot()
	if st.Profile == nil {
		return Profile{}, false
	}
	return *st.Profile, true
}

// HasRole reports whether the cached profile role ranks at least min. The
// server re-checks on every request; this is only for presentation.
func (s *Session) HasRole(min string) bool {
	p, ok := s.Profile()
	if !ok {
		return false
	}
	have, want := roleRank[p.Role], roleRank[min]
	return have > 0 && want > 0 && have >= want
}

// Clear ends the local session.
func (s *Session) Clear() {
	s.store.Clear()
}

var roleRank = map[string]int{
	"user":       1,
	"viewer":     10,
	"admin":      50,
	"superadmin": 100,
}
