package client

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// RefreshState is the coordinator state.
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
)

func (s RefreshState) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// RefreshFunc exchanges a refresh token for new tokens. refresh may be
// empty when the server did not rotate. A *NetworkError means the exchange
// never reached the server.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Refresher serializes token refresh for one Session. Callers that arrive
// while a refresh is in flight wait for it and share its outcome.
type Refresher struct {
	session *Session
	fn      RefreshFunc
	group   singleflight.Group
	state   atomic.Int32
	calls   atomic.Int64
}

func NewRefresher(session *Session, fn RefreshFunc) *Refresher {
	return &Refresher{session: session, fn: fn}
}

// State returns the current coordinator state.
func (r *Refresher) State() RefreshState {
	return RefreshState(r.state.Load())
}

// Calls counts exchanges that actually reached fn.
func (r *Refresher) Calls() int64 {
	return r.calls.Load()
}

// Refresh renews the session that produced staleAccess. If the store already
// holds a different access token, another caller refreshed first and
// Refresh returns immediately.
//
// A rejected refresh clears the session and returns ErrReauthenticate. A
// network failure or a 5xx leaves the session intact and returns the
// *NetworkError or *APIError.
func (r *Refresher) Refresh(ctx context.Context, staleAccess string) error {
	ch := r.group.DoChan("refresh", func() (any, error) {
		return nil, r.run(context.WithoutCancel(ctx), staleAccess)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) run(ctx context.Context, staleAccess string) error {
	st := r.session.store.Snapshot()
	if st.AccessToken != "" && st.AccessToken != staleAccess {
		return nil
	}
	if st.RefreshToken == "" {
		r.session.Clear()
		return ErrReauthenticate
	}

	r.state.Store(int32(StateRefreshing))
	defer r.state.Store(int32(StateIdle))
	r.calls.Add(1)

	access, refresh, err := r.fn(ctx, st.RefreshToken)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
			return err
		}
		r.session.Clear()
		return ErrReauthenticate
	}
	r.session.store.SetTokens(access, refresh)
	return nil
}
