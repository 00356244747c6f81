package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// Result is the transport outcome of one request. When NeedsRefresh is set
// the server answered 401, the response body has been drained and closed,
// and the caller should refresh before retrying.
type Result struct {
	Response     *http.Response
	NeedsRefresh bool

	token string
}

// Client talks to a hybridAuth server on behalf of one Session.
type Client struct {
	baseURL   string
	http      *http.Client
	session   *Session
	refresher *Refresher
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 15s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, session *Session, opts ...Option) *Client {
	if session == nil {
		session = NewSession(nil)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresher = NewRefresher(session, c.exchangeRefresh)
	return c
}

func (c *Client) Session() *Session { return c.session }

func (c *Client) Refresher() *Refresher { return c.refresher }

// Do sends req with the current access token unless the request already
// carries an Authorization header. A transport failure is a *NetworkError.
func (c *Client) Do(ctx context.Context, req *http.Request) (Result, error) {
	req = req.WithContext(ctx)
	var token string
	if req.Header.Get("Authorization") == "" {
		token = c.session.store.Snapshot().AccessToken
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &NetworkError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return Result{Response: resp, NeedsRefresh: true, token: token}, nil
	}
	return Result{Response: resp, token: token}, nil
}

// Fetch sends an authenticated JSON request. On a 401 it refreshes through
// the Refresher and retries once. A second 401 clears the session.
func (c *Client) Fetch(ctx context.Context, method, path string, body any) (*http.Response, error) {
	raw, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	res, err := c.doJSON(ctx, method, path, raw)
	if err != nil {
		return nil, err
	}
	if !res.NeedsRefresh {
		return res.Response, nil
	}

	if err := c.refresher.Refresh(ctx, res.token); err != nil {
		return nil, err
	}

	res, err = c.doJSON(ctx, method, path, raw)
	if err != nil {
		return nil, err
	}
	if res.NeedsRefresh {
		c.session.Clear()
		return nil, ErrReauthenticate
	}
	return res.Response, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, raw []byte) (Result, error) {
	req, err := c.newRequest(method, path, raw)
	if err != nil {
		return Result{}, err
	}
	return c.Do(ctx, req)
}

func (c *Client) newRequest(method, path string, raw []byte) (*http.Request, error) {
	var body io.Reader
	if raw != nil {
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

/*
====================================
AUTH ENDPOINTS
====================================
*/

type loginResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Account      Profile `json:"account"`
	AuthProvider string  `json:"auth_provider,omitempty"`
}

// Login signs in with email and password and replaces the session.
func (c *Client) Login(ctx context.Context, email, password string) (Profile, error) {
	var out loginResponse
	err := c.call(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return Profile{}, err
	}
	c.adopt(out)
	return out.Account, nil
}

// FederatedLogin exchanges a provider ID token for a session.
func (c *Client) FederatedLogin(ctx context.Context, idToken string) (Profile, error) {
	var out loginResponse
	err := c.call(ctx, http.MethodPost, "/auth/federated-login", "", map[string]string{
		"identity_token": idToken,
	}, &out)
	if err != nil {
		return Profile{}, err
	}
	c.adopt(out)
	return out.Account, nil
}

func (c *Client) adopt(out loginResponse) {
	p := out.Account
	c.session.store.Set(State{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Profile:      &p,
	})
}

// Logout revokes the refresh session on the server and always clears the
// local session.
func (c *Client) Logout(ctx context.Context) error {
	st := c.session.store.Snapshot()
	defer c.session.Clear()
	if st.RefreshToken == "" {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/auth/logout", st.RefreshToken, nil, nil)
}

// WhoAmI fetches the current profile and caches it in the session.
func (c *Client) WhoAmI(ctx context.Context) (Profile, error) {
	if !c.session.Authenticated() {
		return Profile{}, ErrNotAuthenticated
	}
	resp, err := c.Fetch(ctx, http.MethodGet, "/auth/whoami", nil)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := decodeResponse(resp, &p); err != nil {
		return Profile{}, err
	}
	c.session.store.SetProfile(p)
	return p, nil
}

// ChangePassword changes the password. The server revokes every refresh
// session, so the local session is cleared on success.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	resp, err := c.Fetch(ctx, http.MethodPost, "/auth/change-password", map[string]string{
		"current_password": current,
		"new_password":     next,
	})
	if err != nil {
		return err
	}
	if err := decodeResponse(resp, nil); err != nil {
		return err
	}
	c.session.Clear()
	return nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, next string) error {
	return c.call(ctx, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"token":        token,
		"new_password": next,
	}, nil)
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodPost, "/auth/verify-email", "", map[string]string{"token": token}, nil)
}

func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/auth/resend-verification", "", map[string]string{"email": email}, nil)
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (string, string, error) {
	var out refreshResponse
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", refreshToken, nil, &out); err != nil {
		return "", "", err
	}
	if out.AccessToken == "" {
		return "", "", errors.New("refresh response without access token")
	}
	return out.AccessToken, out.RefreshToken, nil
}

// call bypasses Do: the session's access token is never attached and a 401
// never triggers a refresh.
func (c *Client) call(ctx context.Context, method, path, bearer string, body, out any) error {
	raw, err := encodeBody(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(method, path, raw)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return &NetworkError{Op: method, URL: req.URL.String(), Err: err}
	}
	return decodeResponse(resp, out)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return raw, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
