// Package authclient keeps the authentication state of a sessiond client.
//
// It mirrors what a browser frontend does: credentials are exchanged for a
// session cookie, the CSRF token cookie is echoed on unsafe requests and the
// local state is reset whenever the server no longer recognises the session.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultSessionCookie = "session_id"
	CSRFCookie           = "csrf-token"
	CSRFHeader           = "X-CSRF-Token"
)

type User struct {
	ID    string   `json:"id"`
	Login string   `json:"login,omitempty"`
	Roles []string `json:"roles"`
}

// State is a snapshot of the client's view of authentication.
type State struct {
	User            *User
	IsAuthenticated bool
	// AuthInitialized is set once the state reflects an answer, local or
	// from the server.
	AuthInitialized bool
}

// APIError is a non-2xx answer from sessiond.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sessiond: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	base          *url.URL
	http          *http.Client
	sessionCookie string
	logger        zerolog.Logger

	mu    sync.RWMutex
	state State
	hooks []func()
}

type Option func(*Client)

// WithHTTPClient sets the underlying client. A cookie jar is attached if it
// has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

func WithSessionCookie(name string) Option {
	return func(c *Client) { c.sessionCookie = name }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	c := &Client{
		base:          base,
		http:          &http.Client{Timeout: 30 * time.Second},
		sessionCookie: DefaultSessionCookie,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// State returns a copy of the current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	if st.User != nil {
		st.User = cloneUser(*st.User)
	}
	return st
}

// OnLogout registers fn to run on every Logout, for clearing state that
// belongs to the signed-in user.
func (c *Client) OnLogout(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Login records user as signed in. It does not talk to the server.
func (c *Client) Login(user User) {
	c.set(State{User: cloneUser(user), IsAuthenticated: true, AuthInitialized: true})
}

// SetUser replaces the user and leaves the authentication flags alone.
func (c *Client) SetUser(user User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.User = cloneUser(user)
}

// SignIn exchanges credentials for a session and records the user.
func (c *Client) SignIn(ctx context.Context, login, password string) (User, error) {
	var resp struct {
		User      User   `json:"user"`
		CSRFToken string `json:"csrfToken"`
	}
	body := map[string]string{"login": login, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.Login(resp.User)
	return resp.User, nil
}

// Logout ends the session on the server, ignoring failures, and always
// resets local state: hooks run, cookies are dropped and the client is left
// unauthenticated.
func (c *Client) Logout(ctx context.Context) {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		c.logger.Warn().Err(err).Msg("logout request failed")
	}

	c.mu.RLock()
	hooks := slices.Clone(c.hooks)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}

	c.clearCookies()
	c.set(State{AuthInitialized: true})
}

// CheckAuth resolves the state against the server. Without a session cookie
// the client is unauthenticated and no request is made. A rejected session
// drops the cookies.
func (c *Client) CheckAuth(ctx context.Context) State {
	if c.cookie(c.sessionCookie) == "" {
		c.set(State{AuthInitialized: true})
		return c.State()
	}

	var me User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &me); err != nil {
		c.logger.Debug().Err(err).Msg("session check failed")
		c.clearCookies()
		c.set(State{AuthInitialized: true})
		return c.State()
	}

	c.set(State{User: cloneUser(me), IsAuthenticated: true, AuthInitialized: true})
	return c.State()
}

// Do sends an API request with the session cookie and, for unsafe methods,
// the CSRF header. in is JSON-encoded when non-nil; out is decoded into when
// non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if !safeMethod(method) {
		if token := c.cookie(CSRFCookie); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}

// IsUnauthorized reports whether err is a 401 from sessiond.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) clearCookies() {
	expired := func(name string) *http.Cookie {
		return &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1}
	}
	c.http.Jar.SetCookies(c.base, []*http.Cookie{expired(c.sessionCookie), expired(CSRFCookie)})
}

func (c *Client) set(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
}

func cloneUser(u User) *User {
	u.Roles = slices.Clone(u.Roles)
	return &u
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
