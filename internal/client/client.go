// Package client talks to the avatar-studio server on behalf of one device.
// It implements guest.Backend over the session procedures and wraps the /v1
// API with the guest bearer token of the active session.
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
	"sync"
	"time"

	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/guest"
)

// tokenRefreshSkew renews guest tokens this long before they expire
const tokenRefreshSkew = time.Minute

// ErrNoSession is returned by /v1 calls before any session was resolved
var ErrNoSession = errors.New("no active guest session")

// Error is a non-2xx server response. Error returns the server's message so
// callers can match on it.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

// StatusCode extracts the HTTP status of err, or 0
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Client is a server client bound to one device
type Client struct {
	baseURL string
	http    *http.Client
	attrs   fingerprint.Attributes
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]string // user id → session id
	userID   string
	token    string
	expires  time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock sets the time source used for token expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client for the server at baseURL. attrs are sent with every
// request so the server can rate limit per device.
func New(baseURL string, attrs fingerprint.Attributes, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: 2 * time.Minute},
		attrs:    attrs,
		now:      time.Now,
		sessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the user of the most recently resolved session
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// remember binds a session row to this client and makes it current
func (c *Client) remember(row *guest.SessionRow) {
	if row == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[row.ID] = row.SessionID
	if c.userID != row.ID {
		c.userID = row.ID
		c.token = ""
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.attrs.Apply(req)
	return req, nil
}

func jsonBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// send executes req and decodes a 2xx body into out
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GuestToken is the server's answer to a token exchange
type GuestToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// bearer returns a valid token for the current session, exchanging the
// session pair with the server when needed
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	userID := c.userID
	sessionID := c.sessions[userID]
	if c.token != "" && c.now().Add(tokenRefreshSkew).Before(c.expires) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	if userID == "" || sessionID == "" {
		return "", ErrNoSession
	}

	body, err := jsonBody(map[string]string{"session_id": sessionID, "user_id": userID})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/guest", "application/json", body)
	if err != nil {
		return "", err
	}

	var tok GuestToken
	if err := c.send(req, &tok); err != nil {
		return "", fmt.Errorf("failed to obtain guest token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == userID {
		c.token = tok.Token
		c.expires = tok.ExpiresAt
	}
	return tok.Token, nil
}

// do sends a JSON request to an authenticated route
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	return c.sendAuthorized(ctx, req, out)
}

func (c *Client) sendAuthorized(ctx context.Context, req *http.Request, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.send(req, out)
}
