package client

import (
	"context"
	"net/http"

	"github.com/andrew/avatar-studio/internal/guest"
)

// call invokes a session procedure with named parameters
func (c *Client) call(ctx context.Context, name string, params, out any, authorized bool) error {
	body, err := jsonBody(params)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/rpc/"+name, "application/json", body)
	if err != nil {
		return err
	}
	if authorized {
		return c.sendAuthorized(ctx, req, out)
	}
	return c.send(req, out)
}

// CreateAnonymousSession implements guest.Backend
func (c *Client) CreateAnonymousSession(ctx context.Context, p guest.CreateParams) (string, error) {
	var userID string
	err := c.call(ctx, "create_anonymous_session", map[string]string{
		"fingerprint_hash_param":  p.Fingerprint.Hash,
		"session_id_param":        p.SessionID,
		"user_agent_param":        p.Fingerprint.UserAgent,
		"screen_resolution_param": p.Fingerprint.ScreenResolution,
		"timezone_param":          p.Fingerprint.Timezone,
		"language_param":          p.Fingerprint.Language,
		"platform_param":          p.Fingerprint.Platform,
	}, &userID, false)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// GetAnonymousSession implements guest.Backend
func (c *Client) GetAnonymousSession(ctx context.Context, sessionID, userID string) (*guest.SessionRow, error) {
	var rows []guest.SessionRow
	err := c.call(ctx, "get_anonymous_session", map[string]string{
		"session_id_param": sessionID,
		"user_id_param":    userID,
	}, &rows, false)
	return c.first(rows, err)
}

// GetAnonymousSessionByID implements guest.Backend
func (c *Client) GetAnonymousSessionByID(ctx context.Context, userID string) (*guest.SessionRow, error) {
	var rows []guest.SessionRow
	err := c.call(ctx, "get_anonymous_session_by_id", map[string]string{
		"user_id_param": userID,
	}, &rows, false)
	return c.first(rows, err)
}

func (c *Client) first(rows []guest.SessionRow, err error) (*guest.SessionRow, error) {
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	c.remember(&row)
	return &row, nil
}

// ConsumeAnonymousTokens implements guest.Backend
func (c *Client) ConsumeAnonymousTokens(ctx context.Context, userID string, tokens int, activity string) (*guest.Balance, error) {
	var result struct {
		Success bool `json:"success"`
		guest.Balance
	}
	err := c.call(ctx, "consume_anonymous_tokens", map[string]any{
		"user_id_param":  userID,
		"tokens_param":   tokens,
		"activity_param": activity,
	}, &result, true)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, nil
	}
	return &result.Balance, nil
}

// IsAdmin reports whether key is an active admin key
func (c *Client) IsAdmin(ctx context.Context, key string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/rpc/is_admin", "application/json", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("apikey", key)

	var admin bool
	if err := c.send(req, &admin); err != nil {
		return false, err
	}
	return admin, nil
}
