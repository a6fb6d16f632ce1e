package management

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/ledger"
)

// Result is the JSON envelope every automation command prints
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SessionsOutput lists guest sessions
type SessionsOutput struct {
	Result
	Sessions []models.AnonymousSession `json:"sessions,omitempty"`
}

// DeviceOutput reports a device policy
type DeviceOutput struct {
	Result
	Device *models.DevicePolicy `json:"device,omitempty"`
}

// GrantInput is the JSON input of a grant
type GrantInput struct {
	UserID string `json:"user_id"`
	Tokens int    `json:"tokens"`
}

// GrantOutput reports the balance after a grant
type GrantOutput struct {
	Result
	Balance *models.Balance `json:"balance,omitempty"`
}

// UsageOutput reports a session's usage stats
type UsageOutput struct {
	Result
	UserID string             `json:"user_id,omitempty"`
	Stats  *ledger.UsageStats `json:"stats,omitempty"`
}

// AddAdminOutput carries a newly created admin key
type AddAdminOutput struct {
	Result
	KeyID  int64  `json:"key_id,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// AdminsOutput lists admin keys
type AdminsOutput struct {
	Result
	Keys []models.AdminKey `json:"keys,omitempty"`
}

// fail prints a failed result and returns the error for the exit code
func (m *Manager) fail(out any, res *Result, err error) error {
	res.Success = false
	res.Error = err.Error()
	m.printJSON(out)
	return err
}

// ListSessionsJSON prints the newest sessions
func (m *Manager) ListSessionsJSON(ctx context.Context, limit int) error {
	var out SessionsOutput
	if limit <= 0 {
		limit = listPageSize
	}
	sessions, err := m.db.ListAnonymousSessions(ctx, limit, 0)
	if err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to list sessions: %w", err))
	}
	out.Success = true
	out.Sessions = sessions
	m.printJSON(out)
	return nil
}

// BlockDeviceJSON blocks a fingerprint. input is the hash, optionally
// followed by ":" and a reason.
func (m *Manager) BlockDeviceJSON(ctx context.Context, input string) error {
	var out DeviceOutput
	hash, reason, _ := strings.Cut(input, ":")
	if strings.TrimSpace(hash) == "" {
		return m.fail(&out, &out.Result, fmt.Errorf("fingerprint is required"))
	}

	policy, err := m.block(ctx, strings.TrimSpace(hash), strings.TrimSpace(reason))
	if err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to block device: %w", err))
	}
	out.Success = true
	out.Device = policy
	m.printJSON(out)
	return nil
}

// UnblockDeviceJSON unblocks a fingerprint
func (m *Manager) UnblockDeviceJSON(ctx context.Context, hash string) error {
	var out DeviceOutput
	if strings.TrimSpace(hash) == "" {
		return m.fail(&out, &out.Result, fmt.Errorf("fingerprint is required"))
	}

	policy, err := m.unblock(ctx, strings.TrimSpace(hash))
	if err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to unblock device: %w", err))
	}
	out.Success = true
	out.Device = policy
	m.printJSON(out)
	return nil
}

// GrantTokensJSON handles {"user_id","tokens"}
func (m *Manager) GrantTokensJSON(ctx context.Context, inputJSON string) error {
	var out GrantOutput
	var input GrantInput
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("invalid JSON input: %w", err))
	}
	if input.UserID == "" || input.Tokens <= 0 {
		return m.fail(&out, &out.Result, fmt.Errorf("user_id and positive tokens are required"))
	}

	balance, err := m.db.GrantTokens(ctx, input.UserID, input.Tokens)
	if err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to grant tokens: %w", err))
	}
	out.Success = true
	out.Balance = balance
	m.printJSON(out)
	return nil
}

// UsageStatsJSON prints one session's usage stats
func (m *Manager) UsageStatsJSON(ctx context.Context, userID string) error {
	out := UsageOutput{UserID: userID}
	if userID == "" {
		return m.fail(&out, &out.Result, fmt.Errorf("user id is required"))
	}
	if err := m.ledger.Reload(ctx); err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to load usage: %w", err))
	}

	stats := m.ledger.UsageStats(userID)
	out.Success = true
	out.Stats = &stats
	m.printJSON(out)
	return nil
}

// AddAdminJSON creates an admin key named name
func (m *Manager) AddAdminJSON(ctx context.Context, name string) error {
	var out AddAdminOutput
	if strings.TrimSpace(name) == "" {
		return m.fail(&out, &out.Result, fmt.Errorf("name is required"))
	}

	admin, key, err := m.createAdminKey(ctx, strings.TrimSpace(name))
	if err != nil {
		return m.fail(&out, &out.Result, err)
	}
	out.Success = true
	out.KeyID = admin.ID
	out.APIKey = key
	m.printJSON(out)
	return nil
}

// ListAdminsJSON prints every admin key
func (m *Manager) ListAdminsJSON(ctx context.Context) error {
	var out AdminsOutput
	keys, err := m.db.ListAdminKeys(ctx)
	if err != nil {
		return m.fail(&out, &out.Result, fmt.Errorf("failed to list admin keys: %w", err))
	}
	out.Success = true
	out.Keys = keys
	m.printJSON(out)
	return nil
}

// DeleteAdminJSON deletes an admin key by id
func (m *Manager) DeleteAdminJSON(ctx context.Context, id int64) error {
	var out Result
	if err := m.db.DeleteAdminKey(ctx, id); err != nil {
		return m.fail(&out, &out, fmt.Errorf("failed to delete admin key: %w", err))
	}
	out.Success = true
	m.printJSON(out)
	return nil
}
