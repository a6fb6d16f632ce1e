package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/andrew/avatar-studio/internal/database/models"
)

var (
	// ErrDeviceBlocked means the fingerprint may not open another guest session.
	ErrDeviceBlocked = errors.New("device blocked")
	// ErrInsufficientTokens means a debit exceeds the remaining balance.
	ErrInsufficientTokens = errors.New("insufficient tokens")
	// ErrSessionNotFound means no session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateSession means the client-generated session id is taken.
	ErrDuplicateSession = errors.New("session id already exists")
)

const sessionColumns = `
	id, session_id, fingerprint_hash, user_agent, screen_resolution, timezone,
	language, platform, total_tokens, used_tokens, created_at, last_activity_at
`

// CreateAnonymousSession applies the device policy and creates a session with
// startingTokens. maxPerDevice <= 0 disables the per-device limit.
func (db *DB) CreateAnonymousSession(ctx context.Context, p models.NewSession, startingTokens, maxPerDevice int) (string, error) {
	if p.FingerprintHash == "" || p.SessionID == "" {
		return "", fmt.Errorf("fingerprint hash and session id are required")
	}

	id := uuid.NewString()
	now := db.now()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		policy, err := devicePolicy(ctx, tx, p.FingerprintHash)
		if err != nil {
			return err
		}

		limit := maxPerDevice
		if policy != nil {
			if policy.Blocked {
				return ErrDeviceBlocked
			}
			if policy.SessionAllowance != nil {
				limit = *policy.SessionAllowance
			}
		}

		count, err := sessionCount(ctx, tx, p.FingerprintHash)
		if err != nil {
			return err
		}
		if limit > 0 && count >= limit {
			return ErrDeviceBlocked
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO anonymous_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`,
			id,
			p.SessionID,
			p.FingerprintHash,
			p.UserAgent,
			p.ScreenResolution,
			p.Timezone,
			p.Language,
			p.Platform,
			startingTokens,
			now,
			now,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicateSession
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetAnonymousSession returns the session matching both ids, or nil
func (db *DB) GetAnonymousSession(ctx context.Context, sessionID, userID string) (*models.AnonymousSession, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM anonymous_sessions WHERE session_id = ? AND id = ?`,
		sessionID, userID,
	)
	return scanSession(row)
}

// GetAnonymousSessionByID returns the session with the given user id, or nil
func (db *DB) GetAnonymousSessionByID(ctx context.Context, userID string) (*models.AnonymousSession, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM anonymous_sessions WHERE id = ?`,
		userID,
	)
	return scanSession(row)
}

// ListAnonymousSessions returns sessions newest first
func (db *DB) ListAnonymousSessions(ctx context.Context, limit, offset int) ([]models.AnonymousSession, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM anonymous_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.AnonymousSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// ConsumeAnonymousTokens debits tokens and writes a history row in one
// transaction, returning the balance after the debit.
func (db *DB) ConsumeAnonymousTokens(ctx context.Context, userID string, tokens int, activity string) (*models.Balance, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("tokens must be positive")
	}

	now := db.now()
	var balance models.Balance

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE anonymous_sessions
			SET used_tokens = used_tokens + ?, last_activity_at = ?
			WHERE id = ? AND used_tokens + ? <= total_tokens
		`, tokens, now, userID, tokens)
		if err != nil {
			return fmt.Errorf("failed to debit tokens: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read debit result: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM anonymous_sessions WHERE id = ?`, userID).Scan(&exists)
			if err == sql.ErrNoRows {
				return ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to look up session: %w", err)
			}
			return ErrInsufficientTokens
		}

		if err := insertTokenUsage(ctx, tx, models.TokenUsage{
			ID:           uuid.NewString(),
			UserID:       userID,
			ActivityType: activity,
			TokensUsed:   tokens,
			CostEUR:      costEUR(tokens),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx,
			`SELECT total_tokens, used_tokens FROM anonymous_sessions WHERE id = ?`, userID,
		).Scan(&balance.TotalTokens, &balance.UsedTokens)
	})
	if err != nil {
		return nil, err
	}

	balance.RemainingTokens = balance.TotalTokens - balance.UsedTokens
	return &balance, nil
}

// GrantTokens raises a session's total balance
func (db *DB) GrantTokens(ctx context.Context, userID string, tokens int) (*models.Balance, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("tokens must be positive")
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE anonymous_sessions SET total_tokens = total_tokens + ? WHERE id = ?`,
		tokens, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to grant tokens: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := db.GetAnonymousSessionByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return &models.Balance{
		TotalTokens:     session.TotalTokens,
		UsedTokens:      session.UsedTokens,
		RemainingTokens: session.RemainingTokens(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.AnonymousSession, error) {
	var s models.AnonymousSession
	err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.FingerprintHash,
		&s.UserAgent,
		&s.ScreenResolution,
		&s.Timezone,
		&s.Language,
		&s.Platform,
		&s.TotalTokens,
		&s.UsedTokens,
		&s.CreatedAt,
		&s.LastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

func sessionCount(ctx context.Context, q querier, fingerprintHash string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anonymous_sessions WHERE fingerprint_hash = ?`, fingerprintHash,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count device sessions: %w", err)
	}
	return count, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
