package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/ledger"
)

func costEUR(tokens int) float64 {
	return float64(tokens) / ledger.TokensPerEuro
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTokenUsage(ctx context.Context, e execer, u models.TokenUsage) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO token_usage_history (id, user_id, activity_type, activity_description, tokens_used, cost_eur, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID,
		u.UserID,
		u.ActivityType,
		u.ActivityDescription,
		u.TokensUsed,
		u.CostEUR,
		u.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert token usage: %w", err)
	}
	return nil
}

// ListTokenUsage retrieves a user's history with optional time bounds, newest first
func (db *DB) ListTokenUsage(ctx context.Context, userID string, limit, offset int, startTime, endTime *time.Time) ([]models.TokenUsage, error) {
	query := `
		SELECT id, user_id, activity_type, activity_description, tokens_used, cost_eur, created_at
		FROM token_usage_history
		WHERE user_id = ?
	`
	args := []any{userID}

	if startTime != nil {
		query += " AND created_at >= ?"
		args = append(args, startTime.UTC())
	}
	if endTime != nil {
		query += " AND created_at <= ?"
		args = append(args, endTime.UTC())
	}

	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var history []models.TokenUsage
	for rows.Next() {
		var u models.TokenUsage
		if err := rows.Scan(
			&u.ID,
			&u.UserID,
			&u.ActivityType,
			&u.ActivityDescription,
			&u.TokensUsed,
			&u.CostEUR,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		history = append(history, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token usage: %w", err)
	}
	return history, nil
}

// UsageStore exposes token_usage_history as a ledger event log. Debits made
// through ConsumeAnonymousTokens appear in it as well.
type UsageStore struct {
	db *DB
}

// UsageStore returns the ledger view of the history table
func (db *DB) UsageStore() *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Load(ctx context.Context) ([]ledger.Record, error) {
	return s.query(ctx, `
		SELECT id, user_id, activity_type, tokens_used, cost_eur, created_at
		FROM token_usage_history
		ORDER BY created_at
	`)
}

// LoadSince returns the rows created at or after since
func (s *UsageStore) LoadSince(ctx context.Context, since time.Time) ([]ledger.Record, error) {
	return s.query(ctx, `
		SELECT id, user_id, activity_type, tokens_used, cost_eur, created_at
		FROM token_usage_history
		WHERE created_at >= ?
		ORDER BY created_at
	`, since.UTC())
}

func (s *UsageStore) query(ctx context.Context, query string, args ...any) ([]ledger.Record, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var r ledger.Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Activity, &r.TokensUsed, &r.EurosCost, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *UsageStore) Append(ctx context.Context, rec ledger.Record) error {
	return insertTokenUsage(ctx, s.db.conn, models.TokenUsage{
		ID:           rec.ID,
		UserID:       rec.UserID,
		ActivityType: rec.Activity,
		TokensUsed:   rec.TokensUsed,
		CostEUR:      rec.EurosCost,
		CreatedAt:    rec.Timestamp,
	})
}
