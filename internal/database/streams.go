package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/andrew/avatar-studio/internal/database/models"
)

// CreateStream inserts a stream for its user
func (db *DB) CreateStream(ctx context.Context, s *models.Stream) error {
	s.ID = uuid.NewString()
	s.CreatedAt = db.now()
	if s.Status == "" {
		s.Status = "ready"
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO streams (id, user_id, title, description, avatar_url, type, is_public, auto_record, quality, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.UserID, s.Title, s.Description, s.AvatarURL, s.Type,
		s.IsPublic, s.AutoRecord, s.Quality, s.Status, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

// ListStreams returns a user's streams, newest first
func (db *DB) ListStreams(ctx context.Context, userID string) ([]models.Stream, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, title, description, avatar_url, type, is_public, auto_record, quality, status, created_at
		FROM streams
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	streams := []models.Stream{}
	for rows.Next() {
		var s models.Stream
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Title, &s.Description, &s.AvatarURL, &s.Type,
			&s.IsPublic, &s.AutoRecord, &s.Quality, &s.Status, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streams: %w", err)
	}
	return streams, nil
}

// CreateAgent records a provider agent created by a user
func (db *DB) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = db.now()
	if a.Status == "" {
		a.Status = "created"
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, provider_id, name, source_url, gender, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.ProviderID, a.Name, a.SourceURL, a.Gender, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// ListAgents returns a user's agents, newest first
func (db *DB) ListAgents(ctx context.Context, userID string) ([]models.Agent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, provider_id, name, source_url, gender, status, created_at
		FROM agents
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProviderID, &a.Name, &a.SourceURL, &a.Gender, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}
