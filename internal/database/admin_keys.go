package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andrew/avatar-studio/internal/database/models"
)

// CreateAdminKey stores a new admin key hash
func (db *DB) CreateAdminKey(ctx context.Context, key *models.AdminKey) error {
	key.CreatedAt = db.now()
	key.IsActive = true

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO admin_keys (name, key_hash, created_at, is_active) VALUES (?, ?, ?, 1)`,
		key.Name, key.KeyHash, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAdminKeyByHash retrieves an admin key by its hash, or nil
func (db *DB) GetAdminKeyByHash(ctx context.Context, keyHash string) (*models.AdminKey, error) {
	var key models.AdminKey
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used_at, is_active
		FROM admin_keys
		WHERE key_hash = ?
	`, keyHash).Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.LastUsedAt, &key.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin key: %w", err)
	}
	return &key, nil
}

// ListAdminKeys returns all admin keys
func (db *DB) ListAdminKeys(ctx context.Context) ([]models.AdminKey, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used_at, is_active
		FROM admin_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin keys: %w", err)
	}
	defer rows.Close()

	var keys []models.AdminKey
	for rows.Next() {
		var key models.AdminKey
		if err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.LastUsedAt, &key.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan admin key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin keys: %w", err)
	}
	return keys, nil
}

// TouchAdminKey records a successful use of a key
func (db *DB) TouchAdminKey(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE admin_keys SET last_used_at = ? WHERE id = ?`, db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update admin key: %w", err)
	}
	return nil
}

// DeleteAdminKey deletes an admin key by ID
func (db *DB) DeleteAdminKey(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM admin_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("admin key %d not found", id)
	}
	return nil
}
