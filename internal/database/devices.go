package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andrew/avatar-studio/internal/database/models"
)

// GetDevicePolicy returns the policy and session count for a fingerprint.
// A device without an operator decision yields a policy with zero values.
func (db *DB) GetDevicePolicy(ctx context.Context, fingerprintHash string) (*models.DevicePolicy, error) {
	policy, err := devicePolicy(ctx, db.conn, fingerprintHash)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = &models.DevicePolicy{FingerprintHash: fingerprintHash}
	}

	policy.SessionCount, err = sessionCount(ctx, db.conn, fingerprintHash)
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// BlockDevice prevents any further guest sessions from the fingerprint
func (db *DB) BlockDevice(ctx context.Context, fingerprintHash, reason string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO device_policies (fingerprint_hash, blocked, reason, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(fingerprint_hash) DO UPDATE SET blocked = 1, reason = excluded.reason, updated_at = excluded.updated_at
	`, fingerprintHash, reason, db.now())
	if err != nil {
		return fmt.Errorf("failed to block device: %w", err)
	}
	return nil
}

// UnblockDevice lifts a block and lets the fingerprint open one more session
func (db *DB) UnblockDevice(ctx context.Context, fingerprintHash string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		count, err := sessionCount(ctx, tx, fingerprintHash)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_policies (fingerprint_hash, blocked, reason, session_allowance, updated_at)
			VALUES (?, 0, '', ?, ?)
			ON CONFLICT(fingerprint_hash) DO UPDATE SET
				blocked = 0, reason = '', session_allowance = excluded.session_allowance, updated_at = excluded.updated_at
		`, fingerprintHash, count+1, db.now())
		if err != nil {
			return fmt.Errorf("failed to unblock device: %w", err)
		}
		return nil
	})
}

func devicePolicy(ctx context.Context, q querier, fingerprintHash string) (*models.DevicePolicy, error) {
	var p models.DevicePolicy
	var allowance sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT fingerprint_hash, blocked, reason, session_allowance, updated_at
		FROM device_policies
		WHERE fingerprint_hash = ?
	`, fingerprintHash).Scan(&p.FingerprintHash, &p.Blocked, &p.Reason, &allowance, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device policy: %w", err)
	}
	if allowance.Valid {
		n := int(allowance.Int64)
		p.SessionAllowance = &n
	}
	return &p, nil
}
