package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/locomotiv/locomotiv_core/internal/models"
)

// FindOperatorKey returns the active, unexpired key with the given SHA-256 hash
func (r *Repository) FindOperatorKey(ctx context.Context, keyHash string) (*models.OperatorKey, error) {
	var key models.OperatorKey
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, rate_limit_per_second
		FROM operator_key
		WHERE key_hash = $1
			AND is_active = true
			AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&key.ID, &key.Name, &key.RateLimitPerSecond)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("operator key: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operator key: %w", err)
	}
	return &key, nil
}

// TouchOperatorKey records that a key was just used
func (r *Repository) TouchOperatorKey(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE operator_key SET last_used_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to touch operator key %s: %w", id, err)
	}
	return nil
}

// CreateOperatorKey stores a new key hash and returns its id
func (r *Repository) CreateOperatorKey(ctx context.Context, name, keyHash string, ratePerSecond int) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operator_key (id, name, key_hash, rate_limit_per_second)
		VALUES ($1, $2, $3, $4)
	`, id, name, keyHash, ratePerSecond)
	if err != nil {
		return "", fmt.Errorf("failed to create operator key: %w", err)
	}
	return id, nil
}
