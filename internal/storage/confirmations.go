package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// PutConfirmation parks a pending confirmation behind its token.
// Tokens are stored uppercase; lookups are case-insensitive.
func (db *DB) PutConfirmation(ctx context.Context, p model.PendingConfirmation) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: marshal confirmation: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO confirmations (token, payload, source, created_at, expires_at)
		 VALUES ($1, $2::jsonb, $3, $4, $5)`,
		strings.ToUpper(p.Token), payload, p.Source, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put confirmation: %w", err)
	}
	return nil
}

// TakeConfirmation atomically removes and returns the confirmation for a
// token. The row is deleted whether or not the caller ultimately accepts
// the result: tokens are single-use by construction. Returns ErrNotFound
// for unknown tokens.
func (db *DB) TakeConfirmation(ctx context.Context, token string) (model.PendingConfirmation, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx,
		`DELETE FROM confirmations WHERE token = $1 RETURNING payload`,
		strings.ToUpper(token),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PendingConfirmation{}, ErrNotFound
		}
		return model.PendingConfirmation{}, fmt.Errorf("storage: take confirmation: %w", err)
	}

	var p model.PendingConfirmation
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("storage: unmarshal confirmation: %w", err)
	}
	return p, nil
}

// SweepConfirmations deletes all expired confirmations. Best-effort hygiene
// run before every lookup; bounds table growth.
func (db *DB) SweepConfirmations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM confirmations WHERE expires_at < $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep confirmations: %w", err)
	}
	return tag.RowsAffected(), nil
}
