package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kioku/internal/model"
)

// EnsureTag returns the tag with the given name, creating it when absent.
func (db *DB) EnsureTag(ctx context.Context, name string) (model.Tag, error) {
	var t model.Tag
	err := db.pool.QueryRow(ctx,
		`INSERT INTO tags (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, created_at`,
		uuid.New(), name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return model.Tag{}, fmt.Errorf("storage: ensure tag: %w", err)
	}
	return t, nil
}

// GetTag retrieves a tag by name.
func (db *DB) GetTag(ctx context.Context, name string) (model.Tag, error) {
	var t model.Tag
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM tags WHERE name = $1`, name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tag{}, ErrNotFound
		}
		return model.Tag{}, fmt.Errorf("storage: get tag: %w", err)
	}
	return t, nil
}

// TagRecord attaches a tag (created on demand) to a record.
func (db *DB) TagRecord(ctx context.Context, recordID uuid.UUID, tagName string) error {
	t, err := db.EnsureTag(ctx, tagName)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO record_tags (record_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		recordID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: tag record: %w", err)
	}
	return nil
}

// RecordTags returns the tag names attached to a record.
func (db *DB) RecordTags(ctx context.Context, recordID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT t.name FROM tags t
		 JOIN record_tags rt ON rt.tag_id = t.id
		 WHERE rt.record_id = $1
		 ORDER BY t.name`, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: record tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("storage: scan tag: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ensureTagTx is EnsureTag within an existing transaction.
func ensureTagTx(ctx context.Context, tx pgx.Tx, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`INSERT INTO tags (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		uuid.New(), name,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: ensure tag: %w", err)
	}
	return id, nil
}
