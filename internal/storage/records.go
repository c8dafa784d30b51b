package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
)

// previewLen bounds the preview column derived from a record body.
const previewLen = 200

// CreateRecord inserts a record, derives its preview, and attaches tags
// (created on demand) in one transaction. Concurrent creates sharing tags can
// deadlock on the tag upserts, so the transaction retries on 40P01/40001.
func (db *DB) CreateRecord(ctx context.Context, r model.Record) (model.Record, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Kind == "" {
		r.Kind = "text"
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Preview = makePreview(r.Body)

	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		return db.createRecordTx(ctx, r)
	})
	if err != nil {
		return model.Record{}, err
	}
	return r, nil
}

func (db *DB) createRecordTx(ctx context.Context, r model.Record) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO records (id, filename, kind, preview, body, archived, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.Filename, r.Kind, r.Preview, r.Body, r.Archived, r.Embedding, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create record: %w", err)
	}

	for _, name := range r.Tags {
		tagID, err := ensureTagTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO record_tags (record_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			r.ID, tagID,
		); err != nil {
			return fmt.Errorf("storage: tag record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record's metadata and body by ID.
func (db *DB) GetRecord(ctx context.Context, id uuid.UUID) (model.Record, error) {
	var r model.Record
	err := db.pool.QueryRow(ctx,
		`SELECT id, filename, kind, preview, body, archived, created_at, updated_at
		 FROM records WHERE id = $1`, id,
	).Scan(&r.ID, &r.Filename, &r.Kind, &r.Preview, &r.Body, &r.Archived, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("storage: get record: %w", err)
	}
	return r, nil
}

// FindRecordByFilename returns the most recently updated non-archived record
// with the exact filename (case-insensitive).
func (db *DB) FindRecordByFilename(ctx context.Context, filename string) (model.Record, error) {
	var r model.Record
	err := db.pool.QueryRow(ctx,
		`SELECT id, filename, kind, preview, body, archived, created_at, updated_at
		 FROM records
		 WHERE lower(filename) = lower($1) AND NOT archived
		 ORDER BY updated_at DESC
		 LIMIT 1`, filename,
	).Scan(&r.ID, &r.Filename, &r.Kind, &r.Preview, &r.Body, &r.Archived, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("storage: find record by filename: %w", err)
	}
	return r, nil
}

// AppendRecordBody appends text to a record's body and refreshes its preview.
// The body is never truncated by this method.
func (db *DB) AppendRecordBody(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE records
		 SET body = CASE WHEN body = '' THEN $2 ELSE body || E'\n' || $2 END,
		     preview = left(CASE WHEN body = '' THEN $2 ELSE body || E'\n' || $2 END, $3),
		     updated_at = now()
		 WHERE id = $1`,
		id, text, previewLen,
	)
	if err != nil {
		return fmt.Errorf("storage: append record body: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceRecordBody replaces a record's body wholesale.
func (db *DB) ReplaceRecordBody(ctx context.Context, id uuid.UUID, body string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE records SET body = $2, preview = $3, updated_at = now() WHERE id = $1`,
		id, body, makePreview(body),
	)
	if err != nil {
		return fmt.Errorf("storage: replace record body: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record. Irreversible; tag links cascade.
func (db *DB) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRecordEmbedding stores the embedding vector for a record.
func (db *DB) SetRecordEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE records SET embedding = $2 WHERE id = $1`, id, embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: set record embedding: %w", err)
	}
	return nil
}

// ContextRecords returns the most recent non-archived records under the
// named tag, each with a bounded body excerpt for lexical scoring.
func (db *DB) ContextRecords(ctx context.Context, tagName string, limit int) ([]model.ContextRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.pool.Query(ctx,
		`SELECT r.id, r.filename, r.preview, left(r.body, 400), r.updated_at
		 FROM records r
		 JOIN record_tags rt ON rt.record_id = r.id
		 JOIN tags t ON t.id = rt.tag_id
		 WHERE t.name = $1 AND NOT r.archived
		 ORDER BY r.updated_at DESC
		 LIMIT $2`, tagName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: context records: %w", err)
	}
	defer rows.Close()

	var out []model.ContextRecord
	for rows.Next() {
		var c model.ContextRecord
		if err := rows.Scan(&c.ID, &c.Filename, &c.Preview, &c.Snippet, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan context record: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EnsureTaggedRecord finds the non-archived record with the given filename
// and tag, creating it (empty, tagged) when absent. Used for the per-day
// memory and audit records.
func (db *DB) EnsureTaggedRecord(ctx context.Context, filename, tagName string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT r.id
		 FROM records r
		 JOIN record_tags rt ON rt.record_id = r.id
		 JOIN tags t ON t.id = rt.tag_id
		 WHERE lower(r.filename) = lower($1) AND t.name = $2 AND NOT r.archived
		 ORDER BY r.updated_at DESC
		 LIMIT 1`, filename, tagName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("storage: lookup tagged record: %w", err)
	}

	r, err := db.CreateRecord(ctx, model.Record{
		Filename: filename,
		Kind:     "markdown",
		Tags:     []string{tagName},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return r.ID, nil
}

func makePreview(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= previewLen {
		return body
	}
	// Cut on a rune boundary; previews hold CJK text.
	runes := []rune(body)
	if len(runes) > previewLen {
		runes = runes[:previewLen]
	}
	return string(runes)
}
