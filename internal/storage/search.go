package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
)

// SearchRecords performs lexical full-text search over filename, preview,
// and body. Results are ordered by match count, then recency. An empty
// result is not an error.
func (db *DB) SearchRecords(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	// One scored term per token; a record matches when any token matches.
	var (
		scoreParts []string
		matchParts []string
		args       []any
	)
	for i, tok := range tokens {
		idx := i + 1
		scoreParts = append(scoreParts, fmt.Sprintf(
			`(CASE WHEN filename ILIKE $%d THEN 3 WHEN preview ILIKE $%d THEN 2 WHEN body ILIKE $%d THEN 1 ELSE 0 END)`,
			idx, idx, idx,
		))
		matchParts = append(matchParts, fmt.Sprintf(
			`filename ILIKE $%d OR preview ILIKE $%d OR body ILIKE $%d`, idx, idx, idx,
		))
		args = append(args, "%"+tok+"%")
	}

	q := fmt.Sprintf(
		`SELECT id, filename, preview, updated_at
		 FROM records
		 WHERE NOT archived AND (%s)
		 ORDER BY %s DESC, updated_at DESC
		 LIMIT %d`,
		strings.Join(matchParts, " OR "),
		strings.Join(scoreParts, " + "),
		limit,
	)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search records: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var h model.SearchHit
		if err := rows.Scan(&h.ID, &h.Filename, &h.Preview, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchRecordsByEmbedding performs vector similarity search over records
// that carry an embedding. Used only when an embedding provider is
// configured; lexical search remains the default path.
func (db *DB) SearchRecordsByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, filename, preview, updated_at
		 FROM records
		 WHERE NOT archived AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`, embedding, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search records by embedding: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var h model.SearchHit
		if err := rows.Scan(&h.ID, &h.Filename, &h.Preview, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchTokens splits a query into lowercase search terms. Latin-script
// runs become word tokens; CJK runs are kept whole so substring matching
// works without word segmentation.
func searchTokens(query string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range query {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	// Dedupe while preserving order.
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
