package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ashita-ai/kioku/internal/model"
)

// Loader selects the memory snippets most relevant to a request. Scoring is
// purely lexical so it works without any model or embedding backend; recency
// breaks ties.
type Loader struct {
	store  Store
	logger *slog.Logger

	// limit is the number of items returned per request; window is how many
	// recent records are considered before scoring.
	limit  int
	window int
}

// NewLoader constructs a Loader over the core-memory tag.
func NewLoader(store Store, logger *slog.Logger, limit, window int) *Loader {
	return &Loader{store: store, logger: logger, limit: limit, window: window}
}

// Load returns up to limit context items for the request, best match first.
// A request with no scoring tokens still yields the most recent items, so
// short requests like "总结" see memory too.
func (l *Loader) Load(ctx context.Context, request string) ([]model.ContextItem, error) {
	records, err := l.store.ContextRecords(ctx, model.TagCore, l.window)
	if err != nil {
		return nil, fmt.Errorf("kernel: load context: %w", err)
	}
	tokens := tokenize(request)

	items := make([]model.ContextItem, 0, len(records))
	for _, rec := range records {
		items = append(items, model.ContextItem{
			ID:        rec.ID,
			Filename:  rec.Filename,
			Snippet:   rec.Snippet,
			Score:     lexicalScore(tokens, rec.Filename+"\n"+rec.Snippet),
			UpdatedAt: rec.UpdatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if len(items) > l.limit {
		items = items[:l.limit]
	}
	l.logger.Debug("context loaded", "candidates", len(records), "selected", len(items))
	return items, nil
}
