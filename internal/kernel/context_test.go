package kernel

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoaderRanksByScoreThenRecency(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	store.addRecord("groceries.md", "buy milk and eggs", base, model.TagCore)
	kyotoOld := store.addRecord("kyoto-trip.md", "kyoto hotel near the station", base.Add(-time.Hour), model.TagCore)
	kyotoNew := store.addRecord("kyoto-food.md", "kyoto ramen places", base.Add(time.Hour), model.TagCore)

	loader := NewLoader(store, testLogger(), 2, 100)
	items, err := loader.Load(context.Background(), "kyoto hotel")
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Both kyoto records outscore groceries; the hotel one scores highest.
	require.Equal(t, kyotoOld, items[0].ID)
	require.Equal(t, kyotoNew, items[1].ID)
	require.Greater(t, items[0].Score, items[1].Score)
}

func TestLoaderEmptyRequestFallsBackToRecency(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	old := store.addRecord("old.md", "old note", base.Add(-time.Hour), model.TagCore)
	recent := store.addRecord("recent.md", "recent note", base, model.TagCore)

	loader := NewLoader(store, testLogger(), 8, 100)
	items, err := loader.Load(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, recent, items[0].ID)
	require.Equal(t, old, items[1].ID)
}

func TestLoaderIgnoresUntaggedRecords(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	store.addRecord("audit.md", "audit entry", base, model.TagAuditLog)
	store.addRecord("plain.md", "no tags at all", base)
	core := store.addRecord("core.md", "core memory", base, model.TagCore)

	loader := NewLoader(store, testLogger(), 8, 100)
	items, err := loader.Load(context.Background(), "memory")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, core, items[0].ID)
}

func TestLoaderIsDeterministic(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	store.addRecord("kyoto-trip.md", "kyoto hotel near the station", base, model.TagCore)
	store.addRecord("kyoto-food.md", "kyoto ramen places", base.Add(time.Minute), model.TagCore)
	store.addRecord("groceries.md", "buy milk and eggs", base.Add(2*time.Minute), model.TagCore)

	loader := NewLoader(store, testLogger(), 8, 100)
	first, err := loader.Load(context.Background(), "kyoto hotel")
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), "kyoto hotel")
	require.NoError(t, err)
	require.Equal(t, first, second)
}
