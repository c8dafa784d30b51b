package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kioku")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "noop", cfg.Model)
	assert.Equal(t, 8, cfg.ContextLimit)
	assert.Equal(t, 200, cfg.ContextWindow)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmationTTL)
	assert.InDelta(t, 0.34, cfg.ConflictRequestSimMin, 1e-9)
	assert.InDelta(t, 0.62, cfg.ConflictReplySimMax, 1e-9)
	assert.InDelta(t, 0.22, cfg.ConflictScoreMin, 1e-9)
}

func TestLoadDefaultsDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.DatabaseURL, "localhost:5432/kioku")
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidateRejectsNarrowWindow(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kioku")
	t.Setenv("KIOKU_CONTEXT_WINDOW", "4")
	t.Setenv("KIOKU_CONTEXT_LIMIT", "8")

	_, err := Load()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kioku")
	t.Setenv("KIOKU_MODEL", "ollama:qwen3:8b")
	t.Setenv("KIOKU_CONFIRMATION_TTL", "90s")
	t.Setenv("KIOKU_CONFLICT_SCORE_MIN", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama:qwen3:8b", cfg.Model)
	assert.Equal(t, 90*time.Second, cfg.ConfirmationTTL)
	assert.InDelta(t, 0.5, cfg.ConflictScoreMin, 1e-9)
}
