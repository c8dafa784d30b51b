package kioku

import (
	"io/fs"
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL       string
	model             string
	logger            *slog.Logger
	version           string
	modelProvider     ModelProvider
	embeddingProvider EmbeddingProvider
	clock             func() time.Time
	extraMigrations   []fs.FS
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithModel overrides the model identifier from config (KIOKU_MODEL env var),
// e.g. "openai:gpt-4o-mini", "ollama:qwen3:8b", or "noop".
func WithModel(identifier string) Option {
	return func(o *resolvedOptions) { o.model = identifier }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP handshake.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithModelProvider replaces the config-selected chat model (OpenAI/Ollama/noop).
// Takes priority over WithModel and KIOKU_MODEL.
func WithModelProvider(p ModelProvider) Option {
	return func(o *resolvedOptions) { o.modelProvider = p }
}

// WithEmbeddingProvider replaces the config-selected embedding provider.
// The provided implementation must satisfy the EmbeddingProvider interface.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithClock overrides the kernel's clock. Day-file names, confirmation
// expiry, and audit timestamps all derive from it. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.clock = now }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
