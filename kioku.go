// Package kioku is the public API for embedding the Kioku assistant kernel.
//
// Consumers import this package to run the kernel inside their own process
// instead of shelling out to the CLI:
//
//	app, err := kioku.New(
//	    kioku.WithVersion(version),
//	    kioku.WithLogger(logger),
//	    kioku.WithModelProvider(myProvider),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	result, err := app.Ask(ctx, "搜索 京都", "cli")
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root). Public types
// (Result, SearchHit, Skill) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package kioku

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/config"
	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/kernel"
	"github.com/ashita-ai/kioku/internal/llm"
	"github.com/ashita-ai/kioku/internal/mcp"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/storage"
	"github.com/ashita-ai/kioku/internal/telemetry"
	"github.com/ashita-ai/kioku/migrations"
)

// App is the embedded Kioku kernel lifecycle. Construct with New(), release
// with Close(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	kernel       *kernel.Kernel
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kioku kernel. It connects to the database, runs
// migrations, wires the model and embedding providers, and returns a
// ready-to-use App. No goroutines are started.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kioku starting", "version", version, "model", cfg.Model)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for _, extra := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("extra migrations: %w", err)
		}
	}

	var provider llm.Provider
	if o.modelProvider != nil {
		provider = providerAdapter{o.modelProvider}
	} else {
		provider, err = llm.New(cfg.Model, llm.Config{
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			OllamaURL:    cfg.OllamaURL,
			Timeout:      cfg.ModelTimeout,
		})
		if err != nil {
			db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("model provider: %w", err)
		}
	}

	// External override takes priority over config selection.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = embedderAdapter{o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	k := kernel.New(db, provider, embedder, logger, kernel.Config{
		ContextLimit:    cfg.ContextLimit,
		ContextWindow:   cfg.ContextWindow,
		ConfirmationTTL: cfg.ConfirmationTTL,
		ModelTimeout:    cfg.ModelTimeout,
		Conflict: kernel.ConflictThresholds{
			RequestSimMin: cfg.ConflictRequestSimMin,
			ReplySimMax:   cfg.ConflictReplySimMax,
			ScoreMin:      cfg.ConflictScoreMin,
		},
		Now: o.clock,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		kernel:       k,
		mcpSrv:       mcp.New(k, db, logger, version),
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Ask runs one kernel cycle for a free-text request. source labels the
// calling surface ("cli", "gui", ...); confirmation tokens are only
// redeemable from the source they were issued to.
func (a *App) Ask(ctx context.Context, request, source string) (Result, error) {
	res, err := a.kernel.Ask(ctx, request, source)
	if err != nil {
		return Result{}, err
	}
	return toPublicResult(res), nil
}

// Confirm redeems a confirmation token issued by a previous Ask.
func (a *App) Confirm(ctx context.Context, token, source string) (Result, error) {
	res, err := a.kernel.Confirm(ctx, token, source)
	if err != nil {
		return Result{}, err
	}
	return toPublicResult(res), nil
}

// Search queries records directly, without a kernel cycle. Read-only and
// unaudited.
func (a *App) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 8
	}
	hits, err := a.db.SearchRecords(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		out[i] = SearchHit{ID: h.ID, Filename: h.Filename, Preview: h.Preview, UpdatedAt: h.UpdatedAt}
	}
	return out, nil
}

// ServeMCP blocks serving the Model Context Protocol over stdin/stdout.
func (a *App) ServeMCP() error {
	a.logger.Info("kioku mcp server starting", "version", a.version)
	return a.mcpSrv.ServeStdio()
}

// Close releases the database pool and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.db.Close()
	if a.otelShutdown != nil {
		return a.otelShutdown(ctx)
	}
	return nil
}

// toPublicResult converts the internal result to the public type.
func toPublicResult(r model.KernelResult) Result {
	out := Result{
		RequestID:            r.RequestID,
		Source:               r.Source,
		Request:              r.Request,
		Intent:               r.Intent,
		PlannerSource:        r.PlannerSource,
		PlannerNote:          r.PlannerNote,
		ToolPlan:             r.ToolPlan,
		ConfirmationRequired: r.ConfirmationRequired,
		ConfirmationToken:    r.ConfirmationToken,
		Reply:                r.Reply,
		Actions:              r.Actions,
		RelatedRecordIDs:     r.RelatedRecordIDs,
		ContextRecordIDs:     r.CoreContextRecordIDs,
		MemoryRecordID:       r.CoreMemoryRecordID,
		AuditRecordID:        r.AuditRecordID,
		MergeStrategy:        r.MergeStrategy,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		Succeeded:            r.Succeeded,
	}
	if r.ConfirmationExpires != nil {
		exp := *r.ConfirmationExpires
		out.ConfirmationExpires = &exp
	}
	return out
}

// newEmbeddingProvider selects an embedding provider from configuration.
// A nil return disables semantic search; the kernel falls back to lexical
// search only.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when KIOKU_EMBEDDING_PROVIDER=openai; semantic search disabled")
			return nil
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)
	default:
		logger.Info("embedding provider: none (semantic search disabled)")
		return nil
	}
}

// providerAdapter bridges the public ModelProvider to the internal
// interface.
type providerAdapter struct{ p ModelProvider }

func (a providerAdapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	return a.p.Complete(ctx, system, prompt)
}

func (a providerAdapter) Name() string { return a.p.Name() }

// embedderAdapter bridges the public EmbeddingProvider, which uses
// []float32 so external consumers do not need the pgvector dependency.
type embedderAdapter struct{ p EmbeddingProvider }

func (a embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a embedderAdapter) Dimensions() int { return a.p.Dimensions() }
