package kioku

import "context"

// ModelProvider generates chat completions for planning and answering.
// When provided via WithModelProvider, replaces the config-selected
// OpenAI/Ollama/noop provider. Errors degrade the kernel to its rule-based
// paths; they never fail the request.
type ModelProvider interface {
	// Complete returns the model's text response for a system/user prompt pair.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Name returns the model identifier recorded in audit trails.
	Name() string
}

// EmbeddingProvider generates vector embeddings for semantic record search.
// When provided via WithEmbeddingProvider, replaces the config-selected
// provider. Uses []float32 (not pgvector.Vector) to avoid forcing the
// pgvector dependency on external consumers; New() wraps it in an adapter
// for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
