// Package llm defines the uniform LLM client abstraction used by the
// segmentation engine, semantic consolidator, and memory reviewer: text
// embedding (single and batch), chat completion, and schema-validated
// structured output. Concrete adapters talk to any OpenAI-compatible
// endpoint.
package llm

import "context"

// Message is a single chat turn.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Client is the interface every memory pipeline component depends on.
// Nothing outside this package knows it is backed by openai-go.
type Client interface {
	// Embed returns a dense, unit-norm vector of the configured dimension
	// for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds many texts in a single bulk call, to amortize LLM
	// round trips. The returned slice has the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Chat performs a plain chat completion, returning the assistant's reply text.
	Chat(ctx context.Context, msgs []Message) (string, error)

	// GenerateStructured performs a schema-validated structured-output call.
	// schema must be produced by NormalizeSchema (or already be in strict
	// form); out is populated via json.Unmarshal of the (possibly
	// jsonrepair-repaired) model response. Returns memerr.ErrSchemaMismatch
	// if the response cannot be coerced to schema after one repair attempt.
	GenerateStructured(ctx context.Context, msgs []Message, schemaName string, schema map[string]any, out any) error
}

// Dimension reports the embedding dimension a Client produces. Implementations
// that wrap a fixed-dimension backend may embed this directly; the dimension
// is a process-wide constant fixed at startup.
type Dimension interface {
	EmbeddingDimension() int
}
