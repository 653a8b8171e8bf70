// Package llm normalizes upstream completion vendors behind one contract.
//
// Every vendor (OpenAI, OpenRouter, LiteLLM, Anthropic, Gemini, local
// models) exposes a different SDK shape; the Provider interface exists so
// the chat orchestrator never branches on vendor identity. Capabilities
// such as streaming support and the prompt window are decided at
// construction time, not probed dynamically.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
	"github.com/fyrsmithlabs/chatd/internal/model"
)

// Sentinel errors for provider operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrUnknownModel is returned at construction for a model with no known
	// prompt window and no configured override.
	ErrUnknownModel = errors.New("unknown model")

	// ErrStreamingNotSupported is returned by stream methods of providers
	// whose StreamingEnabled reports false.
	ErrStreamingNotSupported = errors.New("streaming not supported by provider")

	// ErrUnknownProvider is returned by the factory for an unrecognized
	// provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an ordered prompt sequence. Never persisted.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Safety is the result of a moderation check.
type Safety struct {
	Safe    bool
	Reasons []string
}

// PromptArgs are the inputs to prompt construction.
type PromptArgs struct {
	SystemPrompt string
	ContextTexts []string
	ChatHistory  []Message
	UserPrompt   string
}

// CompletionOptions tune a single completion call.
type CompletionOptions struct {
	Temperature float64
}

// StreamDelta is one normalized unit read from a vendor stream. A delta
// may carry a token, a done marker, or both (vendors that attach the stop
// reason to the final content chunk).
type StreamDelta struct {
	Token string
	Done  bool
}

// CompletionStream is a pull-based handle over a vendor's incremental
// output. Recv returns io.EOF when the vendor closed the stream cleanly.
type CompletionStream interface {
	Recv() (StreamDelta, error)
	Close() error
}

// ResponseProps carries the per-turn identifiers HandleStream stamps onto
// every emitted chunk.
type ResponseProps struct {
	ID      string
	Sources []model.Source
}

// Sink receives normalized response chunks. The chat layer's stream
// writer implements this over an HTTP response; tests implement it over a
// slice.
type Sink interface {
	WriteChunk(chunk ResponseChunk) error
}

// Provider is the common completion contract implemented once per vendor.
//
// Embedding is an orthogonal concern: providers delegate EmbedTextInput
// and EmbedChunks to a composed embedder.Embedder rather than implementing
// embedding themselves.
type Provider interface {
	// PromptWindowLimit is the maximum input+output tokens the selected
	// model supports. Deterministic per model; constructors reject models
	// whose window is unknown and unconfigurable.
	PromptWindowLimit() int

	// StreamingEnabled reports whether stream methods may be called.
	StreamingEnabled() bool

	// DefaultTemp is the sampling temperature applied when the workspace
	// has none.
	DefaultTemp() float64

	// IsSafe runs the vendor moderation endpoint. Vendors without one
	// return the always-safe stub.
	IsSafe(ctx context.Context, input string) (Safety, error)

	// ConstructPrompt builds the ordered message sequence: system prompt
	// with delimited context blocks, history verbatim, user message last.
	ConstructPrompt(args PromptArgs) []Message

	// GetChatCompletion performs one blocking completion. A vendor
	// response with zero choices yields ("", nil); the caller treats the
	// empty completion as an abort, not a crash.
	GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// StreamGetChatCompletion opens a vendor stream. Only valid when
	// StreamingEnabled is true.
	StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error)

	// HandleStream consumes the vendor stream, emitting one normalized
	// chunk per token and a final close chunk carrying the turn sources.
	// It resolves with the accumulated text; caller cancellation and
	// vendor idle timeouts resolve with partial text, never an error.
	HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error)

	// EmbedTextInput embeds a single query string.
	EmbedTextInput(ctx context.Context, input string) ([]float32, error)

	// EmbedChunks embeds a batch of document chunks.
	EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error)
}

// Factory resolves a provider for a workspace, honoring per-workspace
// provider and model overrides. Empty arguments select the daemon
// defaults.
type Factory func(providerName, modelName string) (Provider, error)

// NewFactory builds a Factory from daemon configuration. The shared
// embedder is composed into every provider it creates.
func NewFactory(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(providerName, modelName string) (Provider, error) {
		name := providerName
		if name == "" {
			name = cfg.Name
		}
		vendorCfg := cfg
		if modelName != "" {
			vendorCfg.Model = modelName
		}

		switch name {
		case "openai":
			return NewOpenAI(vendorCfg, emb, logger)
		case "openrouter":
			return NewOpenRouter(vendorCfg, emb, logger)
		case "litellm":
			return NewLiteLLM(vendorCfg, emb, logger)
		case "anthropic":
			return NewAnthropic(vendorCfg, emb, logger)
		case "gemini":
			return NewGemini(vendorCfg, emb, logger)
		case "local":
			return NewLocal(vendorCfg, emb, logger)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
	}
}
