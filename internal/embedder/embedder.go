// Package embedder turns text into vectors. Two backends: any
// OpenAI-compatible embeddings endpoint (including TEI servers) and a
// local ONNX fastembed model for fully offline operation.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
)

// ErrInvalidConfig indicates invalid embedder configuration.
var ErrInvalidConfig = errors.New("invalid embedder configuration")

// Embedder is the embedding contract. EmbedTextInput embeds a single
// query string; EmbedChunks embeds a document batch. Implementations
// return vectors in input order.
type Embedder interface {
	EmbedTextInput(ctx context.Context, input string) ([]float32, error)
	EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error)
}

// New builds the configured embedding backend.
func New(cfg config.EmbedderConfig, cacheDir string, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Name {
	case "openai":
		return NewOpenAICompat(cfg, logger)
	case "fastembed":
		return NewFastEmbed(cacheDir, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Name)
	}
}

// OpenAICompat embeds via any endpoint speaking the OpenAI embeddings
// wire format. TEI and LocalAI servers qualify; they ignore the bearer
// token, so a placeholder is sent when none is configured.
type OpenAICompat struct {
	impl   *embeddings.EmbedderImpl
	logger *zap.Logger
}

func NewOpenAICompat(cfg config.EmbedderConfig, logger *zap.Logger) (*OpenAICompat, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai embedder requires a base URL", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: openai embedder requires a model", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAICompat{
		impl:   impl,
		logger: logger.With(zap.String("embedder", "openai"), zap.String("model", cfg.Model)),
	}, nil
}

func (e *OpenAICompat) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

func (e *OpenAICompat) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.impl.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	return vecs, nil
}
