package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

const (
	// liteLLMDefaultWindow is assumed when no token limit is configured.
	// Gateways proxy arbitrary models, so the window cannot be inferred.
	liteLLMDefaultWindow = 4096

	// liteLLMMaxTokens caps the response size requested from the gateway.
	liteLLMMaxTokens = 1024
)

// LiteLLM is the chat-completions provider for self-hosted LiteLLM
// gateways. The endpoint is operator infrastructure, so the base URL is
// mandatory and the prompt window comes from configuration.
type LiteLLM struct {
	client *compatClient
	emb    embedder.Embedder
	logger *zap.Logger
	window int
	temp   float64
}

func NewLiteLLM(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*LiteLLM, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: litellm requires a base URL", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: litellm requires a model name", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	window := cfg.TokenLimit
	if window <= 0 {
		window = liteLLMDefaultWindow
	}

	client := newCompatClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
	client.maxTokens = liteLLMMaxTokens

	return &LiteLLM{
		client: client,
		emb:    emb,
		logger: logger.With(zap.String("provider", "litellm"), zap.String("model", cfg.Model)),
		window: window,
		temp:   cfg.Temperature,
	}, nil
}

func (p *LiteLLM) PromptWindowLimit() int { return p.window }
func (p *LiteLLM) StreamingEnabled() bool { return true }
func (p *LiteLLM) DefaultTemp() float64   { return p.temp }

// IsSafe is the always-safe stub; gateways expose no moderation endpoint.
func (p *LiteLLM) IsSafe(ctx context.Context, input string) (Safety, error) {
	return Safety{Safe: true}, nil
}

func (p *LiteLLM) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

func (p *LiteLLM) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "litellm.GetChatCompletion")
	defer span.End()

	text, err := p.client.chatCompletion(ctx, messages, opts.Temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}
	return text, nil
}

func (p *LiteLLM) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	return p.client.streamChatCompletion(ctx, messages, opts.Temperature)
}

func (p *LiteLLM) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	ctx, span := tracer.Start(ctx, "litellm.HandleStream")
	defer span.End()
	return consumeStream(ctx, sink, stream, props, 0, p.logger)
}

func (p *LiteLLM) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *LiteLLM) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
