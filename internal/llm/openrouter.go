package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

const (
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
	openRouterDefaultModel = "openrouter/auto"

	// openRouterIdleTimeout bounds the gap between stream deltas. The
	// gateway sometimes stalls after the final token without sending
	// [DONE] or closing the connection.
	openRouterIdleTimeout = 500 * time.Millisecond
)

// openRouterWindows covers the commonly routed models. The gateway fronts
// hundreds of models; anything absent here needs a configured token limit.
var openRouterWindows = map[string]int{
	"openrouter/auto":              128000,
	"openai/gpt-4o":                128000,
	"openai/gpt-4o-mini":           128000,
	"anthropic/claude-3.5-sonnet":  200000,
	"anthropic/claude-3-opus":      200000,
	"anthropic/claude-3-haiku":     200000,
	"meta-llama/llama-3.1-70b-instruct": 131072,
	"meta-llama/llama-3.1-8b-instruct":  131072,
	"mistralai/mixtral-8x7b-instruct":   32768,
	"google/gemini-pro-1.5":             2000000,
}

// OpenRouter is the chat-completions provider backed by the openrouter.ai
// gateway. Identical wire format to OpenAI plus attribution headers and a
// stall-prone stream that needs an idle timeout.
type OpenRouter struct {
	client *compatClient
	emb    embedder.Embedder
	logger *zap.Logger
	window int
	temp   float64
}

func NewOpenRouter(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openrouter requires an API key", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = openRouterDefaultModel
	}
	window, ok := openRouterWindows[model]
	if !ok {
		if cfg.TokenLimit <= 0 {
			return nil, fmt.Errorf("%w: no prompt window for openrouter model %q", ErrUnknownModel, model)
		}
		window = cfg.TokenLimit
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}

	client := newCompatClient(baseURL, cfg.APIKey, model)
	client.extraHeaders = map[string]string{
		"HTTP-Referer": "https://github.com/fyrsmithlabs/chatd",
		"X-Title":      "chatd",
	}

	return &OpenRouter{
		client: client,
		emb:    emb,
		logger: logger.With(zap.String("provider", "openrouter"), zap.String("model", model)),
		window: window,
		temp:   cfg.Temperature,
	}, nil
}

func (p *OpenRouter) PromptWindowLimit() int { return p.window }
func (p *OpenRouter) StreamingEnabled() bool { return true }
func (p *OpenRouter) DefaultTemp() float64   { return p.temp }

// IsSafe is the always-safe stub; the gateway exposes no moderation
// endpoint.
func (p *OpenRouter) IsSafe(ctx context.Context, input string) (Safety, error) {
	return Safety{Safe: true}, nil
}

func (p *OpenRouter) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

func (p *OpenRouter) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "openrouter.GetChatCompletion")
	defer span.End()

	text, err := p.client.chatCompletion(ctx, messages, opts.Temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}
	return text, nil
}

func (p *OpenRouter) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	return p.client.streamChatCompletion(ctx, messages, opts.Temperature)
}

func (p *OpenRouter) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	ctx, span := tracer.Start(ctx, "openrouter.HandleStream")
	defer span.End()
	return consumeStream(ctx, sink, stream, props, openRouterIdleTimeout, p.logger)
}

func (p *OpenRouter) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *OpenRouter) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
