package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/chatd/internal/llm")

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o"
)

// openAIWindows maps model names to prompt window sizes.
var openAIWindows = map[string]int{
	"gpt-3.5-turbo":       16385,
	"gpt-3.5-turbo-1106":  16385,
	"gpt-4o":              128000,
	"gpt-4o-mini":         128000,
	"gpt-4-turbo":         128000,
	"gpt-4-turbo-preview": 128000,
	"gpt-4-1106-preview":  128000,
	"gpt-4":               8192,
	"gpt-4-32k":           32000,
	"o1":                  200000,
	"o1-mini":             128000,
}

// OpenAI is the chat-completions provider backed by api.openai.com. It is
// the only provider with a real moderation endpoint.
type OpenAI struct {
	client *compatClient
	emb    embedder.Embedder
	logger *zap.Logger
	window int
	temp   float64
}

// NewOpenAI validates credentials and resolves the model prompt window at
// construction. Unknown models fail closed unless a token limit override
// is configured.
func NewOpenAI(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai requires an API key", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	window, ok := openAIWindows[model]
	if !ok {
		if cfg.TokenLimit <= 0 {
			return nil, fmt.Errorf("%w: no prompt window for openai model %q", ErrUnknownModel, model)
		}
		window = cfg.TokenLimit
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAI{
		client: newCompatClient(baseURL, cfg.APIKey, model),
		emb:    emb,
		logger: logger.With(zap.String("provider", "openai"), zap.String("model", model)),
		window: window,
		temp:   cfg.Temperature,
	}, nil
}

func (p *OpenAI) PromptWindowLimit() int { return p.window }
func (p *OpenAI) StreamingEnabled() bool { return true }
func (p *OpenAI) DefaultTemp() float64   { return p.temp }

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
	Error *apiError `json:"error"`
}

// IsSafe runs the input through the moderation endpoint. Flagged category
// keys are humanized ("hate/threatening" becomes "hate or threatening")
// for the abort message shown to the client.
func (p *OpenAI) IsSafe(ctx context.Context, input string) (Safety, error) {
	ctx, span := tracer.Start(ctx, "openai.IsSafe")
	defer span.End()

	req, err := p.client.newRequest(ctx, "/moderations", map[string]string{"input": input})
	if err != nil {
		return Safety{}, err
	}
	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "moderation request failed")
		return Safety{}, fmt.Errorf("calling moderations: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Safety{}, fmt.Errorf("reading moderation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Safety{}, fmt.Errorf("moderations returned %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed moderationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Safety{}, fmt.Errorf("decoding moderation response: %w", err)
	}
	if parsed.Error != nil {
		return Safety{}, fmt.Errorf("upstream error: %s", parsed.Error.Message)
	}
	if len(parsed.Results) == 0 || !parsed.Results[0].Flagged {
		return Safety{Safe: true}, nil
	}

	var reasons []string
	for category, flagged := range parsed.Results[0].Categories {
		if flagged {
			reasons = append(reasons, strings.ReplaceAll(category, "/", " or "))
		}
	}
	span.SetAttributes(attribute.Int("moderation.flagged_categories", len(reasons)))
	return Safety{Safe: false, Reasons: reasons}, nil
}

func (p *OpenAI) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

func (p *OpenAI) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.GetChatCompletion")
	defer span.End()

	text, err := p.client.chatCompletion(ctx, messages, opts.Temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}
	return text, nil
}

func (p *OpenAI) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	return p.client.streamChatCompletion(ctx, messages, opts.Temperature)
}

func (p *OpenAI) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.HandleStream")
	defer span.End()
	return consumeStream(ctx, sink, stream, props, 0, p.logger)
}

func (p *OpenAI) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *OpenAI) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
