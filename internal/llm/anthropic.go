package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-3-5-sonnet-20241022"
	anthropicMaxTokens    = 4096
)

var anthropicWindows = map[string]int{
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-haiku-20241022":  200000,
	"claude-3-opus-20240229":     200000,
	"claude-3-sonnet-20240229":   200000,
	"claude-3-haiku-20240307":    200000,
}

// Anthropic is the messages-API provider. The wire format differs from
// chat completions: the system prompt travels as a top-level field and the
// message list must alternate user and assistant roles. Blocking only;
// streaming requests fall back to a single complete chunk upstream.
type Anthropic struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	emb        embedder.Embedder
	logger     *zap.Logger
	window     int
	temp       float64
}

func NewAnthropic(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic requires an API key", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	window, ok := anthropicWindows[model]
	if !ok {
		if cfg.TokenLimit <= 0 {
			return nil, fmt.Errorf("%w: no prompt window for anthropic model %q", ErrUnknownModel, model)
		}
		window = cfg.TokenLimit
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	return &Anthropic{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		emb:        emb,
		logger:     logger.With(zap.String("provider", "anthropic"), zap.String("model", model)),
		window:     window,
		temp:       cfg.Temperature,
	}, nil
}

func (p *Anthropic) PromptWindowLimit() int { return p.window }
func (p *Anthropic) StreamingEnabled() bool { return false }
func (p *Anthropic) DefaultTemp() float64   { return p.temp }

// IsSafe is the always-safe stub; no moderation endpoint exists.
func (p *Anthropic) IsSafe(ctx context.Context, input string) (Safety, error) {
	return Safety{Safe: true}, nil
}

func (p *Anthropic) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem separates the leading system message from the alternating
// user/assistant sequence the messages API requires.
func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem && system == "" && len(out) == 0 {
			system = m.Content
			continue
		}
		role := m.Role
		if role == RoleSystem {
			// Mid-sequence system messages are not representable; fold
			// them into the user turn.
			role = RoleUser
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return system, out
}

func (p *Anthropic) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "anthropic.GetChatCompletion")
	defer span.End()

	system, converted := splitSystem(messages)
	payload, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		System:      system,
		Messages:    converted,
		MaxTokens:   anthropicMaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("calling messages API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading messages response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("messages API returned %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding messages response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("upstream error: %s", parsed.Error.Message)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}

func (p *Anthropic) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	return nil, ErrStreamingNotSupported
}

func (p *Anthropic) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	return "", ErrStreamingNotSupported
}

func (p *Anthropic) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *Anthropic) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
