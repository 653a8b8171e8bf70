package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

const geminiDefaultModel = "gemini-1.5-flash"

var geminiWindows = map[string]int{
	"gemini-1.5-pro":   2000000,
	"gemini-1.5-flash": 1000000,
	"gemini-2.0-flash": 1000000,
	"gemini-pro":       30720,
}

// Gemini is the provider backed by the Google generative AI SDK. The SDK
// models conversations as chat sessions with a separate system
// instruction, so prompts are re-split before each call.
type Gemini struct {
	client *genai.Client
	model  string
	emb    embedder.Embedder
	logger *zap.Logger
	window int
	temp   float64
}

func NewGemini(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini requires an API key", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	window, ok := geminiWindows[model]
	if !ok {
		if cfg.TokenLimit <= 0 {
			return nil, fmt.Errorf("%w: no prompt window for gemini model %q", ErrUnknownModel, model)
		}
		window = cfg.TokenLimit
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		emb:    emb,
		logger: logger.With(zap.String("provider", "gemini"), zap.String("model", model)),
		window: window,
		temp:   cfg.Temperature,
	}, nil
}

func (p *Gemini) PromptWindowLimit() int { return p.window }
func (p *Gemini) StreamingEnabled() bool { return true }
func (p *Gemini) DefaultTemp() float64   { return p.temp }

// IsSafe is the always-safe stub; safety settings ride on the generation
// call itself.
func (p *Gemini) IsSafe(ctx context.Context, input string) (Safety, error) {
	return Safety{Safe: true}, nil
}

func (p *Gemini) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

// session builds a chat session from the message sequence: leading system
// message becomes the system instruction, the middle turns become
// history, and the final user message is returned for sending.
func (p *Gemini) session(messages []Message, temperature float64) (*genai.ChatSession, string) {
	gm := p.client.GenerativeModel(p.model)
	temp := float32(temperature)
	gm.Temperature = &temp

	history := messages
	if len(history) > 0 && history[0].Role == RoleSystem {
		gm.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(history[0].Content)},
		}
		history = history[1:]
	}

	prompt := ""
	if len(history) > 0 && history[len(history)-1].Role == RoleUser {
		prompt = history[len(history)-1].Content
		history = history[:len(history)-1]
	}

	session := gm.StartChat()
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return session, prompt
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func (p *Gemini) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.GetChatCompletion")
	defer span.End()

	session, prompt := p.session(messages, opts.Temperature)
	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("calling gemini: %w", err)
	}
	return candidateText(resp), nil
}

// geminiStream adapts the SDK response iterator to the stream contract.
type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (s *geminiStream) Recv() (StreamDelta, error) {
	resp, err := s.iter.Next()
	if err == iterator.Done {
		return StreamDelta{}, io.EOF
	}
	if err != nil {
		return StreamDelta{}, fmt.Errorf("reading gemini stream: %w", err)
	}
	return StreamDelta{Token: candidateText(resp)}, nil
}

func (s *geminiStream) Close() error { return nil }

func (p *Gemini) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	session, prompt := p.session(messages, opts.Temperature)
	return &geminiStream{iter: session.SendMessageStream(ctx, genai.Text(prompt))}, nil
}

func (p *Gemini) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.HandleStream")
	defer span.End()
	return consumeStream(ctx, sink, stream, props, 0, p.logger)
}

func (p *Gemini) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *Gemini) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
