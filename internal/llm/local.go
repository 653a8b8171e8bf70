package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
)

const localDefaultServerURL = "http://localhost:11434"

// Local is the provider for models served by a local Ollama daemon. The
// SDK handle is built lazily behind a sync.Once so constructing the
// provider never touches the daemon; the first completion pays the
// initialization cost.
type Local struct {
	serverURL string
	model     string
	emb       embedder.Embedder
	logger    *zap.Logger
	window    int
	temp      float64

	once      sync.Once
	handle    *ollama.LLM
	handleErr error
}

// NewLocal validates configuration eagerly. The prompt window cannot be
// inferred from an arbitrary local model, so a token limit is mandatory.
func NewLocal(cfg config.ProviderConfig, emb embedder.Embedder, logger *zap.Logger) (*Local, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: local provider requires a model name", ErrInvalidConfig)
	}
	if cfg.TokenLimit <= 0 {
		return nil, fmt.Errorf("%w: local provider requires a token limit", ErrUnknownModel)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	serverURL := cfg.BaseURL
	if serverURL == "" {
		serverURL = localDefaultServerURL
	}

	return &Local{
		serverURL: serverURL,
		model:     cfg.Model,
		emb:       emb,
		logger:    logger.With(zap.String("provider", "local"), zap.String("model", cfg.Model)),
		window:    cfg.TokenLimit,
		temp:      cfg.Temperature,
	}, nil
}

func (p *Local) llm() (*ollama.LLM, error) {
	p.once.Do(func() {
		p.handle, p.handleErr = ollama.New(
			ollama.WithModel(p.model),
			ollama.WithServerURL(p.serverURL),
		)
		if p.handleErr != nil {
			p.handleErr = fmt.Errorf("initializing ollama client: %w", p.handleErr)
		}
	})
	return p.handle, p.handleErr
}

func (p *Local) PromptWindowLimit() int { return p.window }
func (p *Local) StreamingEnabled() bool { return true }
func (p *Local) DefaultTemp() float64   { return p.temp }

// IsSafe is the always-safe stub; local models have no moderation
// endpoint.
func (p *Local) IsSafe(ctx context.Context, input string) (Safety, error) {
	return Safety{Safe: true}, nil
}

func (p *Local) ConstructPrompt(args PromptArgs) []Message {
	return buildPrompt(args)
}

func toLangchainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		msgType := schema.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			msgType = schema.ChatMessageTypeSystem
		case RoleAssistant:
			msgType = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(msgType, m.Content))
	}
	return out
}

func (p *Local) GetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "local.GetChatCompletion")
	defer span.End()

	handle, err := p.llm()
	if err != nil {
		return "", err
	}
	resp, err := handle.GenerateContent(ctx, toLangchainMessages(messages),
		llms.WithTemperature(opts.Temperature))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("calling local model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

// localStream bridges the SDK's push-based streaming callback to the
// pull-based stream contract. The producer goroutine blocks on the
// unbuffered delta channel, so every token is consumed before the final
// error lands.
type localStream struct {
	deltas chan StreamDelta
	done   chan error
	cancel context.CancelFunc
}

func (s *localStream) Recv() (StreamDelta, error) {
	select {
	case delta := <-s.deltas:
		return delta, nil
	case err := <-s.done:
		if err == nil || errors.Is(err, context.Canceled) {
			return StreamDelta{}, io.EOF
		}
		return StreamDelta{}, err
	}
}

func (s *localStream) Close() error {
	s.cancel()
	return nil
}

func (p *Local) StreamGetChatCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionStream, error) {
	handle, err := p.llm()
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &localStream{
		deltas: make(chan StreamDelta),
		done:   make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		_, err := handle.GenerateContent(streamCtx, toLangchainMessages(messages),
			llms.WithTemperature(opts.Temperature),
			llms.WithStreamingFunc(func(cbCtx context.Context, chunk []byte) error {
				select {
				case s.deltas <- StreamDelta{Token: string(chunk)}:
					return nil
				case <-cbCtx.Done():
					return cbCtx.Err()
				}
			}))
		s.done <- err
	}()

	return s, nil
}

func (p *Local) HandleStream(ctx context.Context, sink Sink, stream CompletionStream, props ResponseProps) (string, error) {
	ctx, span := tracer.Start(ctx, "local.HandleStream")
	defer span.End()
	return consumeStream(ctx, sink, stream, props, 0, p.logger)
}

func (p *Local) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return p.emb.EmbedTextInput(ctx, input)
}

func (p *Local) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return p.emb.EmbedChunks(ctx, chunks)
}
