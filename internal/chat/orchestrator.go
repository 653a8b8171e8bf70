package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/documents"
	"github.com/fyrsmithlabs/chatd/internal/llm"
	"github.com/fyrsmithlabs/chatd/internal/model"
	"github.com/fyrsmithlabs/chatd/internal/store"
	"github.com/fyrsmithlabs/chatd/internal/vectordb"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/chatd/internal/chat")

// Request is one chat turn as received from a client. Workspace and
// thread arrive pre-resolved by the handler; the handler's thread slug
// routing is authoritative, never a field buried in the body.
type Request struct {
	Message string
	// Mode overrides the workspace chat mode for this turn when set.
	Mode   model.ChatMode
	UserID *string
}

// Orchestrator runs chat turns end to end: moderation, context assembly,
// prompt compression, completion, persistence.
type Orchestrator struct {
	store      store.Store
	docs       *documents.Manager
	vectors    *vectordb.Manager
	factory    llm.Factory
	compressor *Compressor
	logger     *zap.Logger
}

func NewOrchestrator(st store.Store, docs *documents.Manager, vectors *vectordb.Manager, factory llm.Factory, compressor *Compressor, logger *zap.Logger) (*Orchestrator, error) {
	if st == nil || docs == nil || vectors == nil || factory == nil || compressor == nil {
		return nil, fmt.Errorf("chat: all dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      st,
		docs:       docs,
		vectors:    vectors,
		factory:    factory,
		compressor: compressor,
		logger:     logger,
	}, nil
}

// Resolve looks up the workspace and, when a thread slug is given, the
// thread within it. Handlers call this before opening a response stream
// so missing targets surface as HTTP errors, not stream aborts.
func (o *Orchestrator) Resolve(ctx context.Context, workspaceSlug, threadSlug string) (*model.Workspace, *model.Thread, error) {
	ws, err := o.store.GetWorkspaceBySlug(ctx, workspaceSlug)
	if err != nil {
		return nil, nil, err
	}
	if threadSlug == "" {
		return ws, nil, nil
	}
	thread, err := o.store.GetThreadBySlug(ctx, ws.ID, threadSlug)
	if err != nil {
		return nil, nil, err
	}
	return ws, thread, nil
}

// turn carries everything assembled before the completion call.
type turn struct {
	responseID   string
	provider     llm.Provider
	mode         model.ChatMode
	temperature  float64
	messages     []llm.Message
	sources      []model.Source
	contextTexts []string

	// refusalText is set when the turn must answer with the workspace
	// refusal instead of calling the model.
	refusalText string

	// abortMessage is set when the turn cannot proceed at all.
	abortMessage string
}

func threadIDOf(thread *model.Thread) *int64 {
	if thread == nil {
		return nil
	}
	return &thread.ID
}

// prepare assembles the turn: provider resolution, moderation, the empty
// namespace guard, pinned content, similarity search, history backfill,
// the query-mode refusal check and prompt compression.
func (o *Orchestrator) prepare(ctx context.Context, ws *model.Workspace, thread *model.Thread, req Request) (*turn, []model.ChatRecord, error) {
	ctx, span := tracer.Start(ctx, "chat.prepare")
	defer span.End()
	span.SetAttributes(attribute.String("workspace", ws.Slug))

	t := &turn{responseID: uuid.New().String()}

	provider, err := o.factory(ws.ChatProvider, ws.ChatModel)
	if err != nil {
		o.logger.Error("resolving provider failed",
			zap.String("workspace", ws.Slug), zap.Error(err))
		t.abortMessage = "The workspace chat provider could not be initialized."
		return t, nil, nil
	}
	t.provider = provider

	t.mode = ws.ChatMode
	if req.Mode.Valid() {
		t.mode = req.Mode
	}
	if !t.mode.Valid() {
		t.mode = model.ChatModeChat
	}
	span.SetAttributes(attribute.String("mode", string(t.mode)))

	t.temperature = ws.Temperature
	if t.temperature == 0 {
		t.temperature = provider.DefaultTemp()
	}

	safety, err := provider.IsSafe(ctx, req.Message)
	if err != nil {
		o.logger.Error("moderation check failed", zap.Error(err))
		t.abortMessage = "The message could not be moderated and was not sent."
		return t, nil, nil
	}
	if !safety.Safe {
		t.abortMessage = fmt.Sprintf(
			"This message was moderated and will not be allowed. Violations: %s.",
			strings.Join(safety.Reasons, ", "))
		return t, nil, nil
	}

	count, err := o.vectors.NamespaceCount(ctx, ws.Slug)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	history, err := o.store.RecentChats(ctx, ws.ID, threadIDOf(thread), ws.MessageLimit())
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	// A workspace with no vectors cannot ground a query-mode answer.
	if count == 0 {
		if t.mode == model.ChatModeQuery {
			t.refusalText = ws.RefusalText()
			return t, history, nil
		}
	} else {
		pinned, err := o.docs.PinnedDocs(ctx, ws, provider.PromptWindowLimit())
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}

		search, err := o.vectors.PerformSimilaritySearch(ctx, vectordb.SimilaritySearchRequest{
			Namespace:         ws.Slug,
			Input:             req.Message,
			TopN:              ws.ResultLimit(),
			ScoreThreshold:    model.SimilarityScore(ws.SimilarityThreshold),
			FilterIdentifiers: pinned.Identifiers,
		})
		if err != nil {
			o.logger.Error("similarity search failed",
				zap.String("workspace", ws.Slug), zap.Error(err))
			t.abortMessage = fmt.Sprintf("Failed to search the workspace documents: %s", err)
			return t, nil, nil
		}
		if search.Message != "" {
			t.abortMessage = search.Message
			return t, nil, nil
		}

		t.contextTexts = append(t.contextTexts, pinned.Texts...)
		t.contextTexts = append(t.contextTexts, search.ContextTexts...)
		t.sources = append(t.sources, pinned.Sources...)
		t.sources = append(t.sources, search.Sources...)

		// Thin results fall back onto the grounding of earlier turns.
		t.contextTexts = append(t.contextTexts,
			fillSourceWindow(history, len(search.Sources), ws.ResultLimit(), pinned.Identifiers)...)
	}

	if t.mode == model.ChatModeQuery && len(t.contextTexts) == 0 {
		t.refusalText = ws.RefusalText()
		return t, history, nil
	}

	messages, err := o.compressor.Compress(provider, llm.PromptArgs{
		SystemPrompt: ws.SystemPrompt(),
		ContextTexts: t.contextTexts,
		ChatHistory:  historyMessages(history),
		UserPrompt:   req.Message,
	})
	if err != nil {
		o.logger.Error("prompt compression failed", zap.Error(err))
		t.abortMessage = "The prompt is too large for the selected model."
		return t, nil, nil
	}
	t.messages = messages
	span.SetAttributes(
		attribute.Int("context_count", len(t.contextTexts)),
		attribute.Int("source_count", len(t.sources)),
	)
	return t, history, nil
}

func (o *Orchestrator) persistTurn(ctx context.Context, ws *model.Workspace, thread *model.Thread, req Request, t *turn, text string, include bool) (*model.ChatRecord, error) {
	record := &model.ChatRecord{
		WorkspaceID: ws.ID,
		ThreadID:    threadIDOf(thread),
		UserID:      req.UserID,
		Prompt:      req.Message,
		Response: model.ChatResponse{
			Text:    text,
			Sources: t.sources,
			Type:    t.mode,
		},
		Include: include,
	}
	if record.Response.Sources == nil {
		record.Response.Sources = []model.Source{}
	}
	if err := o.store.CreateChat(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// StreamChat runs one streaming turn, emitting chunks to the sink. Errors
// the client can act on are emitted as abort chunks; the returned error
// is reserved for infrastructure failures before any chunk was written.
func (o *Orchestrator) StreamChat(ctx context.Context, ws *model.Workspace, thread *model.Thread, req Request, sink llm.Sink) error {
	ctx, span := tracer.Start(ctx, "chat.StreamChat")
	defer span.End()

	t, _, err := o.prepare(ctx, ws, thread, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		return err
	}

	if t.abortMessage != "" {
		return sink.WriteChunk(llm.AbortChunk(t.responseID, t.abortMessage))
	}

	// Refusal turns answer locally, persist excluded from history, and
	// still finalize so the client gets a chat ID for feedback.
	if t.refusalText != "" {
		if err := sink.WriteChunk(llm.CompleteChunk(t.responseID, t.refusalText, nil)); err != nil {
			return nil
		}
		record, err := o.persistTurn(ctx, ws, thread, req, t, t.refusalText, false)
		if err != nil {
			o.logger.Error("persisting refusal turn failed", zap.Error(err))
			return nil
		}
		_ = sink.WriteChunk(llm.FinalizeChunk(t.responseID, record.ID))
		return nil
	}

	opts := llm.CompletionOptions{Temperature: t.temperature}
	props := llm.ResponseProps{ID: t.responseID, Sources: t.sources}

	var text string
	if t.provider.StreamingEnabled() {
		stream, err := t.provider.StreamGetChatCompletion(ctx, t.messages, opts)
		if err != nil {
			o.logger.Error("opening completion stream failed", zap.Error(err))
			return sink.WriteChunk(llm.AbortChunk(t.responseID,
				"Could not stream a chat completion from the provider."))
		}
		text, err = t.provider.HandleStream(ctx, sink, stream, props)
		if err != nil {
			span.RecordError(err)
			return err
		}
	} else {
		text, err = t.provider.GetChatCompletion(ctx, t.messages, opts)
		if err != nil {
			o.logger.Error("completion failed", zap.Error(err))
			return sink.WriteChunk(llm.AbortChunk(t.responseID,
				"Could not get a chat completion from the provider."))
		}
		if text == "" {
			return sink.WriteChunk(llm.AbortChunk(t.responseID,
				"No text completion could be generated for this input."))
		}
		if err := sink.WriteChunk(llm.CompleteChunk(t.responseID, text, t.sources)); err != nil {
			return nil
		}
	}

	// Nothing accumulated means the client cancelled before any token;
	// there is no turn to persist.
	if text == "" {
		return nil
	}

	record, err := o.persistTurn(ctx, ws, thread, req, t, text, true)
	if err != nil {
		o.logger.Error("persisting chat turn failed", zap.Error(err))
		return nil
	}
	_ = sink.WriteChunk(llm.FinalizeChunk(t.responseID, record.ID))
	return nil
}

// Chat runs one blocking turn and returns the complete response chunk.
func (o *Orchestrator) Chat(ctx context.Context, ws *model.Workspace, thread *model.Thread, req Request) (llm.ResponseChunk, error) {
	ctx, span := tracer.Start(ctx, "chat.Chat")
	defer span.End()

	t, _, err := o.prepare(ctx, ws, thread, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		return llm.ResponseChunk{}, err
	}

	if t.abortMessage != "" {
		return llm.AbortChunk(t.responseID, t.abortMessage), nil
	}

	if t.refusalText != "" {
		record, err := o.persistTurn(ctx, ws, thread, req, t, t.refusalText, false)
		if err != nil {
			return llm.ResponseChunk{}, err
		}
		chunk := llm.CompleteChunk(t.responseID, t.refusalText, nil)
		chunk.ChatID = &record.ID
		return chunk, nil
	}

	text, err := t.provider.GetChatCompletion(ctx, t.messages,
		llm.CompletionOptions{Temperature: t.temperature})
	if err != nil {
		o.logger.Error("completion failed", zap.Error(err))
		return llm.AbortChunk(t.responseID,
			"Could not get a chat completion from the provider."), nil
	}
	if text == "" {
		return llm.AbortChunk(t.responseID,
			"No text completion could be generated for this input."), nil
	}

	record, err := o.persistTurn(ctx, ws, thread, req, t, text, true)
	if err != nil {
		return llm.ResponseChunk{}, err
	}
	chunk := llm.CompleteChunk(t.responseID, text, t.sources)
	chunk.ChatID = &record.ID
	return chunk, nil
}

// Feedback records a thumbs rating on a persisted turn after verifying
// it belongs to the workspace.
func (o *Orchestrator) Feedback(ctx context.Context, ws *model.Workspace, chatID int64, score *bool) error {
	chat, err := o.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.WorkspaceID != ws.ID {
		return fmt.Errorf("%w: chat %d", store.ErrNotFound, chatID)
	}
	return o.store.SetChatFeedback(ctx, chatID, score)
}

// DeleteWorkspace removes a workspace and everything hanging off it:
// chats, threads, document registrations, the vector namespace, and the
// workspace row itself. Safe to retry; every step is idempotent.
func (o *Orchestrator) DeleteWorkspace(ctx context.Context, ws *model.Workspace) error {
	ctx, span := tracer.Start(ctx, "chat.DeleteWorkspace")
	defer span.End()
	span.SetAttributes(attribute.String("workspace", ws.Slug))

	if err := o.store.DeleteChatsByWorkspace(ctx, ws.ID); err != nil {
		return err
	}
	if err := o.store.DeleteThreadsByWorkspace(ctx, ws.ID); err != nil {
		return err
	}
	if err := o.store.DeleteDocumentsByWorkspace(ctx, ws.ID); err != nil {
		return err
	}
	if err := o.vectors.DeleteNamespace(ctx, ws.Slug); err != nil {
		return err
	}
	if err := o.store.DeleteWorkspace(ctx, ws.ID); err != nil {
		return err
	}
	o.logger.Info("deleted workspace", zap.String("workspace", ws.Slug))
	return nil
}
