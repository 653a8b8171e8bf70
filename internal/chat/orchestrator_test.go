package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/documents"
	"github.com/fyrsmithlabs/chatd/internal/llm"
	"github.com/fyrsmithlabs/chatd/internal/model"
	"github.com/fyrsmithlabs/chatd/internal/store"
	"github.com/fyrsmithlabs/chatd/internal/vectordb"
)

// topicEmbedder is a deterministic embedder for tests: each dimension
// counts one topic word, so texts about the same topic score near 1 and
// unrelated texts score near 0. Setting queryErr makes query embedding
// fail, simulating an unreachable vector/embedding vendor.
type topicEmbedder struct {
	queryErr error
}

var topicWords = []string{"alpine", "badger", "cactus", "desert"}

func topicVector(text string) []float32 {
	vec := make([]float32, len(topicWords)+1)
	vec[len(topicWords)] = 0.1
	lower := strings.ToLower(text)
	for i, word := range topicWords {
		vec[i] = float32(strings.Count(lower, word))
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	scale := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= scale
	}
	return vec
}

func (e *topicEmbedder) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return topicVector(input), nil
}

func (e *topicEmbedder) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		out[i] = topicVector(chunk)
	}
	return out, nil
}

// replayStream replays scripted deltas then closes.
type replayStream struct {
	deltas []llm.StreamDelta
	idx    int
}

func (s *replayStream) Recv() (llm.StreamDelta, error) {
	if s.idx >= len(s.deltas) {
		return llm.StreamDelta{}, io.EOF
	}
	d := s.deltas[s.idx]
	s.idx++
	return d, nil
}

func (s *replayStream) Close() error { return nil }

// fakeProvider is a scriptable llm.Provider.
type fakeProvider struct {
	window        int
	streaming     bool
	temp          float64
	safety        llm.Safety
	safetyErr     error
	completion    string
	completionErr error
	deltas        []llm.StreamDelta
	streamErr     error

	lastArgs     llm.PromptArgs
	lastMessages []llm.Message
}

func (p *fakeProvider) PromptWindowLimit() int { return p.window }
func (p *fakeProvider) StreamingEnabled() bool { return p.streaming }
func (p *fakeProvider) DefaultTemp() float64   { return p.temp }

func (p *fakeProvider) IsSafe(ctx context.Context, input string) (llm.Safety, error) {
	if p.safetyErr != nil {
		return llm.Safety{}, p.safetyErr
	}
	return p.safety, nil
}

func (p *fakeProvider) ConstructPrompt(args llm.PromptArgs) []llm.Message {
	p.lastArgs = args
	system := args.SystemPrompt
	for _, text := range args.ContextTexts {
		system += "\n" + text
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	messages = append(messages, args.ChatHistory...)
	return append(messages, llm.Message{Role: llm.RoleUser, Content: args.UserPrompt})
}

func (p *fakeProvider) GetChatCompletion(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	p.lastMessages = messages
	return p.completion, p.completionErr
}

func (p *fakeProvider) StreamGetChatCompletion(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (llm.CompletionStream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	p.lastMessages = messages
	return &replayStream{deltas: p.deltas}, nil
}

func (p *fakeProvider) HandleStream(ctx context.Context, sink llm.Sink, stream llm.CompletionStream, props llm.ResponseProps) (string, error) {
	defer stream.Close()
	var full strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = sink.WriteChunk(llm.AbortChunk(props.ID, err.Error()))
			return full.String(), nil
		}
		if delta.Token != "" {
			full.WriteString(delta.Token)
			if err := sink.WriteChunk(llm.TokenChunk(props.ID, delta.Token)); err != nil {
				return full.String(), nil
			}
		}
		if delta.Done {
			break
		}
	}
	_ = sink.WriteChunk(llm.CloseChunk(props.ID, props.Sources))
	return full.String(), nil
}

func (p *fakeProvider) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return topicVector(input), nil
}

func (p *fakeProvider) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		out[i] = topicVector(chunk)
	}
	return out, nil
}

// chunkSink collects everything an orchestrator turn emits.
type chunkSink struct {
	chunks []llm.ResponseChunk
}

func (s *chunkSink) WriteChunk(chunk llm.ResponseChunk) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

type testEnv struct {
	orch       *Orchestrator
	store      store.Store
	docs       *documents.Manager
	provider   *fakeProvider
	embed      *topicEmbedder
	factoryErr error
	docsDir    string
	ws         *model.Workspace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend, err := vectordb.NewChromemStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	embed := &topicEmbedder{}
	vectors, err := vectordb.NewManager(backend, embed, nil, zap.NewNop())
	require.NoError(t, err)

	counter := llm.NewTokenCounter(zap.NewNop())
	docsDir := t.TempDir()
	docs, err := documents.NewManager(st, vectors, documents.NewLoader(docsDir), counter, zap.NewNop())
	require.NoError(t, err)

	env := &testEnv{
		store:    st,
		docs:     docs,
		provider: &fakeProvider{window: 8192, streaming: true, temp: 0.7, safety: llm.Safety{Safe: true}},
		embed:    embed,
		docsDir:  docsDir,
	}
	factory := func(providerName, modelName string) (llm.Provider, error) {
		if env.factoryErr != nil {
			return nil, env.factoryErr
		}
		return env.provider, nil
	}

	env.orch, err = NewOrchestrator(st, docs, vectors, factory, NewCompressor(counter, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	env.ws = &model.Workspace{Name: "Test", Slug: "test", ChatMode: model.ChatModeChat}
	require.NoError(t, st.CreateWorkspace(context.Background(), env.ws))
	return env
}

// addDocument writes a document file and ingests it into the workspace.
func (e *testEnv) addDocument(t *testing.T, name, title, content string) {
	t.Helper()
	raw, err := json.Marshal(documents.DocumentFile{Title: title, PageContent: content})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.docsDir, name), raw, 0o644))

	result, err := e.docs.AddDocuments(context.Background(), e.ws, []string{name})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	require.Empty(t, result.Failed)
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ws, thread, err := env.orch.Resolve(ctx, "test", "")
	require.NoError(t, err)
	assert.Equal(t, env.ws.ID, ws.ID)
	assert.Nil(t, thread)

	_, _, err = env.orch.Resolve(ctx, "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = env.orch.Resolve(ctx, "test", "no-such-thread")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStreamChatEmitsTokensAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.provider.deltas = []llm.StreamDelta{{Token: "Hello"}, {Token: " there"}, {Done: true}}

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "hi"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 4)
	assert.Equal(t, "Hello", sink.chunks[0].TextResponse)
	assert.Equal(t, " there", sink.chunks[1].TextResponse)
	assert.True(t, sink.chunks[2].Close)

	finalize := sink.chunks[3]
	assert.Equal(t, llm.ChunkFinalize, finalize.Type)
	require.NotNil(t, finalize.ChatID)

	record, err := env.store.GetChat(context.Background(), *finalize.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "hi", record.Prompt)
	assert.Equal(t, "Hello there", record.Response.Text)
	assert.True(t, record.Include)

	history, err := env.store.RecentChats(context.Background(), env.ws.ID, nil, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStreamChatQueryModeRefusesEmptyWorkspace(t *testing.T) {
	env := newTestEnv(t)
	env.ws.ChatMode = model.ChatModeQuery
	require.NoError(t, env.store.UpdateWorkspace(context.Background(), env.ws))

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "what is in here?"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 2)
	assert.Equal(t, model.DefaultQueryRefusal, sink.chunks[0].TextResponse)
	assert.True(t, sink.chunks[0].Close)

	finalize := sink.chunks[1]
	require.NotNil(t, finalize.ChatID)

	// Refusal turns persist for display but never replay into history.
	record, err := env.store.GetChat(context.Background(), *finalize.ChatID)
	require.NoError(t, err)
	assert.False(t, record.Include)

	history, err := env.store.RecentChats(context.Background(), env.ws.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamChatModerationAbort(t *testing.T) {
	env := newTestEnv(t)
	env.provider.safety = llm.Safety{Safe: false, Reasons: []string{"violence"}}

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "bad input"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 1)
	abort := sink.chunks[0]
	assert.Equal(t, llm.ChunkAbort, abort.Type)
	assert.Contains(t, abort.Error, "moderated")
	assert.Contains(t, abort.Error, "violence")

	history, err := env.store.ListChats(context.Background(), env.ws.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamChatSearchFailureSurfacesCause(t *testing.T) {
	env := newTestEnv(t)
	env.addDocument(t, "guide.json", "guide.json", "the alpine trail")
	env.embed.queryErr = errors.New("vector backend unavailable")

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "hi"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 1)
	abort := sink.chunks[0]
	assert.Equal(t, llm.ChunkAbort, abort.Type)
	assert.Contains(t, abort.Error, "vector backend unavailable")

	history, err := env.store.ListChats(context.Background(), env.ws.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamChatProviderInitFailure(t *testing.T) {
	env := newTestEnv(t)
	env.factoryErr = errors.New("no credentials")

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "hi"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 1)
	assert.Equal(t, llm.ChunkAbort, sink.chunks[0].Type)
	assert.Contains(t, sink.chunks[0].Error, "provider")
}

func TestStreamChatNonStreamingProvider(t *testing.T) {
	env := newTestEnv(t)
	env.provider.streaming = false
	env.provider.completion = "complete answer"

	sink := &chunkSink{}
	err := env.orch.StreamChat(context.Background(), env.ws, nil, Request{Message: "hi"}, sink)
	require.NoError(t, err)

	require.Len(t, sink.chunks, 2)
	assert.Equal(t, llm.ChunkTextResponse, sink.chunks[0].Type)
	assert.Equal(t, "complete answer", sink.chunks[0].TextResponse)
	assert.Equal(t, llm.ChunkFinalize, sink.chunks[1].Type)
}

func TestChatBlocking(t *testing.T) {
	env := newTestEnv(t)
	env.provider.completion = "blocking answer"

	chunk, err := env.orch.Chat(context.Background(), env.ws, nil, Request{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, llm.ChunkTextResponse, chunk.Type)
	assert.Equal(t, "blocking answer", chunk.TextResponse)
	assert.True(t, chunk.Close)
	require.NotNil(t, chunk.ChatID)

	record, err := env.store.GetChat(context.Background(), *chunk.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "blocking answer", record.Response.Text)
}

func TestChatEmptyCompletionAborts(t *testing.T) {
	env := newTestEnv(t)
	env.provider.completion = ""

	chunk, err := env.orch.Chat(context.Background(), env.ws, nil, Request{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, llm.ChunkAbort, chunk.Type)
	assert.Contains(t, chunk.Error, "No text completion")

	history, err := env.store.ListChats(context.Background(), env.ws.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatGroundsOnRetrievedContext(t *testing.T) {
	env := newTestEnv(t)
	env.addDocument(t, "guide.json", "guide.json", "the alpine trail guide")
	env.provider.completion = "grounded answer"

	env.ws.ChatMode = model.ChatModeQuery
	require.NoError(t, env.store.UpdateWorkspace(context.Background(), env.ws))

	chunk, err := env.orch.Chat(context.Background(), env.ws, nil, Request{Message: "tell me about the alpine trail"})
	require.NoError(t, err)

	assert.Equal(t, llm.ChunkTextResponse, chunk.Type)
	assert.Equal(t, "grounded answer", chunk.TextResponse)
	require.NotEmpty(t, chunk.Sources)
	assert.Equal(t, "guide.json", chunk.Sources[0].Title)

	// Retrieved text reached the prompt.
	require.NotEmpty(t, env.provider.lastArgs.ContextTexts)
	assert.Contains(t, env.provider.lastArgs.ContextTexts[0], "alpine trail")
}

func TestChatQueryModeRefusesOffTopicInput(t *testing.T) {
	env := newTestEnv(t)
	env.addDocument(t, "guide.json", "guide.json", "the alpine trail guide")

	env.ws.ChatMode = model.ChatModeQuery
	require.NoError(t, env.store.UpdateWorkspace(context.Background(), env.ws))

	chunk, err := env.orch.Chat(context.Background(), env.ws, nil, Request{Message: "badger badger badger"})
	require.NoError(t, err)

	assert.Equal(t, model.DefaultQueryRefusal, chunk.TextResponse)
}

func TestStreamChatThreadScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	thread := &model.Thread{WorkspaceID: env.ws.ID, Slug: "side-quest", Name: "Side quest"}
	require.NoError(t, env.store.CreateThread(ctx, thread))

	env.provider.deltas = []llm.StreamDelta{{Token: "threaded"}, {Done: true}}
	sink := &chunkSink{}
	require.NoError(t, env.orch.StreamChat(ctx, env.ws, thread, Request{Message: "hi"}, sink))

	finalize := sink.chunks[len(sink.chunks)-1]
	require.NotNil(t, finalize.ChatID)

	record, err := env.store.GetChat(ctx, *finalize.ChatID)
	require.NoError(t, err)
	require.NotNil(t, record.ThreadID)
	assert.Equal(t, thread.ID, *record.ThreadID)

	// The threadless strand stays empty.
	history, err := env.store.RecentChats(ctx, env.ws.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = env.store.RecentChats(ctx, env.ws.ID, &thread.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.completion = "answer"

	chunk, err := env.orch.Chat(ctx, env.ws, nil, Request{Message: "hi"})
	require.NoError(t, err)
	require.NotNil(t, chunk.ChatID)

	positive := true
	require.NoError(t, env.orch.Feedback(ctx, env.ws, *chunk.ChatID, &positive))

	record, err := env.store.GetChat(ctx, *chunk.ChatID)
	require.NoError(t, err)
	require.NotNil(t, record.FeedbackScore)
	assert.True(t, *record.FeedbackScore)

	// A chat belonging to another workspace is invisible.
	other := &model.Workspace{Name: "Other", Slug: "other"}
	require.NoError(t, env.store.CreateWorkspace(ctx, other))
	err = env.orch.Feedback(ctx, other, *chunk.ChatID, &positive)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteWorkspaceCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addDocument(t, "guide.json", "guide.json", "the alpine trail guide")
	env.provider.completion = "answer"
	_, err := env.orch.Chat(ctx, env.ws, nil, Request{Message: "alpine?"})
	require.NoError(t, err)

	require.NoError(t, env.orch.DeleteWorkspace(ctx, env.ws))

	_, err = env.store.GetWorkspaceBySlug(ctx, env.ws.Slug)
	assert.ErrorIs(t, err, store.ErrNotFound)

	count, err := env.orch.vectors.NamespaceCount(ctx, env.ws.Slug)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Retrying the cascade is harmless.
	require.NoError(t, env.orch.DeleteWorkspace(ctx, env.ws))
}
