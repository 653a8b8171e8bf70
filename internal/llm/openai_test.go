package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
)

func openAITestConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    "openai",
		Model:   "gpt-4o",
		APIKey:  "test-key",
		BaseURL: baseURL,
	}
}

func TestNewOpenAIValidation(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		_, err := NewOpenAI(config.ProviderConfig{Model: "gpt-4o"}, nil, zap.NewNop())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown model fails closed", func(t *testing.T) {
		_, err := NewOpenAI(config.ProviderConfig{APIKey: "k", Model: "gpt-99"}, nil, zap.NewNop())
		assert.ErrorIs(t, err, ErrUnknownModel)
	})

	t.Run("unknown model with token limit override", func(t *testing.T) {
		p, err := NewOpenAI(config.ProviderConfig{APIKey: "k", Model: "gpt-99", TokenLimit: 9000}, nil, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 9000, p.PromptWindowLimit())
	})

	t.Run("default model window", func(t *testing.T) {
		p, err := NewOpenAI(config.ProviderConfig{APIKey: "k"}, nil, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 128000, p.PromptWindowLimit())
		assert.True(t, p.StreamingEnabled())
	})
}

func TestOpenAIGetChatCompletion(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the answer"}}]}`)
	}))
	defer srv.Close()

	p, err := NewOpenAI(openAITestConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	messages := []Message{{Role: RoleUser, Content: "q"}}
	text, err := p.GetChatCompletion(context.Background(), messages, CompletionOptions{Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "the answer", text)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	assert.Equal(t, messages, gotReq.Messages)
	assert.InDelta(t, 0.3, gotReq.Temperature, 1e-9)
	assert.False(t, gotReq.Stream)
}

func TestOpenAIGetChatCompletionZeroChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	p, err := NewOpenAI(openAITestConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	text, err := p.GetChatCompletion(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, CompletionOptions{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAIGetChatCompletionUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAI(openAITestConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = p.GetChatCompletion(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, CompletionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIIsSafe(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantSafe    bool
		wantReasons []string
	}{
		{
			name:     "clean input",
			response: `{"results":[{"flagged":false,"categories":{}}]}`,
			wantSafe: true,
		},
		{
			name: "flagged with humanized categories",
			response: `{"results":[{"flagged":true,"categories":` +
				`{"hate/threatening":true,"violence":false}}]}`,
			wantSafe:    false,
			wantReasons: []string{"hate or threatening"},
		},
		{
			name:     "no results treated as safe",
			response: `{"results":[]}`,
			wantSafe: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/moderations", r.URL.Path)
				fmt.Fprint(w, tt.response)
			}))
			defer srv.Close()

			p, err := NewOpenAI(openAITestConfig(srv.URL), nil, zap.NewNop())
			require.NoError(t, err)

			safety, err := p.IsSafe(context.Background(), "some input")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSafe, safety.Safe)
			assert.Equal(t, tt.wantReasons, safety.Reasons)
		})
	}
}

func TestOpenAIStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAI(openAITestConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := p.StreamGetChatCompletion(ctx, []Message{{Role: RoleUser, Content: "q"}}, CompletionOptions{})
	require.NoError(t, err)

	sink := &chunkRecorder{}
	text, err := p.HandleStream(ctx, sink, stream, testProps())
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	chunks := sink.all()
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkTextResponseChunk, chunks[0].Type)
	assert.Equal(t, "Hel", chunks[0].TextResponse)
	assert.Equal(t, "lo", chunks[1].TextResponse)
	assert.True(t, chunks[2].Close)
	assert.Equal(t, testProps().Sources, chunks[2].Sources)
}
