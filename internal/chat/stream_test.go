package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chatd/internal/llm"
)

func TestStreamWriterHeadersAndEvents(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewStreamWriter(rec)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	require.NoError(t, w.WriteChunk(llm.TokenChunk("id-1", "hello")))
	require.NoError(t, w.WriteChunk(llm.CloseChunk("id-1", nil)))

	body := rec.Body.String()
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, events, 2)

	var first llm.ResponseChunk
	payload, ok := strings.CutPrefix(events[0], "data: ")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(payload), &first))
	assert.Equal(t, "hello", first.TextResponse)
	assert.NotNil(t, first.Sources)

	var last llm.ResponseChunk
	payload, ok = strings.CutPrefix(events[1], "data: ")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(payload), &last))
	assert.True(t, last.Close)
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestNewStreamWriterRequiresFlusher(t *testing.T) {
	_, err := NewStreamWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}
