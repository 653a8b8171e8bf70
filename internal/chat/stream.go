// Package chat implements the turn orchestration pipeline: moderation,
// context assembly, prompt compression, completion, persistence.
package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/fyrsmithlabs/chatd/internal/llm"
)

// StreamWriter emits response chunks as server-sent events. Safe for
// concurrent use; the completion consumer and the orchestrator both write
// to it.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewStreamWriter prepares an SSE response. The ResponseWriter must
// support flushing; buffered proxies in front of the daemon defeat
// streaming entirely.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &StreamWriter{w: w, flusher: flusher}, nil
}

// WriteChunk serializes one chunk as an SSE data event and flushes it.
func (s *StreamWriter) WriteChunk(chunk llm.ResponseChunk) error {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		s.closed = true
		return fmt.Errorf("writing chunk: %w", err)
	}
	s.flusher.Flush()
	return nil
}

var _ llm.Sink = (*StreamWriter)(nil)
