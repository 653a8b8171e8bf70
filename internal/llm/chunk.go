package llm

import "github.com/fyrsmithlabs/chatd/internal/model"

// Chunk types emitted over a response stream.
const (
	// ChunkTextResponse carries an incremental token or a complete
	// blocking response.
	ChunkTextResponse = "textResponse"

	// ChunkTextResponseChunk carries one streamed token.
	ChunkTextResponseChunk = "textResponseChunk"

	// ChunkAbort terminates a turn with an error message.
	ChunkAbort = "abort"

	// ChunkStopGeneration acknowledges a client-initiated cancellation.
	ChunkStopGeneration = "stopGeneration"

	// ChunkFinalize carries the persisted chat record ID after a turn is
	// stored.
	ChunkFinalize = "finalizeResponseStream"
)

// ResponseChunk is the normalized envelope for every event emitted to a
// chat client, streamed or blocking. Sources travel only on the closing
// chunk; token chunks carry the empty slice.
type ResponseChunk struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	TextResponse string         `json:"textResponse"`
	Sources      []model.Source `json:"sources"`
	Close        bool           `json:"close"`
	Error        string         `json:"error,omitempty"`
	ChatID       *int64         `json:"chatId,omitempty"`
}

// TokenChunk builds an open incremental-token chunk.
func TokenChunk(id, token string) ResponseChunk {
	return ResponseChunk{
		ID:           id,
		Type:         ChunkTextResponseChunk,
		TextResponse: token,
		Sources:      []model.Source{},
	}
}

// CloseChunk builds the terminal chunk of a successful stream, carrying
// the turn's citations.
func CloseChunk(id string, sources []model.Source) ResponseChunk {
	if sources == nil {
		sources = []model.Source{}
	}
	return ResponseChunk{
		ID:      id,
		Type:    ChunkTextResponseChunk,
		Sources: sources,
		Close:   true,
	}
}

// AbortChunk builds a closed error chunk. The message is operator-facing
// text, not a Go error chain.
func AbortChunk(id, message string) ResponseChunk {
	return ResponseChunk{
		ID:      id,
		Type:    ChunkAbort,
		Sources: []model.Source{},
		Close:   true,
		Error:   message,
	}
}

// CompleteChunk builds the single chunk of a blocking response.
func CompleteChunk(id, text string, sources []model.Source) ResponseChunk {
	if sources == nil {
		sources = []model.Source{}
	}
	return ResponseChunk{
		ID:           id,
		Type:         ChunkTextResponse,
		TextResponse: text,
		Sources:      sources,
		Close:        true,
	}
}

// FinalizeChunk builds the post-persistence chunk that hands the client
// the stored chat record ID.
func FinalizeChunk(id string, chatID int64) ResponseChunk {
	return ResponseChunk{
		ID:      id,
		Type:    ChunkFinalize,
		Sources: []model.Source{},
		Close:   true,
		ChatID:  &chatID,
	}
}
