package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// perMessageOverhead approximates the wrapper tokens each chat message
// costs on top of its content.
const perMessageOverhead = 4

// TokenCounter estimates token counts for prompt budgeting. Counts only
// gate window math, so a stable approximation beats an exact count that
// requires the vendor's own tokenizer.
type TokenCounter struct {
	once    sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
	logger  *zap.Logger
	fallbck bool
}

// NewTokenCounter builds a counter backed by the cl100k_base encoding.
// The encoding loads lazily on first use; if loading fails the counter
// degrades to a characters/4 heuristic instead of failing chat turns.
func NewTokenCounter(logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCounter{logger: logger}
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		c.enc, c.encErr = tiktoken.GetEncoding("cl100k_base")
		if c.encErr != nil {
			c.fallbck = true
			c.logger.Warn("tiktoken encoding unavailable, using character heuristic",
				zap.Error(c.encErr))
		}
	})
	return c.enc
}

// Count returns the estimated token count of a single string.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough average of four characters per token for English text.
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// CountMessages returns the estimated token count of a message sequence
// including per-message wrapper overhead.
func (c *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Content) + perMessageOverhead
	}
	return total
}
