package chat

import (
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/llm"
)

// ErrPromptTooLarge indicates the irreducible prompt (system prompt,
// context and user message, with no history at all) exceeds the model's
// window.
var ErrPromptTooLarge = errors.New("prompt exceeds model context window")

// maxResponseReserve caps how many tokens are held back for the model's
// answer.
const maxResponseReserve = 1024

// Compressor fits an assembled prompt into the provider's window by
// evicting history, oldest turns first. System prompt, context blocks and
// the current user message are never touched.
type Compressor struct {
	counter *llm.TokenCounter
	logger  *zap.Logger
}

func NewCompressor(counter *llm.TokenCounter, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{counter: counter, logger: logger}
}

// Compress constructs the provider's prompt and evicts history until the
// estimated token count fits the window minus a response reserve. Errors
// only when eviction cannot help.
func (c *Compressor) Compress(provider llm.Provider, args llm.PromptArgs) ([]llm.Message, error) {
	limit := provider.PromptWindowLimit()
	reserve := limit / 4
	if reserve > maxResponseReserve {
		reserve = maxResponseReserve
	}
	budget := limit - reserve

	messages := provider.ConstructPrompt(args)
	evicted := 0
	for c.counter.CountMessages(messages) > budget {
		// History occupies indices 1..len-2: system first, user last.
		if len(messages) <= 2 {
			return nil, ErrPromptTooLarge
		}
		messages = append(messages[:1], messages[2:]...)
		evicted++
	}
	if evicted > 0 {
		c.logger.Debug("evicted history to fit prompt window",
			zap.Int("evicted_messages", evicted),
			zap.Int("budget", budget))
	}
	return messages, nil
}
