package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildPromptOrdering(t *testing.T) {
	args := PromptArgs{
		SystemPrompt: "You are helpful.",
		ChatHistory: []Message{
			{Role: RoleUser, Content: "earlier question"},
			{Role: RoleAssistant, Content: "earlier answer"},
		},
		UserPrompt: "current question",
	}

	messages := buildPrompt(args)
	require.Len(t, messages, 4)

	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, "You are helpful.", messages[0].Content)
	assert.Equal(t, "earlier question", messages[1].Content)
	assert.Equal(t, "earlier answer", messages[2].Content)
	assert.Equal(t, RoleUser, messages[3].Role)
	assert.Equal(t, "current question", messages[3].Content)
}

func TestBuildPromptContextBlocks(t *testing.T) {
	args := PromptArgs{
		SystemPrompt: "base",
		ContextTexts: []string{"first chunk", "second chunk"},
		UserPrompt:   "q",
	}

	messages := buildPrompt(args)
	system := messages[0].Content

	assert.Contains(t, system, "base\nContext:\n")
	assert.Contains(t, system, "[CONTEXT 0]:\nfirst chunk\n[END CONTEXT 0]")
	assert.Contains(t, system, "[CONTEXT 1]:\nsecond chunk\n[END CONTEXT 1]")
}

func TestBuildPromptNoContext(t *testing.T) {
	messages := buildPrompt(PromptArgs{SystemPrompt: "base", UserPrompt: "q"})
	assert.Equal(t, "base", messages[0].Content)
}

func TestTokenCounterCount(t *testing.T) {
	counter := NewTokenCounter(zap.NewNop())

	assert.Zero(t, counter.Count(""))
	assert.Positive(t, counter.Count("hello world"))

	// Longer text costs more tokens.
	short := counter.Count("hello")
	long := counter.Count("hello hello hello hello hello hello hello hello")
	assert.Greater(t, long, short)
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	counter := NewTokenCounter(zap.NewNop())

	messages := []Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "b"},
	}
	total := counter.CountMessages(messages)
	content := counter.Count("a") + counter.Count("b")

	assert.Equal(t, content+2*perMessageOverhead, total)
}
