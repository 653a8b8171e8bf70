package chat

import (
	"github.com/fyrsmithlabs/chatd/internal/llm"
	"github.com/fyrsmithlabs/chatd/internal/model"
)

// historyMessages expands persisted chat records into the prompt's
// user/assistant message pairs, oldest first. Records are already
// filtered to include=true by the store.
func historyMessages(records []model.ChatRecord) []llm.Message {
	out := make([]llm.Message, 0, len(records)*2)
	for _, record := range records {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: record.Prompt},
			llm.Message{Role: llm.RoleAssistant, Content: record.Response.Text},
		)
	}
	return out
}
