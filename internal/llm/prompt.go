package llm

import (
	"fmt"
	"strings"
)

// appendContext renders retrieved chunks into delimited blocks appended to
// the system prompt. Block numbering is 0-based and chunk order is
// preserved so citations line up with retrieval order.
func appendContext(contextTexts []string) string {
	if len(contextTexts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nContext:\n")
	for i, text := range contextTexts {
		fmt.Fprintf(&b, "[CONTEXT %d]:\n%s\n[END CONTEXT %d]\n\n", i, text, i)
	}
	return b.String()
}

// buildPrompt assembles the canonical message sequence shared by every
// OpenAI-style provider: system prompt plus context blocks first, history
// verbatim, the current user prompt last.
func buildPrompt(args PromptArgs) []Message {
	messages := make([]Message, 0, len(args.ChatHistory)+2)
	messages = append(messages, Message{
		Role:    RoleSystem,
		Content: args.SystemPrompt + appendContext(args.ContextTexts),
	})
	messages = append(messages, args.ChatHistory...)
	messages = append(messages, Message{
		Role:    RoleUser,
		Content: args.UserPrompt,
	})
	return messages
}
