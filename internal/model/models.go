// Package model defines the persistent and transient data types shared by
// the chat orchestration core: workspaces, documents, chat records, and the
// per-request context chunks that never touch storage.
package model

import (
	"encoding/json"
	"time"
)

// ChatMode selects how a workspace grounds its answers.
type ChatMode string

const (
	// ChatModeChat augments general-knowledge conversation with retrieved context.
	ChatModeChat ChatMode = "chat"

	// ChatModeQuery restricts answers to retrieved or pinned context and
	// refuses when none exists.
	ChatModeQuery ChatMode = "query"
)

// Valid reports whether m is a recognized chat mode.
func (m ChatMode) Valid() bool {
	return m == ChatModeChat || m == ChatModeQuery
}

// Similarity threshold tiers. A workspace stores a tier name; the vector
// store resolves it to a minimum cosine score.
const (
	SimilarityNone   = "none"   // 0.00
	SimilarityLow    = "low"    // 0.25
	SimilarityMedium = "medium" // 0.50
	SimilarityHigh   = "high"   // 0.75
)

// SimilarityScore resolves a tier name to its minimum score.
// Unknown tiers resolve to the low tier.
func SimilarityScore(tier string) float32 {
	switch tier {
	case SimilarityNone:
		return 0
	case SimilarityLow:
		return 0.25
	case SimilarityMedium:
		return 0.50
	case SimilarityHigh:
		return 0.75
	default:
		return 0.25
	}
}

const (
	// DefaultTopN is the similarity search result count when a workspace
	// has no override.
	DefaultTopN = 4

	// DefaultHistoryLength is the number of prior chat records replayed
	// into the prompt when a workspace has no override.
	DefaultHistoryLength = 20

	// DefaultQueryRefusal is returned verbatim for query-mode turns with
	// no grounding context.
	DefaultQueryRefusal = "There is no relevant information in this workspace to answer your query."

	// DefaultSystemPrompt seeds the system message when a workspace has no
	// prompt template of its own.
	DefaultSystemPrompt = "Given the following conversation, relevant context, and a follow up question, " +
		"reply with an answer to the current question the user is asking. Return only your response to the " +
		"question given the above information following the users instructions as needed."
)

// Workspace is a curated set of embedded documents plus the chat settings
// applied to every turn against it. Its slug doubles as the vector store
// namespace.
type Workspace struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	ChatMode            ChatMode  `json:"chatMode"`
	SimilarityThreshold string    `json:"similarityThreshold"` // tier name, see SimilarityScore
	TopN                int       `json:"topN"`                // similarity search result count
	HistoryLength       int       `json:"historyLength"`       // chat records replayed into the prompt
	PromptTemplate      string    `json:"promptTemplate"`      // system prompt override
	QueryRefusal        string    `json:"queryRefusal"`        // refusal text override for query mode
	ChatProvider        string    `json:"chatProvider"`        // provider override, empty = daemon default
	ChatModel           string    `json:"chatModel"`           // model override, empty = provider default
	Temperature         float64   `json:"temperature"`         // 0 = provider default
	CreatedAt           time.Time `json:"createdAt"`
}

// SystemPrompt returns the workspace prompt template or the default.
func (w *Workspace) SystemPrompt() string {
	if w.PromptTemplate != "" {
		return w.PromptTemplate
	}
	return DefaultSystemPrompt
}

// RefusalText returns the workspace query refusal text or the default.
func (w *Workspace) RefusalText() string {
	if w.QueryRefusal != "" {
		return w.QueryRefusal
	}
	return DefaultQueryRefusal
}

// ResultLimit returns the workspace topN or the default.
func (w *Workspace) ResultLimit() int {
	if w.TopN > 0 {
		return w.TopN
	}
	return DefaultTopN
}

// MessageLimit returns the workspace history length or the default.
func (w *Workspace) MessageLimit() int {
	if w.HistoryLength > 0 {
		return w.HistoryLength
	}
	return DefaultHistoryLength
}

// Thread is a named conversation strand inside a workspace. Chat history
// is scoped to a thread when one is present; threadless chats form the
// workspace's default strand.
type Thread struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspaceId"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	UserID      *string   `json:"userId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document is one ingested file registered to a workspace. DocID is the
// opaque key its vectors carry in the vector store; DocPath is the origin
// path used for the content-addressed vector cache and for the stable
// source identifier shown in citations.
type Document struct {
	ID          int64          `json:"id"`
	DocID       string         `json:"docId"`
	WorkspaceID int64          `json:"workspaceId"`
	Filename    string         `json:"filename"`
	DocPath     string         `json:"docPath"`
	Pinned      bool           `json:"pinned"`
	PinnedAt    *time.Time     `json:"pinnedAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ChatRecord is one persisted turn: the user prompt and the structured
// response. Append-only except for feedback updates and moderation-driven
// deletion. Include=false records render in history UIs but are never
// replayed into prompt history (refusal turns use this).
type ChatRecord struct {
	ID          int64        `json:"id"`
	WorkspaceID int64        `json:"workspaceId"`
	ThreadID    *int64       `json:"threadId,omitempty"`
	UserID      *string      `json:"userId,omitempty"`
	Prompt      string       `json:"prompt"`
	Response    ChatResponse `json:"response"`
	// FeedbackScore is tri-state: nil unset, false negative, true positive.
	FeedbackScore *bool     `json:"feedbackScore"`
	Include       bool      `json:"include"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Source is one citation attached to a response: where a context chunk
// came from and how well it matched. Backfilled history sources carry no
// score.
type Source struct {
	Title   string  `json:"title"`
	DocID   string  `json:"docId,omitempty"`
	DocPath string  `json:"docPath,omitempty"`
	Text    string  `json:"text,omitempty"`
	Score   float32 `json:"score,omitempty"`
}

// ChatResponse is the structured response column of a ChatRecord.
type ChatResponse struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
	Type    ChatMode `json:"type"`
}

// MarshalResponse renders the response column for storage.
func (r ChatResponse) MarshalResponse() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UnmarshalResponse parses a stored response column. Sources default to an
// empty slice so callers never see nil citations.
func UnmarshalResponse(raw string) (ChatResponse, error) {
	var r ChatResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ChatResponse{}, err
	}
	if r.Sources == nil {
		r.Sources = []Source{}
	}
	return r, nil
}
