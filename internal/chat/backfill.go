package chat

import (
	"github.com/fyrsmithlabs/chatd/internal/model"
)

// fillSourceWindow backfills context texts from the sources of recent
// turns when the current search returned fewer than topN results. A
// follow-up question that embeds poorly still answers against the
// documents its conversation was grounded on.
//
// Backfilled text enters the prompt only; it is never re-cited, so the
// turn's source list stays truthful about what this search found.
func fillSourceWindow(records []model.ChatRecord, found, topN int, filterIdentifiers []string) []string {
	if found >= topN || len(records) == 0 {
		return nil
	}

	excluded := make(map[string]bool, len(filterIdentifiers))
	for _, id := range filterIdentifiers {
		excluded[id] = true
	}

	var texts []string
	seen := make(map[string]bool)
	// Newest turns first; their grounding is most likely still relevant.
	for i := len(records) - 1; i >= 0 && found+len(texts) < topN; i-- {
		for _, source := range records[i].Response.Sources {
			if found+len(texts) >= topN {
				break
			}
			if source.Text == "" || seen[source.Text] {
				continue
			}
			if source.DocPath != "" && excluded[source.DocPath] {
				continue
			}
			seen[source.Text] = true
			texts = append(texts, source.Text)
		}
	}
	return texts
}
