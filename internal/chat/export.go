package chat

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

// ErrUnknownExportFormat indicates an unsupported export format name.
var ErrUnknownExportFormat = errors.New("unknown export format")

// Export formats.
const (
	ExportJSON   = "json"
	ExportCSV    = "csv"
	ExportJSONL  = "jsonl"
	ExportAlpaca = "alpaca"
)

type exportRow struct {
	ID            int64          `json:"id"`
	Prompt        string         `json:"prompt"`
	Response      string         `json:"response"`
	Sources       []model.Source `json:"sources"`
	FeedbackScore *bool          `json:"feedbackScore"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type jsonlMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonlRow struct {
	Messages []jsonlMessage `json:"messages"`
}

type alpacaRow struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// ExportChats renders a workspace's full chat history in the requested
// format. Returns the payload and its content type. jsonl and alpaca are
// fine-tuning shapes; json and csv are for inspection.
func (o *Orchestrator) ExportChats(ctx context.Context, ws *model.Workspace, format string) ([]byte, string, error) {
	chats, err := o.store.ListChats(ctx, ws.ID)
	if err != nil {
		return nil, "", err
	}

	switch format {
	case ExportJSON:
		rows := make([]exportRow, len(chats))
		for i, chat := range chats {
			rows[i] = exportRow{
				ID:            chat.ID,
				Prompt:        chat.Prompt,
				Response:      chat.Response.Text,
				Sources:       chat.Response.Sources,
				FeedbackScore: chat.FeedbackScore,
				CreatedAt:     chat.CreatedAt,
			}
		}
		raw, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encoding export: %w", err)
		}
		return raw, "application/json", nil

	case ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "prompt", "response", "feedback", "created_at"})
		for _, chat := range chats {
			feedback := ""
			if chat.FeedbackScore != nil {
				feedback = strconv.FormatBool(*chat.FeedbackScore)
			}
			_ = w.Write([]string{
				strconv.FormatInt(chat.ID, 10),
				chat.Prompt,
				chat.Response.Text,
				feedback,
				chat.CreatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("encoding export: %w", err)
		}
		return buf.Bytes(), "text/csv", nil

	case ExportJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, chat := range chats {
			row := jsonlRow{Messages: []jsonlMessage{
				{Role: "user", Content: chat.Prompt},
				{Role: "assistant", Content: chat.Response.Text},
			}}
			if err := enc.Encode(row); err != nil {
				return nil, "", fmt.Errorf("encoding export: %w", err)
			}
		}
		return buf.Bytes(), "application/jsonl", nil

	case ExportAlpaca:
		rows := make([]alpacaRow, len(chats))
		for i, chat := range chats {
			rows[i] = alpacaRow{
				Instruction: chat.Prompt,
				Output:      chat.Response.Text,
			}
		}
		raw, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encoding export: %w", err)
		}
		return raw, "application/json", nil

	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownExportFormat, format)
	}
}
