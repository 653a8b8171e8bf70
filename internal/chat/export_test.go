package chat

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

func seedExportChats(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()

	negative := false
	chats := []model.ChatRecord{
		{
			WorkspaceID: env.ws.ID,
			Prompt:      "what is chatd?",
			Response:    model.ChatResponse{Text: "a chat daemon", Type: model.ChatModeChat},
			Include:     true,
		},
		{
			WorkspaceID:   env.ws.ID,
			Prompt:        "and, what else?",
			Response:      model.ChatResponse{Text: "retrieval", Type: model.ChatModeQuery},
			FeedbackScore: &negative,
			Include:       true,
		},
	}
	for i := range chats {
		require.NoError(t, env.store.CreateChat(ctx, &chats[i]))
	}
}

func TestExportChatsJSON(t *testing.T) {
	env := newTestEnv(t)
	seedExportChats(t, env)

	payload, contentType, err := env.orch.ExportChats(context.Background(), env.ws, ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var rows []exportRow
	require.NoError(t, json.Unmarshal(payload, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "what is chatd?", rows[0].Prompt)
	assert.Equal(t, "a chat daemon", rows[0].Response)
	assert.Nil(t, rows[0].FeedbackScore)
	require.NotNil(t, rows[1].FeedbackScore)
	assert.False(t, *rows[1].FeedbackScore)
}

func TestExportChatsCSV(t *testing.T) {
	env := newTestEnv(t)
	seedExportChats(t, env)

	payload, contentType, err := env.orch.ExportChats(context.Background(), env.ws, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	rows, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "prompt", "response", "feedback", "created_at"}, rows[0])
	assert.Equal(t, "what is chatd?", rows[1][1])
	assert.Empty(t, rows[1][3])
	// The comma in the prompt survives quoting.
	assert.Equal(t, "and, what else?", rows[2][1])
	assert.Equal(t, "false", rows[2][3])
}

func TestExportChatsJSONL(t *testing.T) {
	env := newTestEnv(t)
	seedExportChats(t, env)

	payload, contentType, err := env.orch.ExportChats(context.Background(), env.ws, ExportJSONL)
	require.NoError(t, err)
	assert.Equal(t, "application/jsonl", contentType)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)

	var row jsonlRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	require.Len(t, row.Messages, 2)
	assert.Equal(t, "user", row.Messages[0].Role)
	assert.Equal(t, "what is chatd?", row.Messages[0].Content)
	assert.Equal(t, "assistant", row.Messages[1].Role)
	assert.Equal(t, "a chat daemon", row.Messages[1].Content)
}

func TestExportChatsAlpaca(t *testing.T) {
	env := newTestEnv(t)
	seedExportChats(t, env)

	payload, _, err := env.orch.ExportChats(context.Background(), env.ws, ExportAlpaca)
	require.NoError(t, err)

	var rows []alpacaRow
	require.NoError(t, json.Unmarshal(payload, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "what is chatd?", rows[0].Instruction)
	assert.Empty(t, rows[0].Input)
	assert.Equal(t, "a chat daemon", rows[0].Output)
}

func TestExportChatsUnknownFormat(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.orch.ExportChats(context.Background(), env.ws, "parquet")
	assert.ErrorIs(t, err, ErrUnknownExportFormat)
}
