package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL,
	slug                 TEXT NOT NULL UNIQUE,
	chat_mode            TEXT NOT NULL DEFAULT 'chat',
	similarity_threshold TEXT NOT NULL DEFAULT 'low',
	top_n                INTEGER NOT NULL DEFAULT 0,
	history_length       INTEGER NOT NULL DEFAULT 0,
	prompt_template      TEXT NOT NULL DEFAULT '',
	query_refusal        TEXT NOT NULL DEFAULT '',
	chat_provider        TEXT NOT NULL DEFAULT '',
	chat_model           TEXT NOT NULL DEFAULT '',
	temperature          REAL NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workspace_threads (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	slug         TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	user_id      TEXT,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(workspace_id, slug)
);

CREATE TABLE IF NOT EXISTS workspace_documents (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id       TEXT NOT NULL,
	workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL DEFAULT '',
	docpath      TEXT NOT NULL DEFAULT '',
	pinned       INTEGER NOT NULL DEFAULT 0,
	pinned_at    TIMESTAMP,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(workspace_id, doc_id)
);

CREATE TABLE IF NOT EXISTS workspace_chats (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id   INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	thread_id      INTEGER REFERENCES workspace_threads(id) ON DELETE CASCADE,
	user_id        TEXT,
	prompt         TEXT NOT NULL,
	response       TEXT NOT NULL,
	feedback_score INTEGER,
	include        INTEGER NOT NULL DEFAULT 1,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chats_workspace ON workspace_chats(workspace_id, thread_id, include);
CREATE INDEX IF NOT EXISTS idx_documents_workspace ON workspace_documents(workspace_id, pinned);
`

// SQLite implements Store over a single SQLite file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database and applies the
// schema. WAL mode keeps concurrent readers off the writer's back.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// --- workspaces ---

func (s *SQLite) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	if ws.ChatMode == "" {
		ws.ChatMode = model.ChatModeChat
	}
	if ws.SimilarityThreshold == "" {
		ws.SimilarityThreshold = model.SimilarityLow
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (name, slug, chat_mode, similarity_threshold, top_n,
			history_length, prompt_template, query_refusal, chat_provider, chat_model,
			temperature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.Name, ws.Slug, string(ws.ChatMode), ws.SimilarityThreshold, ws.TopN,
		ws.HistoryLength, ws.PromptTemplate, ws.QueryRefusal, ws.ChatProvider,
		ws.ChatModel, ws.Temperature, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSlug, ws.Slug)
		}
		return fmt.Errorf("creating workspace: %w", err)
	}
	ws.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading workspace id: %w", err)
	}
	ws.CreatedAt = now
	return nil
}

func scanWorkspace(row interface{ Scan(...any) error }) (*model.Workspace, error) {
	var ws model.Workspace
	var mode string
	err := row.Scan(&ws.ID, &ws.Name, &ws.Slug, &mode, &ws.SimilarityThreshold,
		&ws.TopN, &ws.HistoryLength, &ws.PromptTemplate, &ws.QueryRefusal,
		&ws.ChatProvider, &ws.ChatModel, &ws.Temperature, &ws.CreatedAt)
	if err != nil {
		return nil, err
	}
	ws.ChatMode = model.ChatMode(mode)
	return &ws, nil
}

const workspaceColumns = `id, name, slug, chat_mode, similarity_threshold, top_n,
	history_length, prompt_template, query_refusal, chat_provider, chat_model,
	temperature, created_at`

func (s *SQLite) GetWorkspaceBySlug(ctx context.Context, slug string) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE slug = ?`, slug)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workspace %s", ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("getting workspace: %w", err)
	}
	return ws, nil
}

func (s *SQLite) UpdateWorkspace(ctx context.Context, ws *model.Workspace) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name = ?, chat_mode = ?, similarity_threshold = ?,
			top_n = ?, history_length = ?, prompt_template = ?, query_refusal = ?,
			chat_provider = ?, chat_model = ?, temperature = ?
		WHERE id = ?`,
		ws.Name, string(ws.ChatMode), ws.SimilarityThreshold, ws.TopN,
		ws.HistoryLength, ws.PromptTemplate, ws.QueryRefusal, ws.ChatProvider,
		ws.ChatModel, ws.Temperature, ws.ID)
	if err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: workspace %d", ErrNotFound, ws.ID)
	}
	return nil
}

func (s *SQLite) DeleteWorkspace(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return nil
}

func (s *SQLite) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

// --- threads ---

func (s *SQLite) CreateThread(ctx context.Context, thread *model.Thread) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_threads (workspace_id, slug, name, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		thread.WorkspaceID, thread.Slug, thread.Name, thread.UserID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSlug, thread.Slug)
		}
		return fmt.Errorf("creating thread: %w", err)
	}
	thread.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading thread id: %w", err)
	}
	thread.CreatedAt = now
	return nil
}

func (s *SQLite) GetThreadBySlug(ctx context.Context, workspaceID int64, slug string) (*model.Thread, error) {
	var t model.Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, slug, name, user_id, created_at
		FROM workspace_threads WHERE workspace_id = ? AND slug = ?`,
		workspaceID, slug).
		Scan(&t.ID, &t.WorkspaceID, &t.Slug, &t.Name, &t.UserID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread: %w", err)
	}
	return &t, nil
}

func (s *SQLite) DeleteThread(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspace_threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteThreadsByWorkspace(ctx context.Context, workspaceID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_threads WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("deleting threads: %w", err)
	}
	return nil
}

// --- documents ---

func (s *SQLite) CreateDocument(ctx context.Context, doc *model.Document) error {
	metadata := "{}"
	if doc.Metadata != nil {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("encoding document metadata: %w", err)
		}
		metadata = string(raw)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_documents (doc_id, workspace_id, filename, docpath,
			pinned, pinned_at, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID, doc.WorkspaceID, doc.Filename, doc.DocPath,
		doc.Pinned, doc.PinnedAt, metadata, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: document %s", ErrDuplicateSlug, doc.DocID)
		}
		return fmt.Errorf("creating document: %w", err)
	}
	doc.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading document id: %w", err)
	}
	doc.CreatedAt = now
	return nil
}

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var doc model.Document
	var metadata string
	err := row.Scan(&doc.ID, &doc.DocID, &doc.WorkspaceID, &doc.Filename,
		&doc.DocPath, &doc.Pinned, &doc.PinnedAt, &metadata, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding document metadata: %w", err)
		}
	}
	return &doc, nil
}

const documentColumns = `id, doc_id, workspace_id, filename, docpath, pinned, pinned_at, metadata, created_at`

func (s *SQLite) GetDocumentByDocID(ctx context.Context, workspaceID int64, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM workspace_documents WHERE workspace_id = ? AND doc_id = ?`,
		workspaceID, docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *SQLite) GetDocumentByDocPath(ctx context.Context, workspaceID int64, docPath string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM workspace_documents WHERE workspace_id = ? AND docpath = ?`,
		workspaceID, docPath)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, docPath)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *SQLite) listDocuments(ctx context.Context, query string, args ...any) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (s *SQLite) ListDocuments(ctx context.Context, workspaceID int64) ([]model.Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM workspace_documents WHERE workspace_id = ? ORDER BY id`,
		workspaceID)
}

func (s *SQLite) ListPinnedDocuments(ctx context.Context, workspaceID int64) ([]model.Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM workspace_documents
		 WHERE workspace_id = ? AND pinned = 1
		 ORDER BY pinned_at, id`,
		workspaceID)
}

func (s *SQLite) SetDocumentPinned(ctx context.Context, workspaceID int64, docPath string, pinned bool) error {
	var pinnedAt any
	if pinned {
		pinnedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_documents SET pinned = ?, pinned_at = ?
		WHERE workspace_id = ? AND docpath = ?`,
		pinned, pinnedAt, workspaceID, docPath)
	if err != nil {
		return fmt.Errorf("updating pin state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, docPath)
	}
	return nil
}

func (s *SQLite) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspace_documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteDocumentsByWorkspace(ctx context.Context, workspaceID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_documents WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// --- chats ---

func (s *SQLite) CreateChat(ctx context.Context, chat *model.ChatRecord) error {
	response, err := chat.Response.MarshalResponse()
	if err != nil {
		return fmt.Errorf("encoding chat response: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_chats (workspace_id, thread_id, user_id, prompt,
			response, feedback_score, include, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.WorkspaceID, chat.ThreadID, chat.UserID, chat.Prompt,
		response, chat.FeedbackScore, chat.Include, now)
	if err != nil {
		return fmt.Errorf("creating chat: %w", err)
	}
	chat.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading chat id: %w", err)
	}
	chat.CreatedAt = now
	return nil
}

func scanChat(row interface{ Scan(...any) error }) (*model.ChatRecord, error) {
	var chat model.ChatRecord
	var response string
	err := row.Scan(&chat.ID, &chat.WorkspaceID, &chat.ThreadID, &chat.UserID,
		&chat.Prompt, &response, &chat.FeedbackScore, &chat.Include, &chat.CreatedAt)
	if err != nil {
		return nil, err
	}
	chat.Response, err = model.UnmarshalResponse(response)
	if err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	return &chat, nil
}

const chatColumns = `id, workspace_id, thread_id, user_id, prompt, response, feedback_score, include, created_at`

func (s *SQLite) RecentChats(ctx context.Context, workspaceID int64, threadID *int64, limit int) ([]model.ChatRecord, error) {
	query := `SELECT ` + chatColumns + ` FROM workspace_chats
		WHERE workspace_id = ? AND include = 1 AND thread_id IS NULL
		ORDER BY id DESC LIMIT ?`
	args := []any{workspaceID, limit}
	if threadID != nil {
		query = `SELECT ` + chatColumns + ` FROM workspace_chats
			WHERE workspace_id = ? AND include = 1 AND thread_id = ?
			ORDER BY id DESC LIMIT ?`
		args = []any{workspaceID, *threadID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing recent chats: %w", err)
	}
	defer rows.Close()

	var out []model.ChatRecord
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		out = append(out, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; history replays oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLite) ListChats(ctx context.Context, workspaceID int64) ([]model.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM workspace_chats WHERE workspace_id = ? ORDER BY id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var out []model.ChatRecord
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		out = append(out, *chat)
	}
	return out, rows.Err()
}

func (s *SQLite) GetChat(ctx context.Context, id int64) (*model.ChatRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM workspace_chats WHERE id = ?`, id)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return chat, nil
}

func (s *SQLite) SetChatFeedback(ctx context.Context, id int64, score *bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspace_chats SET feedback_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("updating feedback: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: chat %d", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) DeleteChat(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspace_chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteChatsByWorkspace(ctx context.Context, workspaceID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_chats WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("deleting chats: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteChatsByThread(ctx context.Context, threadID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_chats WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("deleting thread chats: %w", err)
	}
	return nil
}

var _ Store = (*SQLite)(nil)
