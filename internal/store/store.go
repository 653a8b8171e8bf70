// Package store persists workspaces, threads, documents and chat history
// in SQLite.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

// Sentinel errors for persistence operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSlug indicates a slug collision on create.
	ErrDuplicateSlug = errors.New("slug already exists")
)

// WorkspaceStore persists workspaces.
type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws *model.Workspace) error
	GetWorkspaceBySlug(ctx context.Context, slug string) (*model.Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *model.Workspace) error
	DeleteWorkspace(ctx context.Context, id int64) error
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)
}

// ThreadStore persists conversation threads.
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThreadBySlug(ctx context.Context, workspaceID int64, slug string) (*model.Thread, error)
	DeleteThread(ctx context.Context, id int64) error
	DeleteThreadsByWorkspace(ctx context.Context, workspaceID int64) error
}

// DocumentStore persists document registrations. Vector content lives in
// the vector store; these rows carry identity, origin and pin state.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocumentByDocID(ctx context.Context, workspaceID int64, docID string) (*model.Document, error)
	GetDocumentByDocPath(ctx context.Context, workspaceID int64, docPath string) (*model.Document, error)
	ListDocuments(ctx context.Context, workspaceID int64) ([]model.Document, error)
	// ListPinnedDocuments returns pinned documents ordered by pin time
	// ascending, then creation order.
	ListPinnedDocuments(ctx context.Context, workspaceID int64) ([]model.Document, error)
	SetDocumentPinned(ctx context.Context, workspaceID int64, docPath string, pinned bool) error
	DeleteDocument(ctx context.Context, id int64) error
	DeleteDocumentsByWorkspace(ctx context.Context, workspaceID int64) error
}

// ChatStore persists chat turns.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *model.ChatRecord) error
	// RecentChats returns the newest includable turns for history replay,
	// oldest first. threadID nil selects the workspace's threadless
	// strand, not all threads.
	RecentChats(ctx context.Context, workspaceID int64, threadID *int64, limit int) ([]model.ChatRecord, error)
	// ListChats returns every turn of a workspace oldest first,
	// regardless of include state. Used for export and display.
	ListChats(ctx context.Context, workspaceID int64) ([]model.ChatRecord, error)
	GetChat(ctx context.Context, id int64) (*model.ChatRecord, error)
	SetChatFeedback(ctx context.Context, id int64, score *bool) error
	DeleteChat(ctx context.Context, id int64) error
	DeleteChatsByWorkspace(ctx context.Context, workspaceID int64) error
	DeleteChatsByThread(ctx context.Context, threadID int64) error
}

// Store aggregates all persistence concerns behind one handle.
type Store interface {
	WorkspaceStore
	ThreadStore
	DocumentStore
	ChatStore
	Close() error
}
