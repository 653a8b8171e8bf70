package documents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/llm"
	"github.com/fyrsmithlabs/chatd/internal/model"
	"github.com/fyrsmithlabs/chatd/internal/store"
	"github.com/fyrsmithlabs/chatd/internal/vectordb"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/chatd/internal/documents")

// pinnedWindowShare caps how much of the model's prompt window pinned
// content may consume. The remainder stays free for history, retrieval
// and the user prompt.
const pinnedWindowShare = 0.8

// AddResult reports the outcome of one document ingestion batch.
type AddResult struct {
	Added  []model.Document
	Failed []string
}

// PinnedContext is pinned document content prepared for prompt assembly.
// Identifiers feed the similarity search exclusion filter so pinned
// vectors never double as search results.
type PinnedContext struct {
	Texts       []string
	Sources     []model.Source
	Identifiers []string
}

// Manager owns document lifecycle for workspaces: registration,
// vectorization, pinning and removal.
type Manager struct {
	docs    store.DocumentStore
	vectors *vectordb.Manager
	loader  *Loader
	counter *llm.TokenCounter
	logger  *zap.Logger
}

func NewManager(docs store.DocumentStore, vectors *vectordb.Manager, loader *Loader, counter *llm.TokenCounter, logger *zap.Logger) (*Manager, error) {
	if docs == nil || vectors == nil || loader == nil || counter == nil {
		return nil, fmt.Errorf("documents: all dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{docs: docs, vectors: vectors, loader: loader, counter: counter, logger: logger}, nil
}

// AddDocuments ingests document files into a workspace: loads each file,
// vectorizes its content into the workspace namespace and registers the
// row. Failures are collected per path; one bad file never aborts the
// batch.
func (m *Manager) AddDocuments(ctx context.Context, ws *model.Workspace, docPaths []string) (AddResult, error) {
	ctx, span := tracer.Start(ctx, "documents.AddDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("workspace", ws.Slug),
		attribute.Int("doc_count", len(docPaths)),
	)

	var result AddResult
	for _, docPath := range docPaths {
		file, err := m.loader.Load(docPath)
		if err != nil {
			m.logger.Error("loading document failed",
				zap.String("doc_path", docPath), zap.Error(err))
			result.Failed = append(result.Failed, docPath)
			continue
		}

		doc := model.Document{
			DocID:       uuid.New().String(),
			WorkspaceID: ws.ID,
			Filename:    file.Title,
			DocPath:     docPath,
			Metadata:    file.Metadata(),
		}

		ok, err := m.vectors.AddDocumentToNamespace(ctx, ws.Slug, &doc, file.PageContent)
		if err != nil {
			m.logger.Error("vectorizing document failed",
				zap.String("doc_path", docPath), zap.Error(err))
			result.Failed = append(result.Failed, docPath)
			continue
		}
		if !ok {
			m.logger.Warn("document produced no vectors, skipping",
				zap.String("doc_path", docPath))
			result.Failed = append(result.Failed, docPath)
			continue
		}

		if err := m.docs.CreateDocument(ctx, &doc); err != nil {
			// Roll the vectors back so storage and registry agree.
			_ = m.vectors.DeleteDocumentFromNamespace(ctx, ws.Slug, doc.DocID)
			m.logger.Error("registering document failed",
				zap.String("doc_path", docPath), zap.Error(err))
			result.Failed = append(result.Failed, docPath)
			continue
		}
		result.Added = append(result.Added, doc)
	}
	return result, nil
}

// RemoveDocument deletes a document's registration and vectors.
func (m *Manager) RemoveDocument(ctx context.Context, ws *model.Workspace, docPath string) error {
	ctx, span := tracer.Start(ctx, "documents.RemoveDocument")
	defer span.End()

	doc, err := m.docs.GetDocumentByDocPath(ctx, ws.ID, docPath)
	if err != nil {
		return err
	}
	if err := m.vectors.DeleteDocumentFromNamespace(ctx, ws.Slug, doc.DocID); err != nil {
		return err
	}
	return m.docs.DeleteDocument(ctx, doc.ID)
}

// SetPinned toggles a document's pin state.
func (m *Manager) SetPinned(ctx context.Context, ws *model.Workspace, docPath string, pinned bool) error {
	return m.docs.SetDocumentPinned(ctx, ws.ID, docPath, pinned)
}

// PinnedDocs loads every pinned document's full content for prompt
// assembly, in pin order. A pin whose cost would push admitted content
// past 80% of the model's prompt window is skipped, so the assembled
// pinned set never exceeds the ceiling. A pinned file that no longer
// loads is skipped with a warning rather than failing the turn.
func (m *Manager) PinnedDocs(ctx context.Context, ws *model.Workspace, windowLimit int) (PinnedContext, error) {
	ctx, span := tracer.Start(ctx, "documents.PinnedDocs")
	defer span.End()

	pinned, err := m.docs.ListPinnedDocuments(ctx, ws.ID)
	if err != nil {
		return PinnedContext{}, err
	}
	if len(pinned) == 0 {
		return PinnedContext{}, nil
	}

	ceiling := int(float64(windowLimit) * pinnedWindowShare)
	used := 0

	var out PinnedContext
	for _, doc := range pinned {
		file, err := m.loader.Load(doc.DocPath)
		if err != nil {
			m.logger.Warn("pinned document no longer loads, skipping",
				zap.String("doc_path", doc.DocPath), zap.Error(err))
			continue
		}
		cost := m.counter.Count(file.PageContent)
		if used+cost > ceiling {
			m.logger.Warn("pinned document would exceed the window ceiling, skipping",
				zap.String("workspace", ws.Slug),
				zap.String("doc_path", doc.DocPath),
				zap.Int("cost", cost),
				zap.Int("ceiling", ceiling))
			continue
		}
		used += cost
		out.Texts = append(out.Texts, file.PageContent)
		out.Sources = append(out.Sources, model.Source{
			Title:   doc.Filename,
			DocID:   doc.DocID,
			DocPath: doc.DocPath,
		})
		out.Identifiers = append(out.Identifiers, doc.DocPath)
	}
	span.SetAttributes(
		attribute.Int("pinned_count", len(out.Texts)),
		attribute.Int("token_estimate", used),
	)
	return out, nil
}

// ListDocuments returns a workspace's registered documents.
func (m *Manager) ListDocuments(ctx context.Context, ws *model.Workspace) ([]model.Document, error) {
	return m.docs.ListDocuments(ctx, ws.ID)
}
