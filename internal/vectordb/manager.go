package vectordb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/embedder"
	"github.com/fyrsmithlabs/chatd/internal/model"
)

// Manager runs the document vectorization pipeline above a Store: split,
// embed (or reuse cached vectors), write. It is the only path by which
// document content reaches a vector backend.
type Manager struct {
	store  Store
	emb    embedder.Embedder
	cache  *VectorCache
	logger *zap.Logger
}

func NewManager(store Store, emb embedder.Embedder, cache *VectorCache, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, emb: emb, cache: cache, logger: logger}, nil
}

// Store exposes the underlying backend for callers that only need
// existence and count checks.
func (m *Manager) Store() Store { return m.store }

// HasNamespace reports whether the workspace has any vectors.
func (m *Manager) HasNamespace(ctx context.Context, namespace string) (bool, error) {
	return m.store.HasNamespace(ctx, namespace)
}

// NamespaceCount returns the workspace vector count.
func (m *Manager) NamespaceCount(ctx context.Context, namespace string) (int, error) {
	return m.store.NamespaceCount(ctx, namespace)
}

// AddDocumentToNamespace vectorizes one document into a workspace
// namespace. Returns false with no error for content that produces no
// chunks; returns false with the cause when splitting, embedding or
// storage fails.
//
// Cached vectors keyed by the document's origin path are reused so the
// same file added to a second workspace skips the embedding cost. Chunk
// IDs are always freshly generated per namespace.
func (m *Manager) AddDocumentToNamespace(ctx context.Context, namespace string, doc *model.Document, pageContent string) (bool, error) {
	ctx, span := tracer.Start(ctx, "manager.AddDocumentToNamespace")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("doc_id", doc.DocID),
	)

	if pageContent == "" {
		m.logger.Warn("document has no content, skipping vectorization",
			zap.String("doc_id", doc.DocID), zap.String("filename", doc.Filename))
		return false, nil
	}

	chunks, ok := m.cachedChunks(doc)
	if !ok {
		texts, err := splitText(pageContent)
		if err != nil {
			span.RecordError(err)
			return false, err
		}
		if len(texts) == 0 {
			return false, nil
		}

		vectors, err := m.emb.EmbedChunks(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return false, fmt.Errorf("embedding document %s: %w", doc.DocID, err)
		}
		if len(vectors) != len(texts) {
			return false, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}

		chunks = make([]Chunk, len(texts))
		for i, text := range texts {
			chunks[i] = Chunk{
				Vector: vectors[i],
				Text:   text,
				Metadata: map[string]string{
					metaTitle:   doc.Filename,
					metaDocPath: doc.DocPath,
				},
			}
		}
		if m.cache != nil && doc.DocPath != "" {
			m.cache.Put(doc.DocPath, chunks)
		}
	}

	// Fresh IDs and the target doc ID per namespace, cached or not.
	for i := range chunks {
		chunks[i].ID = uuid.New().String()
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]string{}
		}
		chunks[i].Metadata[metaDocID] = doc.DocID
	}

	if err := m.store.AddChunks(ctx, namespace, chunks); err != nil {
		span.RecordError(err)
		return false, err
	}

	m.logger.Info("vectorized document",
		zap.String("namespace", namespace),
		zap.String("doc_id", doc.DocID),
		zap.Int("chunks", len(chunks)),
		zap.Bool("from_cache", ok))
	return true, nil
}

func (m *Manager) cachedChunks(doc *model.Document) ([]Chunk, bool) {
	if m.cache == nil || doc.DocPath == "" {
		return nil, false
	}
	return m.cache.Get(doc.DocPath)
}

// DeleteDocumentFromNamespace removes a document's vectors. Missing
// namespaces and unknown documents are not errors.
func (m *Manager) DeleteDocumentFromNamespace(ctx context.Context, namespace, docID string) error {
	return m.store.DeleteDocument(ctx, namespace, docID)
}

// DeleteNamespace removes every vector of a workspace. Idempotent.
func (m *Manager) DeleteNamespace(ctx context.Context, namespace string) error {
	return m.store.DeleteNamespace(ctx, namespace)
}

// PerformSimilaritySearch embeds the query and searches the namespace.
// An empty namespace short-circuits to an empty response.
func (m *Manager) PerformSimilaritySearch(ctx context.Context, req SimilaritySearchRequest) (SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "manager.PerformSimilaritySearch")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", req.Namespace),
		attribute.Int("top_n", req.TopN),
	)

	count, err := m.store.NamespaceCount(ctx, req.Namespace)
	if err != nil {
		return SearchResponse{}, err
	}
	if count == 0 {
		return SearchResponse{Message: fmt.Sprintf("no embedded documents in namespace %s", req.Namespace)}, nil
	}

	vector, err := m.emb.EmbedTextInput(ctx, req.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return SearchResponse{}, fmt.Errorf("embedding query: %w", err)
	}

	return m.store.Search(ctx, SearchRequest{
		Namespace:         req.Namespace,
		Vector:            vector,
		TopN:              req.TopN,
		ScoreThreshold:    req.ScoreThreshold,
		FilterIdentifiers: req.FilterIdentifiers,
	})
}

// SimilaritySearchRequest parameterizes a text-level similarity search.
type SimilaritySearchRequest struct {
	Namespace         string
	Input             string
	TopN              int
	ScoreThreshold    float32
	FilterIdentifiers []string
}
