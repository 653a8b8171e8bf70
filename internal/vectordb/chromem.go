package vectordb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChromemStore is the embedded backend. Vectors persist to gob files
// under the configured path; no external service is needed.
//
// Every chunk arrives pre-embedded, so the embedding function chromem
// requires for its collections is a stub that always errors.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger
}

func NewChromemStore(path string, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector store dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem vector store initialized", zap.String("path", path))
	return &ChromemStore{db: db, logger: logger}, nil
}

// embeddingStub satisfies chromem's collection contract. It must never
// run; all writes and queries supply vectors explicitly.
func embeddingStub(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("vectors must be precomputed")
}

func (s *ChromemStore) HasNamespace(ctx context.Context, namespace string) (bool, error) {
	return s.db.GetCollection(namespace, embeddingStub) != nil, nil
}

func (s *ChromemStore) NamespaceCount(ctx context.Context, namespace string) (int, error) {
	collection := s.db.GetCollection(namespace, embeddingStub)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

func (s *ChromemStore) AddChunks(ctx context.Context, namespace string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "chromem.AddChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil
	}

	collection, err := s.db.GetOrCreateCollection(namespace, nil, embeddingStub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collection create failed")
		return fmt.Errorf("creating collection %s: %w", namespace, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  chunk.Metadata,
			Embedding: chunk.Vector,
		}
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add failed")
		return fmt.Errorf("adding chunks to %s: %w", namespace, err)
	}

	s.logger.Debug("added chunks to chromem",
		zap.String("namespace", namespace), zap.Int("count", len(chunks)))
	return nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, namespace, docID string) error {
	ctx, span := tracer.Start(ctx, "chromem.DeleteDocument")
	defer span.End()

	collection := s.db.GetCollection(namespace, embeddingStub)
	if collection == nil {
		return nil
	}
	if err := collection.Delete(ctx, map[string]string{metaDocID: docID}, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting document %s from %s: %w", docID, namespace, err)
	}
	return nil
}

func (s *ChromemStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, span := tracer.Start(ctx, "chromem.DeleteNamespace")
	defer span.End()

	if s.db.GetCollection(namespace, embeddingStub) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(namespace); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	s.logger.Info("deleted vector namespace", zap.String("namespace", namespace))
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "chromem.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", req.Namespace),
		attribute.Int("top_n", req.TopN),
	)

	collection := s.db.GetCollection(req.Namespace, embeddingStub)
	if collection == nil {
		return SearchResponse{Message: "no namespace for workspace"}, nil
	}
	count := collection.Count()
	if count == 0 {
		return SearchResponse{}, nil
	}

	// Over-fetch so post-filtering pinned documents still leaves topN
	// candidates. chromem caps nResults at the collection size.
	n := req.TopN + len(req.FilterIdentifiers)*4
	if n > count {
		n = count
	}

	results, err := collection.QueryEmbedding(ctx, req.Vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return SearchResponse{}, fmt.Errorf("querying %s: %w", req.Namespace, err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	var resp SearchResponse
	for _, r := range results {
		if len(resp.ContextTexts) >= req.TopN {
			break
		}
		if r.Similarity < req.ScoreThreshold {
			continue
		}
		if excluded(r.Metadata, req.FilterIdentifiers) {
			continue
		}
		resp.ContextTexts = append(resp.ContextTexts, r.Content)
		resp.Sources = append(resp.Sources, sourceFromChunk(r.Content, r.Metadata, r.Similarity))
	}
	span.SetAttributes(attribute.Int("result_count", len(resp.ContextTexts)))
	return resp, nil
}
