package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/chatd/internal/config"
)

// QdrantStore is the external backend over qdrant's gRPC API. One qdrant
// collection per namespace.
type QdrantStore struct {
	client     *qdrant.Client
	vectorSize int
	logger     *zap.Logger
}

func NewQdrantStore(cfg config.VectorDBConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QdrantHost == "" {
		return nil, fmt.Errorf("%w: qdrant host is required", ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		UseTLS: cfg.QdrantTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:     client,
		vectorSize: cfg.VectorSize,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	logger.Info("qdrant vector store initialized",
		zap.String("host", cfg.QdrantHost), zap.Int("port", cfg.QdrantPort))
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

func (s *QdrantStore) HasNamespace(ctx context.Context, namespace string) (bool, error) {
	_, err := s.client.GetCollectionInfo(ctx, namespace)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking namespace %s: %w", namespace, err)
	}
	return true, nil
}

func (s *QdrantStore) NamespaceCount(ctx context.Context, namespace string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, namespace)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting namespace %s: %w", namespace, err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

func (s *QdrantStore) ensureNamespace(ctx context.Context, namespace string) error {
	exists, err := s.HasNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", namespace, err)
	}
	return nil
}

func (s *QdrantStore) AddChunks(ctx context.Context, namespace string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "qdrant.AddChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureNamespace(ctx, namespace); err != nil {
		span.RecordError(err)
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := make(map[string]*qdrant.Value, len(chunk.Metadata)+1)
		for k, v := range chunk.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		payload["text"] = qdrant.NewValueString(chunk.Text)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: payload,
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("upserting chunks to %s: %w", namespace, err)
	}

	s.logger.Debug("added chunks to qdrant",
		zap.String("namespace", namespace), zap.Int("count", len(chunks)))
	return nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, namespace, docID string) error {
	ctx, span := tracer.Start(ctx, "qdrant.DeleteDocument")
	defer span.End()

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(metaDocID, docID),
					},
				},
			},
		},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("deleting document %s from %s: %w", docID, namespace, err)
	}
	return nil
}

func (s *QdrantStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, span := tracer.Start(ctx, "qdrant.DeleteNamespace")
	defer span.End()

	if err := s.client.DeleteCollection(ctx, namespace); err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	s.logger.Info("deleted vector namespace", zap.String("namespace", namespace))
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", req.Namespace),
		attribute.Int("top_n", req.TopN),
	)

	exists, err := s.HasNamespace(ctx, req.Namespace)
	if err != nil {
		return SearchResponse{}, err
	}
	if !exists {
		return SearchResponse{Message: "no namespace for workspace"}, nil
	}

	query := &qdrant.QueryPoints{
		CollectionName: req.Namespace,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          qdrant.PtrOf(uint64(req.TopN)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.ScoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(req.ScoreThreshold)
	}
	if len(req.FilterIdentifiers) > 0 {
		query.Filter = &qdrant.Filter{
			MustNot: []*qdrant.Condition{
				qdrant.NewMatchKeywords(metaDocPath, req.FilterIdentifiers...),
			},
		}
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return SearchResponse{}, fmt.Errorf("querying %s: %w", req.Namespace, err)
	}

	var resp SearchResponse
	for _, point := range results {
		metadata := make(map[string]string, len(point.Payload))
		text := ""
		for k, v := range point.Payload {
			sv := v.GetStringValue()
			if k == "text" {
				text = sv
				continue
			}
			metadata[k] = sv
		}
		resp.ContextTexts = append(resp.ContextTexts, text)
		resp.Sources = append(resp.Sources, sourceFromChunk(text, metadata, point.Score))
	}
	span.SetAttributes(attribute.Int("result_count", len(resp.ContextTexts)))
	return resp, nil
}
