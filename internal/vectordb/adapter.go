// Package vectordb provides the vector storage backends and the document
// vectorization pipeline above them. Two backends: chromem (embedded,
// zero external services) and qdrant (external gRPC).
package vectordb

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/model"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/chatd/internal/vectordb")

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid vector store configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Chunk is one embedded slice of a document as stored in a backend.
type Chunk struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Metadata keys every chunk carries.
const (
	metaDocID   = "docId"
	metaDocPath = "docpath"
	metaTitle   = "title"
)

// SearchRequest parameterizes a similarity search against one namespace.
type SearchRequest struct {
	Namespace      string
	Vector         []float32
	TopN           int
	ScoreThreshold float32

	// FilterIdentifiers excludes chunks whose docpath matches. Pinned
	// documents already ride the prompt in full, so their vectors must
	// not reenter as search results.
	FilterIdentifiers []string
}

// SearchResponse is a similarity search result set. ContextTexts and
// Sources are parallel and ordered by descending score.
type SearchResponse struct {
	ContextTexts []string
	Sources      []model.Source

	// Message carries a human-readable note when the result set is empty
	// for a reason worth surfacing.
	Message string
}

// Store is the backend contract. Namespaces map to backend collections;
// chunks arrive pre-embedded so backends never call an embedder.
type Store interface {
	// HasNamespace reports namespace existence. Never errors on absence.
	HasNamespace(ctx context.Context, namespace string) (bool, error)

	// NamespaceCount returns the stored vector count, 0 for a missing
	// namespace.
	NamespaceCount(ctx context.Context, namespace string) (int, error)

	// AddChunks stores embedded chunks, creating the namespace on first
	// write.
	AddChunks(ctx context.Context, namespace string, chunks []Chunk) error

	// DeleteDocument removes every chunk carrying the given doc ID.
	// Missing namespaces and unknown doc IDs are not errors.
	DeleteDocument(ctx context.Context, namespace, docID string) error

	// DeleteNamespace removes the namespace and all its vectors.
	// Idempotent: deleting a missing namespace is not an error.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Search runs a similarity query. A missing namespace returns an
	// empty response, not an error.
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
}

// NewStore builds the configured backend.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.VectorDB.Backend {
	case "chromem":
		return NewChromemStore(cfg.ChromemPath(), logger)
	case "qdrant":
		return NewQdrantStore(cfg.VectorDB, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.VectorDB.Backend)
	}
}

// sourceFromChunk builds a citation from stored chunk metadata.
func sourceFromChunk(text string, metadata map[string]string, score float32) model.Source {
	return model.Source{
		Title:   metadata[metaTitle],
		DocID:   metadata[metaDocID],
		DocPath: metadata[metaDocPath],
		Text:    text,
		Score:   score,
	}
}

// excluded reports whether a chunk's docpath is in the filter list.
func excluded(metadata map[string]string, filterIdentifiers []string) bool {
	docPath := metadata[metaDocPath]
	for _, id := range filterIdentifiers {
		if id == docPath {
			return true
		}
	}
	return false
}
