package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/model"
)

// countingEmbedder embeds with topic vectors and counts batch calls so
// cache reuse is observable.
type countingEmbedder struct {
	batchCalls int
}

func (e *countingEmbedder) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	return topicVector(input), nil
}

func (e *countingEmbedder) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	e.batchCalls++
	out := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		out[i] = topicVector(chunk)
	}
	return out, nil
}

func newTestManager(t *testing.T, cache *VectorCache) (*Manager, *countingEmbedder) {
	t.Helper()
	backend := newChromem(t)
	emb := &countingEmbedder{}
	m, err := NewManager(backend, emb, cache, zap.NewNop())
	require.NoError(t, err)
	return m, emb
}

func TestAddDocumentToNamespace(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-1", Filename: "alpine.json", DocPath: "docs/alpine.json"}
	ok, err := m.AddDocumentToNamespace(ctx, "ws", doc, "the alpine trail")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := m.NamespaceCount(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddDocumentToNamespaceEmptyContent(t *testing.T) {
	m, emb := newTestManager(t, nil)

	doc := &model.Document{DocID: "doc-1", Filename: "empty.json"}
	ok, err := m.AddDocumentToNamespace(context.Background(), "ws", doc, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, emb.batchCalls)
}

func TestAddDocumentReusesCachedVectors(t *testing.T) {
	cache, err := NewVectorCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	m, emb := newTestManager(t, cache)
	ctx := context.Background()

	first := &model.Document{DocID: "doc-1", Filename: "alpine.json", DocPath: "docs/alpine.json"}
	ok, err := m.AddDocumentToNamespace(ctx, "ws-one", first, "the alpine trail")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, emb.batchCalls)

	// Same origin path into a second workspace: vectors come from cache.
	second := &model.Document{DocID: "doc-2", Filename: "alpine.json", DocPath: "docs/alpine.json"}
	ok, err = m.AddDocumentToNamespace(ctx, "ws-two", second, "the alpine trail")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, emb.batchCalls)

	// Each namespace still searches under its own doc ID.
	resp, err := m.PerformSimilaritySearch(ctx, SimilaritySearchRequest{
		Namespace: "ws-two",
		Input:     "alpine",
		TopN:      4,
	})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "doc-2", resp.Sources[0].DocID)
}

func TestPerformSimilaritySearchEmptyNamespace(t *testing.T) {
	m, emb := newTestManager(t, nil)

	resp, err := m.PerformSimilaritySearch(context.Background(), SimilaritySearchRequest{
		Namespace: "empty",
		Input:     "alpine",
		TopN:      4,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ContextTexts)
	assert.NotEmpty(t, resp.Message)
	// The query is never embedded when there is nothing to search.
	assert.Zero(t, emb.batchCalls)
}

func TestPerformSimilaritySearchThreshold(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-1", Filename: "alpine.json", DocPath: "docs/alpine.json"}
	ok, err := m.AddDocumentToNamespace(ctx, "ws", doc, "the alpine trail")
	require.NoError(t, err)
	require.True(t, ok)

	resp, err := m.PerformSimilaritySearch(ctx, SimilaritySearchRequest{
		Namespace:      "ws",
		Input:          "badger burrows",
		TopN:           4,
		ScoreThreshold: 0.25,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ContextTexts)
}

func TestDeleteDocumentFromNamespace(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	doc := &model.Document{DocID: "doc-1", Filename: "alpine.json", DocPath: "docs/alpine.json"}
	ok, err := m.AddDocumentToNamespace(ctx, "ws", doc, "the alpine trail")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.DeleteDocumentFromNamespace(ctx, "ws", "doc-1"))

	count, err := m.NamespaceCount(ctx, "ws")
	require.NoError(t, err)
	assert.Zero(t, count)
}
