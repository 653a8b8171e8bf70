package vectordb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// VectorCache stores the embedded chunks of a document keyed by its
// origin path. Re-adding the same document to another workspace reuses
// the cached vectors instead of paying the embedding cost again. Chunk
// IDs are regenerated on reuse; only vectors, text and metadata persist.
type VectorCache struct {
	dir    string
	logger *zap.Logger
}

func NewVectorCache(dir string, logger *zap.Logger) (*VectorCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector cache dir: %w", err)
	}
	return &VectorCache{dir: dir, logger: logger}, nil
}

type cacheEntry struct {
	DocPath string  `json:"docPath"`
	Chunks  []Chunk `json:"chunks"`
}

func (c *VectorCache) path(docPath string) string {
	sum := sha256.Sum256([]byte(docPath))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached chunks for a document path, or (nil, false) on a
// miss. Corrupt cache files count as misses and are removed.
func (c *VectorCache) Get(docPath string) ([]Chunk, bool) {
	raw, err := os.ReadFile(c.path(docPath))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("removing corrupt vector cache entry",
			zap.String("doc_path", docPath), zap.Error(err))
		_ = os.Remove(c.path(docPath))
		return nil, false
	}
	return entry.Chunks, true
}

// Put stores the embedded chunks for a document path. Cache write
// failures are logged, not fatal; the cache is an optimization.
func (c *VectorCache) Put(docPath string, chunks []Chunk) {
	raw, err := json.Marshal(cacheEntry{DocPath: docPath, Chunks: chunks})
	if err != nil {
		c.logger.Warn("encoding vector cache entry failed",
			zap.String("doc_path", docPath), zap.Error(err))
		return
	}
	if err := os.WriteFile(c.path(docPath), raw, 0o644); err != nil {
		c.logger.Warn("writing vector cache entry failed",
			zap.String("doc_path", docPath), zap.Error(err))
	}
}

// Remove drops the cache entry for a document path.
func (c *VectorCache) Remove(docPath string) {
	_ = os.Remove(c.path(docPath))
}
