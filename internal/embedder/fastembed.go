//go:build cgo

package embedder

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// FastEmbed embeds with a local ONNX model. The model weights load lazily
// behind a sync.Once on first use; process startup never blocks on a
// model download, and concurrent first callers share one initialization.
type FastEmbed struct {
	cacheDir string
	logger   *zap.Logger

	once    sync.Once
	model   *fastembed.FlagEmbedding
	initErr error
}

// NewFastEmbed builds the local embedder. Model files are cached under
// cacheDir across restarts.
func NewFastEmbed(cacheDir string, logger *zap.Logger) (*FastEmbed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FastEmbed{
		cacheDir: cacheDir,
		logger:   logger.With(zap.String("embedder", "fastembed")),
	}, nil
}

func (e *FastEmbed) handle() (*fastembed.FlagEmbedding, error) {
	e.once.Do(func() {
		showProgress := false
		e.logger.Info("loading local embedding model",
			zap.String("cache_dir", e.cacheDir))
		e.model, e.initErr = fastembed.NewFlagEmbedding(&fastembed.InitOptions{
			Model:                fastembed.BGESmallENV15,
			CacheDir:             e.cacheDir,
			MaxLength:            512,
			ShowDownloadProgress: &showProgress,
		})
		if e.initErr != nil {
			e.initErr = fmt.Errorf("initializing fastembed: %w", e.initErr)
		}
	})
	return e.model, e.initErr
}

// EmbedTextInput embeds a query string. The model adds the "query: "
// prefix BGE models expect.
func (e *FastEmbed) EmbedTextInput(ctx context.Context, input string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	model, err := e.handle()
	if err != nil {
		return nil, err
	}
	vec, err := model.QueryEmbed(input)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// EmbedChunks embeds a document batch with the "passage: " prefix.
func (e *FastEmbed) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return [][]float32{}, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	model, err := e.handle()
	if err != nil {
		return nil, err
	}
	vecs, err := model.PassageEmbed(chunks, 256)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	return vecs, nil
}

// Close releases the loaded model, if any.
func (e *FastEmbed) Close() error {
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}
