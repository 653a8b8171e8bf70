//go:build !cgo

package embedder

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO. Use the openai backend against a TEI server instead.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (built without CGO)")

// FastEmbed is the stub for non-CGO builds.
type FastEmbed struct{}

func NewFastEmbed(_ string, _ *zap.Logger) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbed) EmbedTextInput(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbed) EmbedChunks(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbed) Close() error { return nil }
