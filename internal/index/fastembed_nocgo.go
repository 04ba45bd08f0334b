//go:build !cgo

package index

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO; the ONNX runtime needs it.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support)")

// FastEmbedder is a stub for non-CGO builds. Use the hash embedder instead.
type FastEmbedder struct{}

func NewFastEmbedder(cacheDir string) (*FastEmbedder, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) Dimension() int { return 0 }

func (e *FastEmbedder) Close() error { return nil }
