//go:build cgo

package index

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder generates embeddings locally with ONNX models. No API key,
// no network calls after the first model download.
type FastEmbedder struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.RWMutex
}

// NewFastEmbedder initializes the bge-small-en-v1.5 model, downloading it
// into cacheDir on first use.
func NewFastEmbedder(cacheDir string) (*FastEmbedder, error) {
	showProgress := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembed.BGESmallENV15,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fastembed: %w", err)
	}
	return &FastEmbedder{model: model, dimension: 384}, nil
}

// EmbedDocuments embeds texts with the passage prefix BGE models expect.
func (e *FastEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	vectors, err := e.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *FastEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	vector, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vector, nil
}

// Dimension returns the model's output dimension.
func (e *FastEmbedder) Dimension() int {
	return e.dimension
}

// Close releases the ONNX session.
func (e *FastEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}
