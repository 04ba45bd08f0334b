// Package index builds a searchable view of a target repository and serves
// retrieval queries for the intelligence and planning stages. The default
// backend is chromem-go, an embedded vector database that needs no external
// service; Qdrant is available for shared deployments.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patchsmith/internal/config"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Document is one indexed chunk of repository content.
type Document struct {
	ID        string
	Path      string
	Content   string
	StartLine int
	EndLine   int
}

// Result is a retrieval hit.
type Result struct {
	Document Document
	Score    float32
}

// Store persists and searches document chunks.
type Store interface {
	Add(ctx context.Context, docs []Document) error
	Query(ctx context.Context, text string, k int) ([]Result, error)
}

// Embedder turns text into vectors. Implemented by the fastembed provider
// and by test doubles.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Index ties a chunked repository to a Store and answers retrieval queries.
type Index struct {
	store     Store
	maxChunks int
	log       *logging.Logger
}

// New builds an Index over the given store.
func New(store Store, cfg config.IndexConfig, log *logging.Logger) *Index {
	if log == nil {
		log = logging.Nop()
	}
	maxChunks := cfg.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 8
	}
	return &Index{store: store, maxChunks: maxChunks, log: log}
}

// NewStore constructs the configured backend.
func NewStore(cfg config.IndexConfig, embedder Embedder, log *logging.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "chromem":
		return NewChromemStore(embedder, log)
	case "qdrant":
		return NewQdrantStore(cfg, embedder, log)
	default:
		return nil, run.FatalConfigf("unknown index backend %q", cfg.Backend)
	}
}

// BuildFromRepo chunks every indexable file under root and adds the chunks
// to the store.
func (ix *Index) BuildFromRepo(ctx context.Context, root string) (int, error) {
	docs, err := ChunkRepo(root)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk repository: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := ix.store.Add(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to index repository: %w", err)
	}
	return len(docs), nil
}

// Retrieve implements the engine's retriever contract: it searches the store
// with the issue's title and body and renders the hits as a single context
// block, best match first.
func (ix *Index) Retrieve(ctx context.Context, issue run.Issue) (string, error) {
	query := strings.TrimSpace(issue.Title + "\n" + issue.Body)
	if query == "" {
		return "", nil
	}
	results, err := ix.store.Query(ctx, query, ix.maxChunks)
	if err != nil {
		return "", run.Transient(err)
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "--- %s:%d-%d\n", r.Document.Path, r.Document.StartLine, r.Document.EndLine)
		b.WriteString(r.Document.Content)
		if !strings.HasSuffix(r.Document.Content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
