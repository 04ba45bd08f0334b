package index

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/logging"
)

const chromemCollection = "patchsmith"

// ChromemStore is the embedded default backend. The database lives purely
// in memory for the duration of a run; re-indexing a repository is cheap
// relative to a single agent call, so persistence buys nothing.
type ChromemStore struct {
	collection *chromem.Collection
	embedder   Embedder
	log        *logging.Logger
}

// NewChromemStore builds an in-memory chromem store around the embedder.
func NewChromemStore(embedder Embedder, log *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	db := chromem.NewDB()
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(chromemCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create chromem collection: %w", err)
	}

	return &ChromemStore{collection: collection, embedder: embedder, log: log}, nil
}

// Add embeds and stores the documents.
func (s *ChromemStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"path":       d.Path,
				"start_line": strconv.Itoa(d.StartLine),
				"end_line":   strconv.Itoa(d.EndLine),
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.log.Debug(ctx, "indexed documents", zap.Int("count", len(docs)))
	return nil
}

// Query returns the k nearest chunks to text.
func (s *ChromemStore) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if count := s.collection.Count(); count < k {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}
	hits, err := s.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		startLine, _ := strconv.Atoi(h.Metadata["start_line"])
		endLine, _ := strconv.Atoi(h.Metadata["end_line"])
		results[i] = Result{
			Document: Document{
				ID:        h.ID,
				Path:      h.Metadata["path"],
				Content:   h.Content,
				StartLine: startLine,
				EndLine:   endLine,
			},
			Score: h.Similarity,
		}
	}
	return results, nil
}
