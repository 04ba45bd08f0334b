package index

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/config"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
)

// QdrantStore backs the index with an external Qdrant instance over gRPC.
// Use it when several workers share one index of a large repository.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	log        *logging.Logger
}

// NewQdrantStore connects to the configured Qdrant instance and ensures the
// collection exists with the embedder's dimension.
func NewQdrantStore(cfg config.IndexConfig, embedder Embedder, log *logging.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	host, portStr, err := net.SplitHostPort(cfg.QdrantAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant address %q: %w", cfg.QdrantAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "patchsmith"
	}

	ctx := context.Background()
	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(embedder.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %w", collection, err)
		}
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
		embedder:   embedder,
		log:        log,
	}, nil
}

// Add embeds and upserts the documents.
func (s *QdrantStore) Add(ctx context.Context, docs []Document) error {
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

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(d.ID)).String()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				"id":         {Kind: &qdrant.Value_StringValue{StringValue: d.ID}},
				"path":       {Kind: &qdrant.Value_StringValue{StringValue: d.Path}},
				"content":    {Kind: &qdrant.Value_StringValue{StringValue: d.Content}},
				"start_line": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(d.StartLine)}},
				"end_line":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(d.EndLine)}},
			},
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	s.log.Debug(ctx, "indexed documents", zap.Int("count", len(docs)), zap.String("collection", s.collection))
	return nil
}

// Query returns the k nearest chunks to text.
func (s *QdrantStore) Query(ctx context.Context, text string, k int) ([]Result, error) {
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.collection, err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		d := Document{}
		if v, ok := p.Payload["id"]; ok {
			d.ID = v.GetStringValue()
		}
		if v, ok := p.Payload["path"]; ok {
			d.Path = v.GetStringValue()
		}
		if v, ok := p.Payload["content"]; ok {
			d.Content = v.GetStringValue()
		}
		if v, ok := p.Payload["start_line"]; ok {
			d.StartLine = int(v.GetIntegerValue())
		}
		if v, ok := p.Payload["end_line"]; ok {
			d.EndLine = int(v.GetIntegerValue())
		}
		results = append(results, Result{Document: d, Score: p.Score})
	}
	return results, nil
}
