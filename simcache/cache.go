// Package simcache reuses previously generated assistant replies when a
// sufficiently similar exchange already happened in the same collection
// state. It is an optimization layer: every failure degrades to a miss.
package simcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/tbxark/intakeagent/types"
)

// DefaultRadius is the cosine-distance acceptance radius: neighbors
// further away than this are treated as misses.
const DefaultRadius = 0.5

// Document metadata keys used by the index payloads.
const (
	metaAssistantText = "assistant_text"
	metaCreatedAt     = "created_at"
)

// Hit is a reusable cached reply.
type Hit struct {
	AssistantText string
	Distance      float64
}

// Result is one neighbor returned by Search, for observability surfaces.
type Result struct {
	ID            string    `json:"id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Distance      float64   `json:"distance"`
	CreatedAt     time.Time `json:"created_at"`
}

// Cache pairs an embedder with a vector index, scoping every entry by the
// context key of the field being collected when the reply was produced.
type Cache struct {
	embedder embedding.Embedder
	index    Index
	radius   float64
}

func New(embedder embedding.Embedder, index Index, radius float64) *Cache {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Cache{embedder: embedder, index: index, radius: radius}
}

// Lookup returns a cached reply for utterance under key, or nil on miss.
// It fails open: embedder or index errors are logged and reported as a
// miss, never surfaced to the caller.
func (c *Cache) Lookup(ctx context.Context, key types.ContextKey, utterance string) *Hit {
	vector, err := c.embed(ctx, key, utterance)
	if err != nil {
		slog.Warn("simcache lookup degraded to miss", "stage", "embed", "err", err)
		return nil
	}
	neighbors, err := c.index.Neighbors(ctx, key, vector, 1)
	if err != nil {
		slog.Warn("simcache lookup degraded to miss", "stage", "index", "err", err)
		return nil
	}
	if len(neighbors) == 0 || neighbors[0].Distance > c.radius {
		return nil
	}
	n := neighbors[0]
	answer, _ := n.Doc.MetaData[metaAssistantText].(string)
	if answer == "" {
		return nil
	}
	slog.Debug("simcache hit", "context", key, "distance", n.Distance)
	return &Hit{AssistantText: answer, Distance: n.Distance}
}

// Upsert inserts a served turn into the index so future lookups in the
// same collection state can reuse the reply. It returns the embedding it
// stored so the caller can keep a copy on its own turn record.
func (c *Cache) Upsert(ctx context.Context, key types.ContextKey, utterance, assistantText string) ([]float64, error) {
	vector, err := c.embed(ctx, key, utterance)
	if err != nil {
		return nil, fmt.Errorf("embed turn: %w", err)
	}
	doc := &schema.Document{
		ID:      uuid.NewString(),
		Content: utterance,
		MetaData: map[string]any{
			metaAssistantText: assistantText,
			metaCreatedAt:     time.Now().UTC(),
		},
	}
	doc.WithDenseVector(vector)
	if err := c.index.Insert(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	return vector, nil
}

// Search returns up to limit neighbors of utterance under key, closest
// first, without applying the acceptance radius.
func (c *Cache) Search(ctx context.Context, key types.ContextKey, utterance string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 1
	}
	vector, err := c.embed(ctx, key, utterance)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	neighbors, err := c.index.Neighbors(ctx, key, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		answer, _ := n.Doc.MetaData[metaAssistantText].(string)
		createdAt, _ := n.Doc.MetaData[metaCreatedAt].(time.Time)
		results = append(results, Result{
			ID:            n.Doc.ID,
			UserText:      n.Doc.Content,
			AssistantText: answer,
			Distance:      n.Distance,
			CreatedAt:     createdAt,
		})
	}
	return results, nil
}

func (c *Cache) embed(ctx context.Context, key types.ContextKey, utterance string) ([]float64, error) {
	vectors, err := c.embedder.EmbedStrings(ctx, []string{string(key) + "\n" + utterance})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors", len(vectors))
	}
	return vectors[0], nil
}
