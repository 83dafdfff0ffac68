package simcache

import (
	"context"
	"math"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/intakeagent/types"
)

// Neighbor is one index match with its cosine distance to the query.
type Neighbor struct {
	Doc      *schema.Document
	Distance float64
}

// Index is the vector-index capability the cache runs on. Entries never
// leave their context key partition. Reads may run concurrently; writes
// are serialized by the implementation.
type Index interface {
	Insert(ctx context.Context, key types.ContextKey, doc *schema.Document) error
	// Neighbors returns up to limit entries under key ordered by ascending
	// distance. On equal distance the most recently inserted entry sorts
	// first.
	Neighbors(ctx context.Context, key types.ContextKey, vector []float64, limit int) ([]Neighbor, error)
}

// MemoryIndex is a brute-force in-process Index. Entries are kept in
// insertion order per context key, which gives the recency tie-break for
// free: a later entry at the same distance replaces an earlier best.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[types.ContextKey][]*schema.Document
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[types.ContextKey][]*schema.Document)}
}

func (m *MemoryIndex) Insert(_ context.Context, key types.ContextKey, doc *schema.Document) error {
	m.mu.Lock()
	m.entries[key] = append(m.entries[key], doc)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Neighbors(_ context.Context, key types.ContextKey, vector []float64, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 1
	}
	m.mu.RLock()
	docs := m.entries[key]
	scored := make([]Neighbor, 0, len(docs))
	for _, doc := range docs {
		scored = append(scored, Neighbor{Doc: doc, Distance: cosineDistance(vector, doc.DenseVector())})
	}
	m.mu.RUnlock()

	// Stable selection sort keeps insertion order among equals, then the
	// later of two equal entries is preferred by scanning from the back.
	out := make([]Neighbor, 0, limit)
	used := make([]bool, len(scored))
	for len(out) < limit && len(out) < len(scored) {
		best := -1
		for i := len(scored) - 1; i >= 0; i-- {
			if used[i] {
				continue
			}
			if best == -1 || scored[i].Distance < scored[best].Distance {
				best = i
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		out = append(out, scored[best])
	}
	return out, nil
}

// Len reports the number of entries stored under key.
func (m *MemoryIndex) Len(key types.ContextKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[key])
}

// cosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched or
// zero-norm vectors map to the maximum distance so they never match.
func cosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
