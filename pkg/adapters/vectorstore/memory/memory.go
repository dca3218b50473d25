// Package memory is an in-process VectorStore. It backs the memory manager's
// semantic search when no external vector database is configured; the manager
// rehydrates it from the SQL store on startup.
package memory

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"sync"

	"github.com/wilhg/claw/pkg/adapters/vectorstore"
)

// Store keeps items per namespace behind a RWMutex.
type Store struct {
	mu     sync.RWMutex
	byNSID map[string]map[string]vectorstore.Item // namespace -> id -> item
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{byNSID: make(map[string]map[string]vectorstore.Item)}
}

// Upsert inserts or replaces items. Vectors are copied.
func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it.ID == "" {
			return errors.New("memory vectorstore: empty id")
		}
		if len(it.Vector) == 0 {
			return errors.New("memory vectorstore: empty vector")
		}
		ns := vectorstore.NamespaceOf(it.Namespace)
		bucket, ok := s.byNSID[ns]
		if !ok {
			bucket = make(map[string]vectorstore.Item)
			s.byNSID[ns] = bucket
		}
		it.Namespace = ns
		it.Vector = slices.Clone(it.Vector)
		bucket[it.ID] = it
	}
	return nil
}

// Delete removes ids from namespace.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.byNSID[vectorstore.NamespaceOf(namespace)]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

// Len reports how many items namespace holds.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNSID[vectorstore.NamespaceOf(namespace)])
}

// Query performs cosine similarity search with optional metadata equality filter.
// Items whose dimension differs from the query are skipped. Equal scores are
// ordered by ID so results are stable.
func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	qnorm := dot(query, query)
	if qnorm == 0 {
		return nil, errors.New("memory vectorstore: zero-norm query vector")
	}
	qnorm = math.Sqrt(qnorm)

	s.mu.RLock()
	bucket := s.byNSID[vectorstore.NamespaceOf(filter.Namespace)]
	matches := make([]vectorstore.Match, 0, len(bucket))
	for _, it := range bucket {
		if len(it.Vector) != len(query) || !metaEquals(it.Metadata, filter.Equals) {
			continue
		}
		matches = append(matches, vectorstore.Match{Item: it, Score: cosine(query, it.Vector, qnorm)})
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b vectorstore.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func metaEquals(have map[string]any, want map[string]any) bool {
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func cosine(a, b vectorstore.Vector, qnorm float64) float32 {
	denom := qnorm * math.Sqrt(dot(b, b))
	if denom == 0 {
		return 0
	}
	return float32(dot(a, b) / denom)
}

func dot(a, b vectorstore.Vector) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func init() {
	_ = vectorstore.Register("memory", func(context.Context, map[string]any) (vectorstore.VectorStore, error) {
		return New(), nil
	})
}
