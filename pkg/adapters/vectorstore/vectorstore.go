// Package vectorstore holds the embedding index behind memory search.
//
// Backends register a Factory under a name at init time; the binary picks
// one by configuration with Open. Every backend answers Query with matches
// ordered by descending cosine similarity.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultNamespace is used when an item or filter leaves Namespace empty.
const DefaultNamespace = "default"

// NamespaceOf returns ns, or DefaultNamespace when ns is empty.
func NamespaceOf(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Vector is a dense embedding of fixed dimension.
type Vector []float32

// Item is one indexed memory entry. ID is the memory entry id.
type Item struct {
	ID        string
	Namespace string
	Vector    Vector
	// Metadata is filterable by exact match (mood, session, timestamp).
	Metadata map[string]any
}

// Match is a Query hit.
type Match struct {
	Item  Item
	Score float32 // cosine similarity
}

// Distance is the cosine distance of the match; lower is closer.
func (m Match) Distance() float64 { return 1 - float64(m.Score) }

// VectorStore indexes and searches memory embeddings.
type VectorStore interface {
	// Upsert inserts or replaces items by ID within their namespace.
	Upsert(ctx context.Context, items []Item) error
	// Delete removes items by ID from a namespace. Unknown IDs are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error
	// Query returns at most k matches, best first.
	Query(ctx context.Context, query Vector, k int, filter Filter) ([]Match, error)
}

// Filter narrows Query to one namespace and, optionally, to items whose
// metadata holds every key/value pair of Equals.
type Filter struct {
	Namespace string
	Equals    map[string]any
}

// Factory builds a backend from its options block.
type Factory func(ctx context.Context, opts map[string]any) (VectorStore, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a backend. Names are unique.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("vectorstore: empty backend name")
	}
	if f == nil {
		return fmt.Errorf("vectorstore: nil factory for %q", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		return fmt.Errorf("vectorstore: backend %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve returns the factory registered under name.
func Resolve(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Open builds the backend registered under name.
func Open(ctx context.Context, name string, opts map[string]any) (VectorStore, error) {
	f, ok := Resolve(name)
	if !ok {
		return nil, fmt.Errorf("vectorstore: unknown backend %q (have %v)", name, Names())
	}
	return f(ctx, opts)
}

// Names lists registered backends in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
