package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultDimensions is the vector width memory entries are stored with.
const DefaultDimensions = 384

// Vector represents a single embedding vector.
type Vector []float32

// Embedder produces embedding vectors from text inputs.
//
// Implementations should be deterministic for the same input unless options specify
// non-deterministic behavior. All network or I/O operations must honor ctx.
type Embedder interface {
	// Name returns a short provider name (e.g., "openai", "ollama").
	Name() string
	// Embed returns one vector per input string, in order.
	Embed(ctx context.Context, inputs []string, opts map[string]any) ([]Vector, error)
}

// Factory constructs an Embedder from a provider-specific configuration map.
// Common cfg keys: model, api_key, base_url, dimensions.
type Factory func(ctx context.Context, cfg map[string]any) (Embedder, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an Embedder factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("embedding: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("embedding: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("embedding: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve retrieves a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names lists registered providers in sorted order.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) (Vector, error) {
	vecs, err := e.Embed(ctx, []string{text}, nil)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding: %s returned %d vectors for 1 input", e.Name(), len(vecs))
	}
	return vecs[0], nil
}

// Dimensions reads the "dimensions" option, defaulting to DefaultDimensions.
func Dimensions(cfg map[string]any) int {
	switch v := cfg["dimensions"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return DefaultDimensions
}
