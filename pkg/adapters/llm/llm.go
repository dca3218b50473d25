package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Message represents a chat message with a role and content.
// Role is one of "user", "assistant" or "system".
type Message struct {
	Role    string
	Content string
}

// User is shorthand for a single user message.
func User(content string) Message { return Message{Role: "user", Content: content} }

// ChunkFunc receives streamed text chunks in arrival order.
type ChunkFunc func(chunk string)

// Provider is one concrete model backend (a provider+model pair).
//
// Implementations must be safe for concurrent use: the model router shares one
// instance per provider+model across sessions.
type Provider interface {
	// Name returns the provider id (e.g., "openai", "ollama").
	Name() string
	// Model returns the concrete model identifier this instance talks to.
	Model() string
	// Complete returns the full completion. system, when non-empty, is sent as the system prompt.
	Complete(ctx context.Context, messages []Message, system string) (string, error)
	// StreamComplete delivers the completion through onChunk. The concatenation of
	// all chunks equals what Complete would have returned.
	StreamComplete(ctx context.Context, messages []Message, onChunk ChunkFunc, system string) error
	// CheckHealth probes the backend. It never returns an error; failures report false.
	CheckHealth(ctx context.Context) bool
	// EstimateTokenCount approximates how many tokens text costs for this model.
	EstimateTokenCount(text string) int
}

// Factory constructs a Provider from provider-specific config.
// Common cfg keys: model, max_tokens, api_key, base_url.
type Factory func(ctx context.Context, cfg map[string]any) (Provider, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a Provider factory under a provider id.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by provider id.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names lists registered provider ids in sorted order.
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

// StringOpt reads a string option from a factory config map.
func StringOpt(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOpt reads an integer option from a factory config map. YAML and JSON
// decoders hand back different numeric types, so all of them are accepted.
func IntOpt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
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
	return def
}
