package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sync"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/errmodel"
)

// Registry caches one provider instance per provider+model pair. It is created
// once per process, shared by every Router, and closed on shutdown.
type Registry struct {
	mu        sync.Mutex
	factories map[string]llm.Factory
	settings  map[string]map[string]any
	breaker   *llm.BreakerConfig
	logger    *slog.Logger
	cache     map[string]llm.Provider
	closed    bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory overrides the globally registered factory for a provider id.
func WithFactory(provider string, f llm.Factory) RegistryOption {
	return func(r *Registry) { r.factories[provider] = f }
}

// WithProviderSettings passes provider-wide options (api_key, base_url, ...)
// to every instance of that provider.
func WithProviderSettings(provider string, cfg map[string]any) RegistryOption {
	return func(r *Registry) { r.settings[provider] = cfg }
}

// WithCircuitBreaker wraps every new instance in a circuit breaker.
func WithCircuitBreaker(cfg llm.BreakerConfig) RegistryOption {
	return func(r *Registry) { r.breaker = &cfg }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty cache.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: map[string]llm.Factory{},
		settings:  map[string]map[string]any{},
		logger:    slog.Default(),
		cache:     map[string]llm.Provider{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func cacheKey(mc ModelConfig) string { return mc.Provider + "-" + mc.Model }

// Get returns the cached instance for mc, constructing it on first use.
func (r *Registry) Get(ctx context.Context, mc ModelConfig) (llm.Provider, error) {
	key := cacheKey(mc)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errClosed()
	}
	if p, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return p, nil
	}
	f, ok := r.factories[mc.Provider]
	cfg := maps.Clone(r.settings[mc.Provider])
	r.mu.Unlock()

	if !ok {
		f, ok = llm.Resolve(mc.Provider)
	}
	if !ok {
		return nil, errmodel.Model(errmodel.CodeUnknownProvider, "unknown provider "+mc.Provider, map[string]any{"model_id": mc.ID})
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["model"] = mc.Model
	if mc.MaxTokens > 0 {
		cfg["max_tokens"] = mc.MaxTokens
	}
	// Factories run unlocked so slow constructions do not serialize each other.
	p, err := f(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if r.breaker != nil {
		p = llm.WithBreaker(p, *r.breaker, r.logger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		closeProvider(p)
		return nil, errClosed()
	}
	if existing, ok := r.cache[key]; ok {
		// Another caller won the race; keep its instance.
		closeProvider(p)
		return existing, nil
	}
	r.cache[key] = p
	r.logger.Debug("provider instance created", "provider", mc.Provider, "model", mc.Model)
	return p, nil
}

func errClosed() error {
	return errmodel.System("registry_closed", "provider registry is closed", nil, nil)
}

func closeProvider(p llm.Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

// Len reports the number of cached instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Close releases cached instances that hold resources and empties the cache.
// Later Get calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, p := range r.cache {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(r.cache, key)
	}
	r.closed = true
	return errors.Join(errs...)
}
