package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/errmodel"
)

// Request carries the routing parameters of one RouteRequest call.
type Request struct {
	Complexity Complexity
	Budget     Budget
	// Personality selects the persona system prompt. Empty uses the selected
	// model's own personality.
	Personality string
	// OnChunk, when set, switches the call to streaming. Chunks of a premium
	// attempt that fails partway are not retracted: the free-tier retry then
	// streams its answer from the start, so the concatenated chunks can differ
	// from the returned string. Only the returned string is authoritative.
	OnChunk llm.ChunkFunc
}

// Router implements tiered model selection with premium to free fallback.
type Router struct {
	catalog  Catalog
	registry *Registry
	logger   *slog.Logger
	current  atomic.Pointer[ModelConfig]
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter validates catalog and returns a Router backed by registry.
func NewRouter(catalog Catalog, registry *Registry, opts ...Option) (*Router, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("model: nil registry")
	}
	r := &Router{catalog: catalog, registry: registry, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	first := catalog.Free[0]
	r.current.Store(&first)
	return r, nil
}

// Catalog returns the catalog the router was built with.
func (r *Router) Catalog() Catalog { return r.catalog }

// SelectModel returns the first candidate for (complexity, budget). The pool
// is the free tier, or free then premium for a premium budget. High complexity
// on a premium budget narrows the pool to flagship premium models; when the
// catalog has none the premium tier is used, then the whole pool.
func (r *Router) SelectModel(complexity Complexity, budget Budget) ModelConfig {
	pool := r.catalog.Free
	if budget == Premium {
		pool = r.catalog.All()
		if complexity == High {
			if flagships := r.catalog.Flagships(); len(flagships) > 0 {
				pool = flagships
			} else if len(r.catalog.Premium) > 0 {
				pool = r.catalog.Premium
			}
		}
	}
	return pool[0]
}

// CurrentModel returns the model chosen by the most recent RouteRequest.
func (r *Router) CurrentModel() ModelConfig { return *r.current.Load() }

// RouteRequest selects a model and completes messages with it. With
// req.OnChunk set the response is streamed; the returned string is then the
// concatenation of all chunks. A failed premium call is retried once on the
// free tier with the same messages; any other failure ends with an
// errmodel AllModelsFailed error.
func (r *Router) RouteRequest(ctx context.Context, messages []llm.Message, req Request) (string, error) {
	if req.Complexity == "" {
		req.Complexity = Low
	}
	if req.Budget == "" {
		req.Budget = Free
	}
	tr := otel.Tracer("model/router")
	ctx, span := tr.Start(ctx, "Router.RouteRequest", trace.WithAttributes(
		attribute.String("complexity", string(req.Complexity)),
		attribute.String("budget", string(req.Budget)),
		attribute.Bool("stream", req.OnChunk != nil),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	out, err := r.dispatch(ctx, messages, req)
	if err == nil {
		return out, nil
	}
	span.RecordError(err)
	if req.Budget != Premium {
		span.SetStatus(codes.Error, "all models failed")
		return "", errmodel.AllModelsFailed(map[string]any{"budget": string(req.Budget)}, err)
	}

	r.logger.Warn("premium model failed, retrying on free tier", "error", err)
	span.AddEvent("fallback_to_free")
	free := req
	free.Budget = Free
	out, ferr := r.dispatch(ctx, messages, free)
	if ferr != nil {
		span.RecordError(ferr)
		span.SetStatus(codes.Error, "all models failed")
		return "", errmodel.AllModelsFailed(map[string]any{"budget": string(req.Budget)}, err, ferr)
	}
	return out, nil
}

func (r *Router) dispatch(ctx context.Context, messages []llm.Message, req Request) (string, error) {
	mc := r.SelectModel(req.Complexity, req.Budget)
	r.current.Store(&mc)
	personality := req.Personality
	if personality == "" {
		personality = mc.Personality
	}
	r.logger.Info("routing request", "model_id", mc.ID, "provider", mc.Provider,
		"complexity", req.Complexity, "budget", req.Budget, "personality", personality)

	p, err := r.registry.Get(ctx, mc)
	if err != nil {
		r.logger.Error("provider unavailable", "model_id", mc.ID, "error", err)
		return "", err
	}
	system := llm.PersonaPrompt(personality, "")

	if req.OnChunk == nil {
		out, err := p.Complete(ctx, messages, system)
		if err != nil {
			r.logFailure(mc, err)
			return "", err
		}
		return out, nil
	}

	var sb strings.Builder
	err = p.StreamComplete(ctx, messages, func(chunk string) {
		sb.WriteString(chunk)
		req.OnChunk(chunk)
	}, system)
	if err != nil {
		r.logFailure(mc, err)
		return "", err
	}
	return sb.String(), nil
}

func (r *Router) logFailure(mc ModelConfig, err error) {
	if llm.IsRateLimited(err) {
		r.logger.Warn(llm.RateLimitMessage, "model_id", mc.ID, "provider", mc.Provider)
		return
	}
	r.logger.Error("model call failed", "model_id", mc.ID, "provider", mc.Provider, "error", err)
}

// HealthCheck probes every catalog model concurrently. A probe that cannot
// build its provider, fails, or panics reports false without affecting others.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	models := r.catalog.All()
	results := make(map[string]bool, len(models))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, mc := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := r.probe(ctx, mc)
			mu.Lock()
			results[mc.ID] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (r *Router) probe(ctx context.Context, mc ModelConfig) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("health probe panicked", "model_id", mc.ID, "panic", rec)
			ok = false
		}
	}()
	p, err := r.registry.Get(ctx, mc)
	if err != nil {
		r.logger.Debug("health probe skipped", "model_id", mc.ID, "error", err)
		return false
	}
	return p.CheckHealth(ctx)
}
