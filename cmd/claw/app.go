package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/adapters/vectorstore"
	"github.com/wilhg/claw/pkg/agent"
	"github.com/wilhg/claw/pkg/config"
	"github.com/wilhg/claw/pkg/memory"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/prompt"
	"github.com/wilhg/claw/pkg/skill"
	"github.com/wilhg/claw/pkg/skill/builtin"
	"github.com/wilhg/claw/pkg/skill/mcpskill"
	"github.com/wilhg/claw/pkg/store/sqlstore"
	"github.com/wilhg/claw/pkg/toolrouter"

	// Provider, embedder and vector store registrations.
	_ "github.com/wilhg/claw/pkg/adapters/embedding/fake"
	_ "github.com/wilhg/claw/pkg/adapters/embedding/gemini"
	_ "github.com/wilhg/claw/pkg/adapters/embedding/ollama"
	_ "github.com/wilhg/claw/pkg/adapters/embedding/openai"
	_ "github.com/wilhg/claw/pkg/adapters/llm/anthropic"
	_ "github.com/wilhg/claw/pkg/adapters/llm/gemini"
	_ "github.com/wilhg/claw/pkg/adapters/llm/ollama"
	_ "github.com/wilhg/claw/pkg/adapters/llm/openai"
	_ "github.com/wilhg/claw/pkg/adapters/vectorstore/chromadb"
	_ "github.com/wilhg/claw/pkg/adapters/vectorstore/memory"
	_ "github.com/wilhg/claw/pkg/adapters/vectorstore/qdrant"
)

// app holds the wired components of one process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	models     *model.Router
	skills     *skill.Registry
	store      *sqlstore.Store
	memory     *memory.Manager
	scheduler  *memory.Scheduler
	dispatcher *agent.Dispatcher
	closers    []func() error
}

// newApp wires every component from cfg. Extra registry options let tests
// swap provider factories.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, regOpts ...model.RegistryOption) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	prompts, err := loadPrompts(cfg.Prompts, logger)
	if err != nil {
		return nil, err
	}

	opts := []model.RegistryOption{
		model.WithCircuitBreaker(cfg.Models.Breaker),
		model.WithRegistryLogger(logger),
	}
	for name, settings := range cfg.Providers {
		opts = append(opts, model.WithProviderSettings(name, settings))
	}
	reg := model.NewRegistry(append(opts, regOpts...)...)
	a.closers = append(a.closers, reg.Close)
	a.models, err = model.NewRouter(cfg.Models.Catalog, reg, model.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.store, err = sqlstore.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)
	if err := a.store.Migrate(ctx); err != nil {
		return nil, err
	}

	memOpts := []memory.Option{
		memory.WithThreshold(cfg.Memory.Threshold),
		memory.WithCharBudget(cfg.Memory.CharBudget),
		memory.WithPrompts(prompts),
		memory.WithLogger(logger),
	}
	vectorsReady := false
	if cfg.Embedding.Provider != "" {
		emb, err := newEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		vs, err := newVectorStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if c, ok := vs.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
		memOpts = append(memOpts, memory.WithEmbedder(emb), memory.WithVectors(vs), memory.WithDimensions(cfg.Embedding.Dimensions))
		vectorsReady = true
	}
	a.memory = memory.New(a.store, a.models, memOpts...)
	if vectorsReady {
		n, err := a.memory.Hydrate(ctx)
		if err != nil {
			logger.Warn("vector index hydration failed", "error", err)
		} else {
			logger.Info("vector index hydrated", "entries", n)
		}
	}
	a.scheduler, err = memory.NewScheduler(a.memory, cfg.Memory.Schedule, logger)
	if err != nil {
		return nil, err
	}

	a.skills = skill.NewRegistry(logger)
	if err := a.registerSkills(ctx); err != nil {
		return nil, err
	}

	loop := agent.NewLoop(a.models, a.skills,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithLoopLogger(logger),
		agent.WithLoopPrompts(prompts),
	)
	router := toolrouter.New(a.models, a.skills, toolrouter.WithLogger(logger), toolrouter.WithPrompts(prompts))
	a.dispatcher = agent.NewDispatcher(router, loop, a.models,
		agent.WithSessions(a.memory),
		agent.WithHistoryBudget(cfg.Agent.HistoryTokens, llm.NewLazyEstimator(cfg.Agent.Tokenizer).Count),
		agent.WithDispatcherLogger(logger),
	)
	return a, nil
}

// loadPrompts applies configured overrides on top of the built-in prompts
// and logs what changed.
func loadPrompts(overrides map[string]string, logger *slog.Logger) (*prompt.Store, error) {
	prompts := prompt.Defaults()
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !slices.Contains(prompts.Names(), name) {
			return nil, fmt.Errorf("prompts: unknown prompt %q", name)
		}
		p, diff, err := prompts.Override(name, overrides[name])
		if err != nil {
			return nil, err
		}
		logger.Info("prompt overridden", "name", name, "version", p.Version, "diff", diff)
	}
	return prompts, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	f, ok := embedding.Resolve(cfg.Embedding.Provider)
	if !ok {
		return nil, fmt.Errorf("embedding: unknown provider %q (have %v)", cfg.Embedding.Provider, embedding.Names())
	}
	return f(ctx, cfg.EmbeddingOptions())
}

func newVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, error) {
	return vectorstore.Open(ctx, cfg.Vector.Provider, cfg.VectorOptions())
}

func (a *app) registerSkills(ctx context.Context) error {
	sc := a.cfg.Skills
	if sc.Workspace != "" {
		if err := a.skills.Register(builtin.Files(os.DirFS(sc.Workspace))); err != nil {
			return err
		}
	}
	if sc.Web {
		if err := a.skills.Register(builtin.Web(nil)); err != nil {
			return err
		}
	}
	if sc.Memory {
		if err := a.skills.Register(builtin.Memory(a.memory)); err != nil {
			return err
		}
	}
	for _, srv := range sc.MCP {
		s, err := mcpskill.Dial(ctx, srv)
		if err != nil {
			// One unreachable MCP server should not keep claw down.
			a.logger.Error("mcp server unavailable", "name", srv.Name, "error", err)
			continue
		}
		a.closers = append(a.closers, s.Close)
		if err := a.skills.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the scheduler and releases resources in reverse order.
func (a *app) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
