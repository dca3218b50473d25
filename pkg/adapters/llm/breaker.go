package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the per-provider circuit breaker.
// Zero values select the defaults.
type BreakerConfig struct {
	MaxFailures uint32        `koanf:"max_failures"`
	Timeout     time.Duration `koanf:"timeout"`
	Interval    time.Duration `koanf:"interval"`
}

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = 60 * time.Second
)

// breakerProvider fails fast while its backend keeps failing. It sits below the
// model router, so an open circuit surfaces as an ordinary provider failure and
// still triggers the premium to free fallback.
type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker[string]
}

// WithBreaker wraps p with a circuit breaker.
func WithBreaker(p Provider, cfg BreakerConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}
	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm:" + p.Name() + ":" + p.Model(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerProvider{Provider: p, cb: cb}
}

func (b *breakerProvider) Complete(ctx context.Context, messages []Message, system string) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.Provider.Complete(ctx, messages, system)
	})
	return out, b.wrap(err)
}

func (b *breakerProvider) StreamComplete(ctx context.Context, messages []Message, onChunk ChunkFunc, system string) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.Provider.StreamComplete(ctx, messages, onChunk, system)
	})
	return b.wrap(err)
}

func (b *breakerProvider) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s/%s circuit open: %w", b.Name(), b.Model(), err)
	}
	return err
}
