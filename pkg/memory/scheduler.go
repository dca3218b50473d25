package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig configures periodic compression.
type ScheduleConfig struct {
	// Schedule is a cron expression ("0 3 * * *") or a duration ("6h").
	Schedule      string        `koanf:"schedule"`
	OlderThanDays int           `koanf:"older_than_days"`
	MinMessages   int           `koanf:"min_messages"`
	Timeout       time.Duration `koanf:"timeout"`
}

// Scheduler runs PeriodicCompression on a schedule. Stop cancels a running
// sweep and waits for it.
type Scheduler struct {
	manager *Manager
	cfg     ScheduleConfig
	cron    *cron.Cron
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	runs   int
}

// NewScheduler validates cfg and returns a stopped scheduler.
func NewScheduler(m *Manager, cfg ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.OlderThanDays <= 0 {
		cfg.OlderThanDays = 7
	}
	sched, err := parseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("memory scheduler: invalid schedule %q: %w", cfg.Schedule, err)
	}
	s := &Scheduler{manager: m, cfg: cfg, logger: logger}
	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s.cron.Schedule(sched, cron.FuncJob(s.sweep))
	return s, nil
}

// Start begins running sweeps. ctx bounds every sweep.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("periodic compression scheduled", "schedule", s.cfg.Schedule, "older_than_days", s.cfg.OlderThanDays)
}

// Stop cancels the scheduler's context and waits for a running sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx = nil
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Runs returns the number of sweeps started so far.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) sweep() {
	s.mu.Lock()
	parent := s.ctx
	if parent != nil {
		s.runs++
	}
	s.mu.Unlock()
	if parent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	n, err := s.manager.PeriodicCompression(ctx, s.cfg.OlderThanDays, s.cfg.MinMessages)
	if err != nil {
		s.logger.Warn("periodic compression failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("periodic compression completed", "compressed", n, "duration", time.Since(start))
}

func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration")
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	return cron.Every(d), nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
