// Command claw runs the orchestration core: an HTTP API over the dispatcher,
// a one-shot -ask mode, and an MCP stdio server exposing the skill registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/claw/pkg/agent"
	"github.com/wilhg/claw/pkg/config"
	"github.com/wilhg/claw/pkg/logging"
	clawotel "github.com/wilhg/claw/pkg/otel"
	"github.com/wilhg/claw/pkg/prompt"
	"github.com/wilhg/claw/pkg/skill/mcpskill"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "claw: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	addr        string
	ask         string
	session     string
	personality string
	serveMCP    bool
	evalPrompts string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("claw", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", os.Getenv("CLAW_CONFIG"), "path to a YAML config file")
	fs.StringVar(&o.addr, "addr", "", "http listen address (overrides http.addr)")
	fs.StringVar(&o.ask, "ask", "", "answer one utterance, print the reply and exit")
	fs.StringVar(&o.session, "session", "", "session id for -ask")
	fs.StringVar(&o.personality, "personality", "", "persona for direct replies")
	fs.BoolVar(&o.serveMCP, "mcp", false, "serve the skill registry over MCP on stdio")
	fs.StringVar(&o.evalPrompts, "eval-prompts", "", "evaluate prompt fixtures in a directory and exit")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	return o, fs.Parse(args)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "claw %s (commit=%s, date=%s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.addr != "" {
		cfg.HTTP.Addr = o.addr
	}
	if o.serveMCP && (cfg.Log.Output == "" || cfg.Log.Output == "stdout") {
		// stdout carries the MCP protocol.
		cfg.Log.Output = "stderr"
	}
	logger, closeLog, err := logging.Open(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	if o.evalPrompts != "" {
		return evalPrompts(cfg, logger, o.evalPrompts, stdout)
	}

	shutdownTracing, err := clawotel.Init(ctx, clawotel.Config{
		ServiceName:    cfg.Otel.ServiceName,
		ServiceVersion: version,
		Stdout:         cfg.Otel.Stdout && !o.serveMCP,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	switch {
	case o.ask != "":
		return ask(ctx, a, o, stdout)
	case o.serveMCP:
		logger.Info("serving skills over MCP stdio", "tools", len(a.skills.ListTools()))
		return mcpskill.Serve(ctx, a.skills, &mcp.IOTransport{Reader: io.NopCloser(stdin), Writer: nopWriteCloser{stdout}})
	}
	return serve(ctx, a)
}

// ask streams a direct reply as it arrives; agent loop answers print whole.
func ask(ctx context.Context, a *app, o options, stdout io.Writer) error {
	streamed := false
	reply, err := a.dispatcher.Handle(ctx, agent.Request{
		Input:       o.ask,
		SessionID:   o.session,
		Personality: o.personality,
		OnChunk: func(chunk string) {
			streamed = true
			_, _ = io.WriteString(stdout, chunk)
		},
	})
	if err != nil {
		return err
	}
	if !streamed {
		_, _ = io.WriteString(stdout, reply.Text)
	}
	_, err = io.WriteString(stdout, "\n")
	return err
}

// evalPrompts checks the configured prompts against fixture files and fails
// when any fixture does not pass.
func evalPrompts(cfg *config.Config, logger *slog.Logger, dir string, stdout io.Writer) error {
	prompts, err := loadPrompts(cfg.Prompts, logger)
	if err != nil {
		return err
	}
	fixtures, err := prompt.LoadFixtures(os.DirFS(dir), ".")
	if err != nil {
		return err
	}
	r := prompts.Evaluate(fixtures)
	for _, f := range r.Failures {
		fmt.Fprintln(stdout, "FAIL", f)
	}
	fmt.Fprintf(stdout, "%d/%d fixtures passed (score %.2f)\n", r.Passed, r.Total, r.Score())
	if r.Passed != r.Total {
		return fmt.Errorf("%d prompt fixtures failed", r.Total-r.Passed)
	}
	return nil
}

func serve(ctx context.Context, a *app) error {
	a.scheduler.Start(ctx)
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: buildMux(a), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
