package agent

import (
	"context"
	"log/slog"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/store"
	"github.com/wilhg/claw/pkg/toolrouter"
)

// Router picks a tool for an utterance; nil means no tool.
type Router interface {
	Route(ctx context.Context, input string) *toolrouter.Selection
}

// Sessions stores and replays conversation history. The memory manager
// implements it.
type Sessions interface {
	Messages(ctx context.Context, sessionID string) ([]store.Message, error)
	AppendMessage(ctx context.Context, m store.Message) (store.Message, error)
}

// Request is one inbound utterance.
type Request struct {
	Input       string
	SessionID   string
	UserID      string
	Personality string
	// OnChunk streams the direct path. The agent path is never streamed.
	OnChunk llm.ChunkFunc
}

// Reply is the dispatcher's answer.
type Reply struct {
	Text      string
	AgentLoop bool
	Selection *toolrouter.Selection
	Steps     []Step
}

// Dispatcher sends trusted tool selections through the agent loop and
// everything else to a single free-tier completion.
type Dispatcher struct {
	router   Router
	loop     *Loop
	models   Completer
	sessions Sessions
	logger   *slog.Logger

	historyBudget int
	countTokens   TokenCounter
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSessions records every exchange and feeds session history to the direct path.
func WithSessions(s Sessions) DispatcherOption { return func(d *Dispatcher) { d.sessions = s } }

// WithHistoryBudget caps the replayed session history at tokens, dropping
// the oldest messages first.
func WithHistoryBudget(tokens int, count TokenCounter) DispatcherOption {
	return func(d *Dispatcher) { d.historyBudget, d.countTokens = tokens, count }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(router Router, loop *Loop, models Completer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{router: router, loop: loop, models: models, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle answers one utterance. Only the direct path can fail, with the
// model router's AllModelsFailed error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Reply, error) {
	log := d.logger.With("session_id", req.SessionID)

	sel := d.router.Route(ctx, req.Input)
	if sel.Trusted() {
		log.Info("tool selected", "tool", sel.Tool, "confidence", sel.Confidence, "reasoning", sel.Reasoning)
		res := d.loop.Run(ctx, req.Input, Context{
			PreselectedTool: sel.Tool,
			PreselectedArgs: sel.Args,
			SessionID:       req.SessionID,
			UserID:          req.UserID,
		})
		reply := Reply{Text: res.Answer, AgentLoop: true, Selection: sel, Steps: res.Steps}
		d.record(ctx, log, req, reply)
		return reply, nil
	}
	if sel != nil {
		log.Info("tool selection below threshold", "tool", sel.Tool, "confidence", sel.Confidence)
	}

	history := d.history(ctx, log, req.SessionID)
	messages := append(history, llm.User(req.Input))
	text, err := d.models.RouteRequest(ctx, messages, model.Request{
		Complexity:  model.Low,
		Budget:      model.Free,
		Personality: req.Personality,
		OnChunk:     req.OnChunk,
	})
	if err != nil {
		return Reply{Selection: sel}, err
	}
	reply := Reply{Text: text, Selection: sel}
	d.record(ctx, log, req, reply)
	return reply, nil
}

func (d *Dispatcher) history(ctx context.Context, log *slog.Logger, sessionID string) []llm.Message {
	if d.sessions == nil || sessionID == "" {
		return nil
	}
	msgs, err := d.sessions.Messages(ctx, sessionID)
	if err != nil {
		log.Warn("session history unavailable", "error", err)
		return nil
	}
	out := make([]llm.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Role == "user" || m.Role == "assistant" {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	out, dropped := fitHistory(out, d.historyBudget, d.countTokens)
	if dropped > 0 {
		log.Debug("session history trimmed", "dropped", dropped, "kept", len(out))
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, req Request, reply Reply) {
	if d.sessions == nil || req.SessionID == "" {
		return
	}
	meta := map[string]any{"agentLoop": reply.AgentLoop}
	if req.Personality != "" {
		meta["mood"] = req.Personality
	}
	for _, m := range []store.Message{
		{SessionID: req.SessionID, Role: "user", Content: req.Input, Metadata: meta},
		{SessionID: req.SessionID, Role: "assistant", Content: reply.Text, Metadata: meta},
	} {
		if _, err := d.sessions.AppendMessage(ctx, m); err != nil {
			log.Warn("failed to record message", "role", m.Role, "error", err)
		}
	}
}
