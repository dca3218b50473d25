// Package agent runs the plan, execute and reflect loop that turns one user
// utterance into a multi-step, tool-using answer, and the dispatcher that
// decides whether an utterance needs that loop at all.
//
// The loop holds no state between Run calls. Callers always get text back:
// malformed model output, tool failures and exhausted iterations all degrade
// into an answer instead of an error.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/errmodel"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/prompt"
	"github.com/wilhg/claw/pkg/skill"
	"github.com/wilhg/claw/pkg/structured"
)

// DefaultMaxIterations bounds the plan/execute/reflect cycles of one Run.
const DefaultMaxIterations = 5

// Fixed answers.
const (
	GaveUpSuffix     = "\n\n*[Max iterations reached. I gave up.]*"
	ModelsDownSuffix = "\n\n*[All models failed. I gave up.]*"
	NoResponse       = "I have no response. The void consumes all."
	NothingDone      = "I processed your request through my agent loop. The result is... nothing. How fitting."
	synthesisHeader  = "I completed the following actions:\n\n"
	resultPreview    = 200
)

// Action is what a step did.
type Action string

const (
	ActionPlan    Action = "plan"
	ActionExecute Action = "execute"
	ActionReflect Action = "reflect"
	ActionRespond Action = "respond"
)

// Reflection decisions.
const (
	DecisionContinue = "continue"
	DecisionComplete = "complete"
)

func parseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionPlan, ActionExecute, ActionReflect, ActionRespond:
		return a, true
	}
	return "", false
}

// Step is one loop iteration. Only Reflection is set after the step is appended.
// A run that ends on a respond plan records it as its last step.
type Step struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	Tool       string         `json:"tool,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Reflection string         `json:"reflection,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Context carries the optional inputs of one Run.
type Context struct {
	PreselectedTool string
	PreselectedArgs map[string]any
	SessionID       string
	UserID          string
}

// Result is the outcome of one Run.
type Result struct {
	Answer     string
	Steps      []Step
	Iterations int
	GaveUp     bool
}

// Completer is the part of model.Router the loop needs.
type Completer interface {
	RouteRequest(ctx context.Context, messages []llm.Message, req model.Request) (string, error)
}

// Executor is the part of the skill registry the loop needs.
type Executor interface {
	ListTools() []skill.Tool
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Loop is the plan/execute/reflect agent.
type Loop struct {
	models        Completer
	tools         Executor
	prompts       *prompt.Store
	logger        *slog.Logger
	maxIterations int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(lg *slog.Logger) LoopOption { return func(l *Loop) { l.logger = lg } }

// WithLoopPrompts replaces the built-in prompt store.
func WithLoopPrompts(s *prompt.Store) LoopOption { return func(l *Loop) { l.prompts = s } }

// NewLoop returns a Loop.
func NewLoop(models Completer, tools Executor, opts ...LoopOption) *Loop {
	l := &Loop{models: models, tools: tools, logger: slog.Default(), maxIterations: DefaultMaxIterations}
	for _, o := range opts {
		o(l)
	}
	if l.prompts == nil {
		l.prompts = prompt.Defaults()
	}
	return l
}

type plan struct {
	action Action
	tool   string
	args   map[string]any
	result string
}

type reflection struct {
	decision    string
	finalAnswer string
	nextInput   string
}

// Run answers input. A preselected tool is executed first as step-0 and its
// result is folded into the planner's input.
func (l *Loop) Run(ctx context.Context, input string, c Context) Result {
	ctx, span := otel.Tracer("agent/loop").Start(ctx, "Loop.Run", trace.WithAttributes(
		attribute.String("session.id", c.SessionID),
		attribute.String("preselected_tool", c.PreselectedTool),
	))
	defer span.End()

	log := l.logger.With("session_id", c.SessionID)
	log.Info("agent loop started", "input", preview(input, 50))

	var res Result
	finish := func(answer string) Result {
		res.Answer = answer
		span.SetAttributes(
			attribute.Int("iterations", res.Iterations),
			attribute.Int("steps", len(res.Steps)),
			attribute.Bool("gave_up", res.GaveUp),
		)
		log.Info("agent loop finished", "iterations", res.Iterations, "steps", len(res.Steps), "gave_up", res.GaveUp)
		return res
	}

	current := input
	if c.PreselectedTool != "" {
		step := Step{ID: "step-0", Action: ActionExecute, Tool: c.PreselectedTool, Args: c.PreselectedArgs, Timestamp: time.Now()}
		step.Result = l.execute(ctx, log, step.Tool, step.Args)
		res.Steps = append(res.Steps, step)
		current = fmt.Sprintf("Tool %s returned: %s. Original request: %s", c.PreselectedTool, step.Result, input)
	}

	for res.Iterations < l.maxIterations {
		res.Iterations++

		p, err := l.plan(ctx, current, res.Steps)
		if err != nil {
			span.RecordError(err)
			log.Error("planner unavailable", "iteration", res.Iterations, "error", err)
			res.GaveUp = true
			return finish(synthesize(res.Steps) + ModelsDownSuffix)
		}
		log.Info("plan", "iteration", res.Iterations, "action", p.action, "tool", p.tool)
		if p.action == ActionRespond {
			res.Steps = append(res.Steps, Step{ID: "step-" + uuid.NewString(), Action: ActionRespond, Result: p.result, Timestamp: time.Now()})
			if p.result == "" {
				return finish(NoResponse)
			}
			return finish(p.result)
		}

		step := Step{ID: "step-" + uuid.NewString(), Action: p.action, Tool: p.tool, Args: p.args, Timestamp: time.Now()}
		if p.action == ActionExecute && p.tool != "" {
			step.Result = l.execute(ctx, log, p.tool, p.args)
		}
		res.Steps = append(res.Steps, step)

		r, err := l.reflect(ctx, res.Steps, input)
		if err != nil {
			span.RecordError(err)
			log.Error("reflector unavailable", "iteration", res.Iterations, "error", err)
			res.GaveUp = true
			return finish(synthesize(res.Steps) + ModelsDownSuffix)
		}
		res.Steps[len(res.Steps)-1].Reflection = r.decision
		log.Info("reflection", "iteration", res.Iterations, "decision", r.decision)

		if r.decision == DecisionComplete {
			if r.finalAnswer != "" {
				return finish(r.finalAnswer)
			}
			return finish(synthesize(res.Steps))
		}
		if r.nextInput != "" {
			current = r.nextInput
		}
	}

	res.GaveUp = true
	return finish(synthesize(res.Steps) + GaveUpSuffix)
}

// execute runs a tool and folds any failure into an "Error: ..." result.
func (l *Loop) execute(ctx context.Context, log *slog.Logger, tool string, args map[string]any) string {
	out, err := l.tools.Execute(ctx, tool, args)
	if err != nil {
		log.Error("tool failed", "tool", tool, "error", err)
		return "Error: " + errmodel.From(err).Message
	}
	log.Info("tool executed", "tool", tool, "result", preview(out, 100))
	return out
}

func (l *Loop) ask(ctx context.Context, name string, data any) (string, error) {
	text, err := l.prompts.Render(name, data)
	if err != nil {
		return "", err
	}
	return l.models.RouteRequest(ctx, []llm.Message{llm.User(text)}, model.Request{
		Complexity:  model.High,
		Budget:      model.Premium,
		Personality: "clinical",
	})
}

// plan asks for the next action. Output without a usable object becomes a
// respond action carrying the raw text.
func (l *Loop) plan(ctx context.Context, input string, steps []Step) (plan, error) {
	tools := l.tools.ListTools()
	lines := make([]prompt.ToolLine, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, prompt.ToolLine{Name: t.Name, Description: t.Description, Parameters: t.ParametersJSON()})
	}
	resp, err := l.ask(ctx, prompt.Plan, prompt.PlanData{Tools: lines, Steps: stepsJSON(steps), Input: input})
	if err != nil {
		return plan{}, err
	}
	d := structured.Parse(resp)
	if !d.Structured() {
		return plan{action: ActionRespond, result: resp}, nil
	}
	p := plan{tool: d.String("tool"), args: d.Object("args"), result: d.String("result")}
	a, ok := parseAction(d.String("action"))
	if !ok {
		// An object without a known action cannot be acted on; treat it as a
		// planning step so reflection decides what happens next.
		a = ActionPlan
	}
	p.action = a
	return p, nil
}

// reflect judges the steps so far. Output without a usable object completes
// the run with the raw text.
func (l *Loop) reflect(ctx context.Context, steps []Step, input string) (reflection, error) {
	resp, err := l.ask(ctx, prompt.Reflect, prompt.ReflectData{Steps: stepsJSON(steps), Input: input})
	if err != nil {
		return reflection{}, err
	}
	d := structured.Parse(resp)
	if !d.Structured() {
		return reflection{decision: DecisionComplete, finalAnswer: resp}, nil
	}
	return reflection{
		decision:    d.String("decision"),
		finalAnswer: d.String("finalAnswer"),
		nextInput:   d.String("nextInput"),
	}, nil
}

type stepSummary struct {
	Action Action `json:"action"`
	Tool   string `json:"tool,omitempty"`
	Result string `json:"result,omitempty"`
}

// stepsJSON renders steps for prompts with results cut to resultPreview runes.
func stepsJSON(steps []Step) string {
	out := make([]stepSummary, len(steps))
	for i, s := range steps {
		out[i] = stepSummary{Action: s.Action, Tool: s.Tool, Result: runePrefix(s.Result, resultPreview)}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// synthesize lists the results of executed tool steps.
func synthesize(steps []Step) string {
	var parts []string
	for _, s := range steps {
		if s.Action == ActionExecute && s.Result != "" {
			parts = append(parts, "["+s.Tool+"]: "+s.Result)
		}
	}
	if len(parts) == 0 {
		return NothingDone
	}
	return synthesisHeader + strings.Join(parts, "\n\n")
}

func runePrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func preview(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return runePrefix(s, n) + "..."
}
