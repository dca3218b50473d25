// Package toolrouter decides whether a user utterance warrants a tool call.
//
// The router asks a free-tier model once. A response containing NO_TOOL, no
// parseable object, or a tool the registry does not know yields no selection.
// Callers act on a selection only when Trusted reports true.
package toolrouter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/prompt"
	"github.com/wilhg/claw/pkg/skill"
	"github.com/wilhg/claw/pkg/structured"
)

const (
	// ConfidenceThreshold is exclusive: a selection must score above it.
	ConfidenceThreshold = 0.6
	// DefaultConfidence applies when the model omits a numeric confidence.
	DefaultConfidence = 0.5
	// NoTool is the sentinel the model answers with when no tool is needed.
	NoTool = "NO_TOOL"
)

// Selection is the router's choice of tool.
type Selection struct {
	Tool       string
	Args       map[string]any
	Reasoning  string
	Confidence float64
}

// Trusted reports whether the selection clears ConfidenceThreshold.
func (s *Selection) Trusted() bool {
	return s != nil && s.Confidence > ConfidenceThreshold
}

// Completer is the part of model.Router the tool router needs.
type Completer interface {
	RouteRequest(ctx context.Context, messages []llm.Message, req model.Request) (string, error)
}

// Tools is the part of the skill registry the tool router needs.
type Tools interface {
	ListTools() []skill.Tool
	HasTool(name string) bool
}

// Router is the confidence gate in front of the agent loop.
type Router struct {
	models  Completer
	tools   Tools
	prompts *prompt.Store
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// WithPrompts replaces the built-in prompt store.
func WithPrompts(s *prompt.Store) Option { return func(r *Router) { r.prompts = s } }

// New returns a Router.
func New(models Completer, tools Tools, opts ...Option) *Router {
	r := &Router{models: models, tools: tools, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if r.prompts == nil {
		r.prompts = prompt.Defaults()
	}
	return r
}

// Route returns the tool selection for input, or nil when no tool applies.
// It never fails: model and prompt errors are logged and read as no selection.
func (r *Router) Route(ctx context.Context, input string) *Selection {
	tools := r.tools.ListTools()
	lines := make([]prompt.ToolLine, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, prompt.ToolLine{Name: t.Name, Description: t.Description, Parameters: t.ParametersJSON()})
	}
	text, err := r.prompts.Render(prompt.Route, prompt.RouteData{Tools: lines, Input: input})
	if err != nil {
		r.logger.Error("tool routing failed", "error", err)
		return nil
	}

	resp, err := r.models.RouteRequest(ctx, []llm.Message{llm.User(text)}, model.Request{
		Complexity:  model.Medium,
		Budget:      model.Free,
		Personality: "clinical",
	})
	if err != nil {
		r.logger.Error("tool routing failed", "error", err)
		return nil
	}
	if strings.Contains(resp, NoTool) {
		r.logger.Info("no tool routing needed", "input", preview(input, 30))
		return nil
	}

	d := structured.Parse(resp)
	if !d.Structured() {
		r.logger.Warn("tool routing: no JSON found in response")
		return nil
	}
	name := d.String("tool")
	if name == "" || !r.tools.HasTool(name) {
		r.logger.Warn("tool routing: invalid tool", "tool", name)
		return nil
	}

	sel := &Selection{
		Tool:       name,
		Args:       d.Object("args"),
		Reasoning:  d.String("reasoning"),
		Confidence: DefaultConfidence,
	}
	if c, ok := d.Float("confidence"); ok {
		sel.Confidence = c
	}
	if sel.Args == nil {
		sel.Args = map[string]any{}
	}
	r.logger.Info("auto-routed to tool", "tool", sel.Tool, "reasoning", sel.Reasoning,
		"confidence", sel.Confidence, "trusted", sel.Trusted())
	return sel
}

// preview cuts s to n runes for log lines.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
