package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/claw/pkg/errmodel"
)

type entry struct {
	skill  Skill
	tool   Tool
	schema *santhosh.Schema
}

// Registry holds skills and the tool index. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	skills []Skill
	tools  map[string]entry
	order  []string
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: map[string]entry{}, logger: logger}
}

// Register adds s and indexes its tools. Skill and tool names must be unique
// and every parameter schema must compile; on error nothing is registered.
func (r *Registry) Register(s Skill) error {
	if s == nil || s.Name() == "" {
		return errmodel.Validation("bad_skill", "skill is nil or unnamed", nil)
	}
	tools := s.Tools()
	compiled := make([]entry, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return errmodel.Validation("bad_tool", "tool name is empty", map[string]any{"skill": s.Name()})
		}
		sch, err := compile(t)
		if err != nil {
			return errmodel.Validation("bad_schema", "tool parameter schema does not compile",
				map[string]any{"skill": s.Name(), "tool": t.Name, "error": err.Error()})
		}
		compiled = append(compiled, entry{skill: s, tool: t, schema: sch})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.skills {
		if existing.Name() == s.Name() {
			return errmodel.Validation(errmodel.CodeDuplicate, "skill already registered", map[string]any{"skill": s.Name()})
		}
	}
	for _, e := range compiled {
		if prev, ok := r.tools[e.tool.Name]; ok {
			return errmodel.Validation(errmodel.CodeDuplicate, "tool already registered",
				map[string]any{"tool": e.tool.Name, "owner": prev.skill.Name()})
		}
	}
	r.skills = append(r.skills, s)
	for _, e := range compiled {
		r.tools[e.tool.Name] = e
		r.order = append(r.order, e.tool.Name)
	}
	r.logger.Info("skill registered", "skill", s.Name(), "tools", len(compiled))
	return nil
}

// ListTools returns every tool in registration order.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// HasTool reports whether name is registered.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Skills lists registered skill names in registration order.
func (r *Registry) Skills() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.skills))
	for i, s := range r.skills {
		out[i] = s.Name()
	}
	return out
}

// Execute validates args and runs the tool through its owning skill.
// Unknown tools fail with errmodel ToolNotFound and invalid arguments with a
// validation error; skill failures are returned unchanged.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", errmodel.ToolNotFound(name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalize(args)); err != nil {
			return "", errmodel.Validation(errmodel.CodeInvalidArgs, "invalid arguments for tool "+name,
				map[string]any{"tool": name, "error": err.Error()})
		}
	}
	r.logger.Info("executing tool", "tool", name, "skill", e.skill.Name())
	out, err := e.skill.Execute(ctx, name, args)
	if err != nil {
		r.logger.Error("tool failed", "tool", name, "skill", e.skill.Name(), "error", err)
		return "", err
	}
	return out, nil
}

func compile(t Tool) (*santhosh.Schema, error) {
	if t.Parameters == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, err
	}
	doc, err := santhosh.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("mem://tools/%s.json", t.Name)
	c := santhosh.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// normalize round-trips args through JSON so Go ints and typed slices
// validate the same way decoded model output does.
func normalize(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	v, err := santhosh.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return args
	}
	return v
}
