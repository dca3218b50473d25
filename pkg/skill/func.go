package skill

import (
	"context"
	"fmt"
)

// Handler executes one tool.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// FuncSkill assembles a Skill from plain functions.
type FuncSkill struct {
	name        string
	description string
	tools       []Tool
	handlers    map[string]Handler
}

// NewFuncSkill returns an empty FuncSkill.
func NewFuncSkill(name, description string) *FuncSkill {
	return &FuncSkill{name: name, description: description, handlers: map[string]Handler{}}
}

// Add declares a tool and its handler.
func (f *FuncSkill) Add(t Tool, h Handler) *FuncSkill {
	f.tools = append(f.tools, t)
	f.handlers[t.Name] = h
	return f
}

func (f *FuncSkill) Name() string        { return f.name }
func (f *FuncSkill) Description() string { return f.description }
func (f *FuncSkill) Tools() []Tool       { return append([]Tool(nil), f.tools...) }

func (f *FuncSkill) Execute(ctx context.Context, tool string, args map[string]any) (string, error) {
	h, ok := f.handlers[tool]
	if !ok {
		return "", fmt.Errorf("skill %s has no tool %s", f.name, tool)
	}
	return h(ctx, args)
}
