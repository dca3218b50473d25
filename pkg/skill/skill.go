// Package skill is the registry of tools the agent can call.
//
// A Skill groups related tools and executes them by name. The Registry maps
// every tool name to its owning skill, validates arguments against the tool's
// JSON Schema and reports unknown tools as errmodel ToolNotFound.
package skill

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool declares one callable tool. Parameters is a JSON Schema object
// describing the args map; nil accepts any arguments.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ParametersJSON renders Parameters for prompts. Tools without a schema render as "{}".
func (t Tool) ParametersJSON() string {
	if t.Parameters == nil {
		return "{}"
	}
	b, err := json.Marshal(t.Parameters)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Skill is a named group of tools.
type Skill interface {
	Name() string
	Description() string
	Tools() []Tool
	// Execute runs tool with args and returns its textual result.
	Execute(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Object is shorthand for an object schema with the given properties.
func Object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

// String is shorthand for a described string property.
func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// Number is shorthand for a described number property.
func Number(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}

// StringArray is shorthand for a described array of strings.
func StringArray(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: description, Items: &jsonschema.Schema{Type: "string"}}
}

// Schema aliases the JSON Schema type used for tool parameters.
type Schema = jsonschema.Schema
