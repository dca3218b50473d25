package prompt

import "fmt"

// Names of the built-in prompts.
const (
	Plan     = "plan"
	Reflect  = "reflect"
	Route    = "route"
	Compress = "compress"
)

// ToolLine is one tool as listed in the plan and route prompts.
type ToolLine struct {
	Name        string
	Description string
	Parameters  string // JSON schema
}

// PlanData feeds the plan prompt.
type PlanData struct {
	Tools []ToolLine
	Steps string // JSON array of previous steps
	Input string
}

// ReflectData feeds the reflect prompt.
type ReflectData struct {
	Steps string
	Input string
}

// RouteData feeds the route prompt.
type RouteData struct {
	Tools []ToolLine
	Input string
}

// CompressData feeds the compress prompt.
type CompressData struct {
	Transcript string
}

const planBody = `You are an AI agent planner. Given user input and previous steps, decide the next action.

Available tools:
{{range $i, $t := .Tools}}{{if $i}}
{{end}}{{$t.Name}}: {{$t.Description}}{{end}}

Previous steps: {{.Steps}}

User input: "{{.Input}}"

Respond in JSON:
{
  "action": "plan" | "execute" | "reflect" | "respond",
  "tool": "tool_name" | null,
  "args": {} | null,
  "reasoning": "why this action",
  "result": "if respond, the final answer"
}`

const reflectBody = `You are an AI reflector. Evaluate if the task is complete or needs more steps.

Steps taken: {{.Steps}}

Original input: "{{.Input}}"

Respond in JSON:
{
  "decision": "continue" | "complete",
  "finalAnswer": "if complete, the comprehensive answer",
  "nextInput": "if continue, what to do next",
  "reasoning": "why"
}`

const routeBody = `You are an AI tool router. Analyze the user input and decide if a tool is needed.

Available tools:
{{range $i, $t := .Tools}}{{if $i}}
{{end}}- {{$t.Name}}: {{$t.Description}}
  Parameters: {{$t.Parameters}}{{end}}

User input: "{{.Input}}"

If NO tool is needed (just conversation, questions you can answer directly, greetings), respond exactly: NO_TOOL

If a tool IS needed, respond ONLY in this JSON format:
{
  "tool": "exact_tool_name",
  "args": { "param": "value" },
  "reasoning": "specific explanation of why this tool is needed",
  "confidence": 0.0-1.0
}

Rules:
- Only use tools for external data, code execution, or file operations
- "What is X" -> NO_TOOL (you know this)
- "What is the weather" -> search tool (external data)
- "Calculate 123*456" -> code_execute tool (calculation)
- "Read my file.txt" -> file_read tool (file access)`

const compressBody = `Summarize this conversation into a compressed memory format. Extract:
1. Key facts discussed
2. User preferences revealed
3. Decisions made
4. Action items (if any)

Be concise but preserve important details.

Conversation:
{{.Transcript}}

Respond in this format:
SUMMARY:
[bullet points of key information]

CONTEXT:
[brief narrative of what happened]`

var builtins = []Prompt{
	{Name: Plan, Body: planBody, Meta: map[string]string{"owner": "agent"}},
	{Name: Reflect, Body: reflectBody, Meta: map[string]string{"owner": "agent"}},
	{Name: Route, Body: routeBody, Meta: map[string]string{"owner": "toolrouter"}},
	{Name: Compress, Body: compressBody, Meta: map[string]string{"owner": "memory"}},
}

// Defaults returns a store holding version 1 of every built-in prompt.
func Defaults() *Store {
	s := NewStore()
	for _, p := range builtins {
		if _, issues, err := s.Save(p); err != nil {
			panic(fmt.Sprintf("prompt: built-in %q invalid: %v %v", p.Name, err, issues))
		}
	}
	return s
}

// Override saves body as the next version of name and returns the diff
// against the version it replaces.
func (s *Store) Override(name, body string) (Prompt, string, error) {
	prev, _ := s.Get(name, 0)
	p, issues, err := s.Save(Prompt{Name: name, Body: body, Meta: map[string]string{"source": "override"}})
	if err != nil {
		if len(issues) > 0 {
			return Prompt{}, "", fmt.Errorf("override %s: %w: %s", name, err, issues[0].Message)
		}
		return Prompt{}, "", fmt.Errorf("override %s: %w", name, err)
	}
	return p, UnifiedDiff(prev.Body, p.Body), nil
}
