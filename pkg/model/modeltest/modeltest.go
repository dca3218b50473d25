// Package modeltest builds a model.Router over the default catalog whose
// providers are scripted llmtest fakes.
package modeltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wilhg/claw/pkg/adapters/llm/llmtest"
	"github.com/wilhg/claw/pkg/model"
)

// Fixture exposes the router and one fake per catalog provider.
//
// With the default catalog every free-budget request lands on Groq, and a
// high-complexity premium request lands on OpenAI.
type Fixture struct {
	Router    *model.Router
	Groq      *llmtest.Provider
	Ollama    *llmtest.Provider
	OpenAI    *llmtest.Provider
	Anthropic *llmtest.Provider
}

// New returns a Fixture whose registry is closed on test cleanup.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		Groq:      llmtest.New("groq", "mixtral-8x7b-32768"),
		Ollama:    llmtest.New("ollama", "llama3.2"),
		OpenAI:    llmtest.New("openai", "gpt-4o-mini"),
		Anthropic: llmtest.New("anthropic", "claude-3-haiku-20240307"),
	}
	reg := model.NewRegistry(
		model.WithFactory("groq", f.Groq.Factory()),
		model.WithFactory("ollama", f.Ollama.Factory()),
		model.WithFactory("openai", f.OpenAI.Factory()),
		model.WithFactory("anthropic", f.Anthropic.Factory()),
	)
	t.Cleanup(func() { _ = reg.Close() })
	r, err := model.NewRouter(model.DefaultCatalog(), reg)
	require.NoError(t, err)
	f.Router = r
	return f
}
