// Package model selects a backend model for a request and dispatches to it.
//
// The Router is the only component that talks to providers. It picks a model
// from a two-tier Catalog by (complexity, budget), resolves the provider
// instance through a shared Registry, and falls back from the premium tier to
// the free tier once when a call fails.
package model

import (
	"fmt"
	"strings"
)

// Complexity is the caller's estimate of how hard a request is.
type Complexity string

const (
	Low    Complexity = "low"
	Medium Complexity = "medium"
	High   Complexity = "high"
)

// Budget is the spending tier a request may use.
type Budget string

const (
	Free    Budget = "free"
	Premium Budget = "premium"
)

// ModelConfig describes one selectable model.
type ModelConfig struct {
	ID          string  `koanf:"id" json:"id"`
	Provider    string  `koanf:"provider" json:"provider"`
	Model       string  `koanf:"model" json:"model"`
	CostPer1k   float64 `koanf:"cost_per_1k" json:"costPer1k"`
	Personality string  `koanf:"personality" json:"personality"`
	MaxTokens   int     `koanf:"max_tokens" json:"maxTokens,omitempty"`
}

// Catalog groups models into tiers. It is immutable once a Router is built.
type Catalog struct {
	Free    []ModelConfig `koanf:"free"`
	Premium []ModelConfig `koanf:"premium"`
	// FlagshipPatterns are substrings of ModelConfig.Model that mark a premium
	// model as a flagship, eligible for high complexity premium requests.
	FlagshipPatterns []string `koanf:"flagship_patterns"`
}

// DefaultCatalog returns the built-in tiers.
func DefaultCatalog() Catalog {
	return Catalog{
		Free: []ModelConfig{
			{ID: "mixtral-groq", Provider: "groq", Model: "mixtral-8x7b-32768", Personality: "sarcastic"},
			{ID: "llama-local", Provider: "ollama", Model: "llama3.2", Personality: "chaotic"},
			{ID: "gemma-local", Provider: "ollama", Model: "gemma2:2b", Personality: "clinical"},
		},
		Premium: []ModelConfig{
			{ID: "claude-haiku", Provider: "anthropic", Model: "claude-3-haiku-20240307", CostPer1k: 0.25, Personality: "clinical"},
			{ID: "gpt4o-mini", Provider: "openai", Model: "gpt-4o-mini", CostPer1k: 0.15, Personality: "sarcastic"},
			{ID: "claude-opus", Provider: "anthropic", Model: "claude-3-opus-20240229", CostPer1k: 15.0, Personality: "depressed"},
		},
		FlagshipPatterns: []string{"opus", "gpt-4"},
	}
}

// All returns free then premium models in catalog order.
func (c Catalog) All() []ModelConfig {
	out := make([]ModelConfig, 0, len(c.Free)+len(c.Premium))
	out = append(out, c.Free...)
	return append(out, c.Premium...)
}

// Flagships returns the premium models matching a flagship pattern, in catalog order.
func (c Catalog) Flagships() []ModelConfig {
	var out []ModelConfig
	for _, m := range c.Premium {
		for _, p := range c.FlagshipPatterns {
			if p != "" && strings.Contains(m.Model, p) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Validate checks that the free tier is usable and ids are unique.
func (c Catalog) Validate() error {
	if len(c.Free) == 0 {
		return fmt.Errorf("model: catalog has no free tier models")
	}
	seen := map[string]bool{}
	for _, m := range c.All() {
		switch {
		case m.ID == "":
			return fmt.Errorf("model: catalog entry for %s/%s has no id", m.Provider, m.Model)
		case m.Provider == "" || m.Model == "":
			return fmt.Errorf("model: %s needs both provider and model", m.ID)
		case seen[m.ID]:
			return fmt.Errorf("model: duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}
