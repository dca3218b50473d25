// Package config loads claw's settings: built-in defaults, then an optional
// YAML file, then CLAW_ environment variables. A double underscore in a
// variable name separates key levels, so CLAW_MEMORY__CHAR_BUDGET sets
// memory.char_budget.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/memory"
	"github.com/wilhg/claw/pkg/model"
	"github.com/wilhg/claw/pkg/skill/mcpskill"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLAW_"

type Config struct {
	Log       LogConfig                 `koanf:"log"`
	Otel      OtelConfig                `koanf:"otel"`
	HTTP      HTTPConfig                `koanf:"http"`
	Database  DatabaseConfig            `koanf:"database"`
	Models    ModelsConfig              `koanf:"models"`
	Providers map[string]map[string]any `koanf:"providers"`
	Embedding EmbeddingConfig           `koanf:"embedding"`
	Vector    VectorConfig              `koanf:"vector"`
	Memory    MemoryConfig              `koanf:"memory"`
	Agent     AgentConfig               `koanf:"agent"`
	Skills    SkillsConfig              `koanf:"skills"`
	// Prompts replaces built-in prompt bodies by name.
	Prompts map[string]string `koanf:"prompts"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
	Output string `koanf:"output"` // stderr, stdout or a file path
}

type OtelConfig struct {
	ServiceName string `koanf:"service_name"`
	// Stdout exports spans to stdout.
	Stdout bool `koanf:"stdout"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type DatabaseConfig struct {
	// URL is sqlite:<path>, sqlite::memory:, or a postgres URL.
	URL string `koanf:"url"`
}

type ModelsConfig struct {
	Catalog model.Catalog     `koanf:"catalog"`
	Breaker llm.BreakerConfig `koanf:"breaker"`
}

type EmbeddingConfig struct {
	// Provider names a registered embedding factory; empty disables embeddings.
	Provider   string         `koanf:"provider"`
	Dimensions int            `koanf:"dimensions"`
	Options    map[string]any `koanf:"options"`
}

type VectorConfig struct {
	// Provider names a registered vector store factory: memory, qdrant or chromadb.
	Provider string         `koanf:"provider"`
	Options  map[string]any `koanf:"options"`
}

type MemoryConfig struct {
	Threshold  int                   `koanf:"threshold"`
	CharBudget int                   `koanf:"char_budget"`
	Schedule   memory.ScheduleConfig `koanf:"schedule"`
}

type AgentConfig struct {
	MaxIterations int `koanf:"max_iterations"`
	// HistoryTokens caps the session history replayed on direct replies; 0 disables the cap.
	HistoryTokens int `koanf:"history_tokens"`
	// Tokenizer names the tiktoken model used to count history tokens.
	Tokenizer string `koanf:"tokenizer"`
}

type SkillsConfig struct {
	// Workspace is the directory file_read is sandboxed to; empty disables the files skill.
	Workspace string                  `koanf:"workspace"`
	Web       bool                    `koanf:"web"`
	Memory    bool                    `koanf:"memory"`
	MCP       []mcpskill.ServerConfig `koanf:"mcp"`
}

var defaults = map[string]any{
	"log.level":                       "info",
	"log.format":                      "text",
	"log.output":                      "stderr",
	"otel.service_name":               "claw",
	"otel.stdout":                     false,
	"http.addr":                       ":8080",
	"database.url":                    "sqlite:claw.db",
	"models.breaker.max_failures":     5,
	"models.breaker.timeout":          "30s",
	"models.breaker.interval":         "60s",
	"embedding.provider":              "",
	"embedding.dimensions":            384,
	"vector.provider":                 "memory",
	"memory.threshold":                memory.DefaultThreshold,
	"memory.char_budget":              memory.DefaultCharBudget,
	"memory.schedule.schedule":        "@daily",
	"memory.schedule.older_than_days": 7,
	"memory.schedule.min_messages":    memory.DefaultMinMessages,
	"memory.schedule.timeout":         "10m",
	"agent.max_iterations":            5,
	"agent.history_tokens":            3000,
	"agent.tokenizer":                 "gpt-4o-mini",
	"skills.web":                      true,
	"skills.memory":                   true,
}

// Load reads the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.Models.Catalog.Free) == 0 && len(cfg.Models.Catalog.Premium) == 0 {
		patterns := cfg.Models.Catalog.FlagshipPatterns
		cfg.Models.Catalog = model.DefaultCatalog()
		if len(patterns) > 0 {
			cfg.Models.Catalog.FlagshipPatterns = patterns
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks settings Load cannot fix up.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Models.Catalog.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("config: database.url is required"))
	}
	if c.Memory.Threshold <= 0 {
		errs = append(errs, errors.New("config: memory.threshold must be positive"))
	}
	if c.Embedding.Provider != "" && c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("config: embedding.dimensions must be positive"))
	}
	for i, s := range c.Skills.MCP {
		if s.Name == "" || (s.Command == "" && s.URL == "") {
			errs = append(errs, fmt.Errorf("config: skills.mcp[%d] needs a name and a command or url", i))
		}
	}
	return errors.Join(errs...)
}

// ProviderSettings returns the options for one LLM provider, never nil.
func (c *Config) ProviderSettings(name string) map[string]any {
	if s, ok := c.Providers[name]; ok && s != nil {
		return s
	}
	return map[string]any{}
}

// EmbeddingOptions merges the configured dimensions into the embedding options.
func (c *Config) EmbeddingOptions() map[string]any {
	out := map[string]any{"dimensions": c.Embedding.Dimensions}
	for k, v := range c.Embedding.Options {
		out[k] = v
	}
	return out
}

// VectorOptions passes the embedding dimensions to vector stores that size collections.
func (c *Config) VectorOptions() map[string]any {
	out := map[string]any{"dimensions": c.Embedding.Dimensions}
	for k, v := range c.Vector.Options {
		out[k] = v
	}
	return out
}
