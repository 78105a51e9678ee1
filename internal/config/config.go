// Package config loads configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server and CLI configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Source-tree provider
	GitHubAPIURL  string        `yaml:"github_api_url"`
	GitHubToken   string        `yaml:"github_token"`
	GitHubTimeout time.Duration `yaml:"github_timeout"`

	// LLM provider ("gemini" or "openai")
	LLMProvider       string        `yaml:"llm_provider"`
	LLMAPIKey         string        `yaml:"llm_api_key"`
	LLMBaseURL        string        `yaml:"llm_base_url"`
	LLMModels         []string      `yaml:"llm_models"`
	LLMMaxAttempts    int           `yaml:"llm_max_attempts"`
	LLMInitialBackoff time.Duration `yaml:"llm_initial_backoff"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"`

	// Prompt budgets
	OutlineMaxDepth    int `yaml:"outline_max_depth"`
	OutlineMaxItems    int `yaml:"outline_max_items"`
	AnalysisCharBudget int `yaml:"analysis_char_budget"`
	QuestionCharBudget int `yaml:"question_char_budget"`
	FindPathLimit      int `yaml:"find_path_limit"`

	// Graph
	GraphDepth int `yaml:"graph_depth"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:         ":8080",
		MetricsAddr:        ":9090",
		LogLevel:           "info",
		LogFormat:          "json",
		GitHubAPIURL:       "https://api.github.com",
		GitHubTimeout:      30 * time.Second,
		LLMProvider:        "gemini",
		LLMBaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		LLMModels:          []string{"gemini-2.0-flash", "gemini-1.5-flash"},
		LLMMaxAttempts:     3,
		LLMInitialBackoff:  2 * time.Second,
		LLMTimeout:         60 * time.Second,
		OutlineMaxDepth:    2,
		OutlineMaxItems:    50,
		AnalysisCharBudget: 40000,
		QuestionCharBudget: 30000,
		FindPathLimit:      1000,
		GraphDepth:         2,
	}
}

// Load reads configuration: defaults, then the YAML file named by
// ASTRO_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ASTRO_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envOr("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)
	cfg.GitHubAPIURL = envOr("GITHUB_API_URL", cfg.GitHubAPIURL)
	cfg.GitHubToken = envOr("GITHUB_TOKEN", cfg.GitHubToken)
	cfg.GitHubTimeout = envDuration("GITHUB_TIMEOUT", cfg.GitHubTimeout)
	cfg.LLMProvider = strings.ToLower(envOr("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMBaseURL = envOr("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMModels = envList("LLM_MODELS", cfg.LLMModels)
	cfg.LLMMaxAttempts = envInt("LLM_MAX_ATTEMPTS", cfg.LLMMaxAttempts)
	cfg.LLMInitialBackoff = envDuration("LLM_INITIAL_BACKOFF", cfg.LLMInitialBackoff)
	cfg.LLMTimeout = envDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.OutlineMaxDepth = envInt("OUTLINE_MAX_DEPTH", cfg.OutlineMaxDepth)
	cfg.OutlineMaxItems = envInt("OUTLINE_MAX_ITEMS", cfg.OutlineMaxItems)
	cfg.AnalysisCharBudget = envInt("ANALYSIS_CHAR_BUDGET", cfg.AnalysisCharBudget)
	cfg.QuestionCharBudget = envInt("QUESTION_CHAR_BUDGET", cfg.QuestionCharBudget)
	cfg.FindPathLimit = envInt("FIND_PATH_LIMIT", cfg.FindPathLimit)
	cfg.GraphDepth = envInt("GRAPH_DEPTH", cfg.GraphDepth)

	cfg.LLMAPIKey = envOr("LLM_API_KEY", cfg.LLMAPIKey)
	if cfg.LLMAPIKey == "" {
		switch cfg.LLMProvider {
		case "gemini":
			cfg.LLMAPIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with. A missing
// LLM key is allowed; questions then answer with the missing-key message.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini or openai, got %q", c.LLMProvider)
	}
	if len(c.LLMModels) == 0 {
		return fmt.Errorf("LLM_MODELS must name at least one model")
	}
	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be positive")
	}
	for name, v := range map[string]int{
		"OUTLINE_MAX_ITEMS":    c.OutlineMaxItems,
		"ANALYSIS_CHAR_BUDGET": c.AnalysisCharBudget,
		"QUESTION_CHAR_BUDGET": c.QuestionCharBudget,
		"FIND_PATH_LIMIT":      c.FindPathLimit,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.OutlineMaxDepth < 0 {
		return fmt.Errorf("OUTLINE_MAX_DEPTH must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
