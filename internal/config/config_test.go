package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ASTRO_CONFIG", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != "gemini" || cfg.LLMAPIKey != "g-key" {
		t.Errorf("provider=%q key=%q", cfg.LLMProvider, cfg.LLMAPIKey)
	}
	if cfg.LLMMaxAttempts != 3 || cfg.LLMInitialBackoff != 2*time.Second {
		t.Errorf("retry defaults = %d, %v", cfg.LLMMaxAttempts, cfg.LLMInitialBackoff)
	}
	if cfg.OutlineMaxDepth != 2 || cfg.OutlineMaxItems != 50 {
		t.Errorf("outline defaults = %d, %d", cfg.OutlineMaxDepth, cfg.OutlineMaxItems)
	}
	if cfg.AnalysisCharBudget != 40000 || cfg.QuestionCharBudget != 30000 || cfg.FindPathLimit != 1000 {
		t.Errorf("budgets = %d, %d, %d", cfg.AnalysisCharBudget, cfg.QuestionCharBudget, cfg.FindPathLimit)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "astro.yaml")
	data := []byte("llm_provider: openai\nllm_models: [gpt-4o-mini]\noutline_max_items: 20\nlisten_addr: \":7000\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ASTRO_CONFIG", path)
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_MODELS", "")
	t.Setenv("OUTLINE_MAX_ITEMS", "")
	t.Setenv("LISTEN_ADDR", ":7100")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != "openai" || cfg.LLMModels[0] != "gpt-4o-mini" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.OutlineMaxItems != 20 {
		t.Errorf("OutlineMaxItems = %d", cfg.OutlineMaxItems)
	}
	if cfg.ListenAddr != ":7100" {
		t.Errorf("env should override file, got %q", cfg.ListenAddr)
	}
	if cfg.LLMAPIKey != "o-key" {
		t.Errorf("LLMAPIKey = %q", cfg.LLMAPIKey)
	}
}

func TestLoad_EnvList(t *testing.T) {
	t.Setenv("ASTRO_CONFIG", "")
	t.Setenv("LLM_MODELS", " a , b,,c ")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.LLMModels) != 3 || cfg.LLMModels[0] != "a" || cfg.LLMModels[2] != "c" {
		t.Errorf("LLMModels = %q", cfg.LLMModels)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.LLMProvider = "bard" }, false},
		{"no models", func(c *Config) { c.LLMModels = nil }, false},
		{"zero attempts", func(c *Config) { c.LLMMaxAttempts = 0 }, false},
		{"zero items", func(c *Config) { c.OutlineMaxItems = 0 }, false},
		{"negative depth", func(c *Config) { c.OutlineMaxDepth = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("ASTRO_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
