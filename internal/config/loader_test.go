package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Groq.ChatModel != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected default chat model: %q", cfg.Groq.ChatModel)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	yaml := "server:\n  port: \"9090\"\ngroq:\n  max_tokens: 512\ncache:\n  insights_ttl: 90s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Groq.MaxTokens != 512 {
		t.Fatalf("expected max_tokens 512, got %d", cfg.Groq.MaxTokens)
	}
	if cfg.Cache.InsightsTTL != 90*time.Second {
		t.Fatalf("expected 90s insights ttl, got %v", cfg.Cache.InsightsTTL)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARLEY_PORT", "7070")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("PARLEY_BREAKER_MAX_FAILURES", "3")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env to win, got port %q", cfg.Server.Port)
	}
	if cfg.Groq.APIKey != "gsk_test" {
		t.Fatalf("expected api key from env, got %q", cfg.Groq.APIKey)
	}
	if cfg.Breaker.MaxFailures != 3 {
		t.Fatalf("expected 3 max failures, got %d", cfg.Breaker.MaxFailures)
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidateRejectsEmbeddingWithoutModel(t *testing.T) {
	cfg := Defaults()
	cfg.Groq.EnableEmbedding = true
	cfg.Groq.EmbeddingModel = ""

	if err := validate(&cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsZeroMaxResults(t *testing.T) {
	cfg := Defaults()
	cfg.Limits.QueryMaxResults = 0

	if err := validate(&cfg); err == nil {
		t.Fatal("expected validation error")
	}
}
