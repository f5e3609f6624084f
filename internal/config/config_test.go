package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "RAG_TOP_K", "ROUTING_TRIGGER_TERMS", "CONFIDENCE_MIN_CHARS", "QDRANT_RETIRE_DELAY_SECONDS", "INGEST_MODE"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())

	cfg := Load()
	if cfg.ChunkSize != 500 || cfg.ChunkOverlap != 50 {
		t.Fatalf("unexpected chunk defaults %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.RAGTopK != 3 || cfg.ConfidenceMinChars != 200 {
		t.Fatalf("unexpected retrieval defaults k=%d min=%d", cfg.RAGTopK, cfg.ConfidenceMinChars)
	}
	if !reflect.DeepEqual(cfg.RoutingTriggerTerms, []string{"latest", "current", "news", "2024", "2025"}) {
		t.Fatalf("unexpected trigger terms: %v", cfg.RoutingTriggerTerms)
	}
	if cfg.QdrantRetireDelay != 30*time.Second {
		t.Fatalf("unexpected retire delay %v", cfg.QdrantRetireDelay)
	}
	if cfg.IngestMode != IngestModeQueue {
		t.Fatalf("unexpected ingest mode %q", cfg.IngestMode)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ROUTING_TRIGGER_TERMS", " breaking , today ,,")
	t.Setenv("CONFIDENCE_MIN_SCORE", "0.75")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("INDEX_BACKEND", "MEMORY")
	t.Setenv("RAG_TOP_K", "not-a-number")
	t.Chdir(t.TempDir())

	cfg := Load()
	if !reflect.DeepEqual(cfg.RoutingTriggerTerms, []string{"breaking", "today"}) {
		t.Fatalf("unexpected trigger terms: %v", cfg.RoutingTriggerTerms)
	}
	if cfg.ConfidenceMinScore != 0.75 || cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("unexpected float overrides: %v %v", cfg.ConfidenceMinScore, cfg.APIRateLimitRPS)
	}
	if cfg.IndexBackend != IndexBackendMemory {
		t.Fatalf("expected lower-cased backend, got %q", cfg.IndexBackend)
	}
	if cfg.RAGTopK != 3 {
		t.Fatalf("invalid ints must fall back to the default, got %d", cfg.RAGTopK)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SERPER_API_KEY=from-dotenv\nGROQ_API_KEY=groq-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("SERPER_API_KEY", "")
	if err := os.Unsetenv("SERPER_API_KEY"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	t.Setenv("GROQ_API_KEY", "from-env")

	cfg := Load()
	if cfg.SerperAPIKey != "from-dotenv" {
		t.Fatalf("expected key from .env, got %q", cfg.SerperAPIKey)
	}
	if cfg.GroqAPIKey != "from-env" {
		t.Fatalf("environment must win over .env, got %q", cfg.GroqAPIKey)
	}
}

func validConfig() Config {
	return Config{
		IngestMode:        IngestModeQueue,
		IndexBackend:      IndexBackendQdrant,
		GeneratorProvider: GeneratorGroq,
		GroqAPIKey:        "key",
		ConfidencePolicy:  ConfidenceLength,
		ChunkSize:         500,
		ChunkOverlap:      50,
		RAGTopK:           3,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "memory with queue", mutate: func(c *Config) { c.IndexBackend = IndexBackendMemory }, want: "requires INGEST_MODE=inline"},
		{name: "unknown backend", mutate: func(c *Config) { c.IndexBackend = "faiss" }, want: "INDEX_BACKEND"},
		{name: "missing groq key", mutate: func(c *Config) { c.GroqAPIKey = "" }, want: "GROQ_API_KEY"},
		{name: "overlap too large", mutate: func(c *Config) { c.ChunkOverlap = 500 }, want: "CHUNK_OVERLAP"},
		{name: "unknown policy", mutate: func(c *Config) { c.ConfidencePolicy = "vibes" }, want: "CONFIDENCE_POLICY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	inline := validConfig()
	inline.IndexBackend = IndexBackendMemory
	inline.IngestMode = IngestModeInline
	inline.GeneratorProvider = GeneratorOllama
	inline.GroqAPIKey = ""
	if err := inline.Validate(); err != nil {
		t.Fatalf("inline memory config must be valid, got %v", err)
	}
}

func TestTriggerTermsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	if err := os.WriteFile(path, []byte("terms:\n  - latest\n  - breaking\n"), 0o600); err != nil {
		t.Fatalf("write triggers: %v", err)
	}

	cfg := Config{RoutingTriggerTerms: []string{"ignored"}, RoutingTriggersFile: path}
	terms, err := cfg.TriggerTerms()
	if err != nil {
		t.Fatalf("TriggerTerms() error = %v", err)
	}
	if !reflect.DeepEqual(terms, []string{"latest", "breaking"}) {
		t.Fatalf("unexpected terms: %v", terms)
	}

	cfg.RoutingTriggersFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.TriggerTerms(); err == nil {
		t.Fatalf("expected read error")
	}
}
