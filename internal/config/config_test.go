package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("querywright-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Target.Driver != "duckdb" {
		t.Fatalf("Target.Driver = %q", cfg.Target.Driver)
	}
	if !cfg.Target.ReadOnly {
		t.Fatal("Target.ReadOnly should default to true")
	}
	if cfg.Writer.MaxAttempts != 3 {
		t.Fatalf("Writer.MaxAttempts = %d", cfg.Writer.MaxAttempts)
	}
	if cfg.Writer.ContextExamples != 3 {
		t.Fatalf("Writer.ContextExamples = %d", cfg.Writer.ContextExamples)
	}
	if !cfg.Knowledge.Enabled {
		t.Fatal("Knowledge.Enabled should default to true in dev")
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Fatalf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.EmbedModel != "nomic-embed-text" {
		t.Fatalf("LLM.EmbedModel = %q", cfg.LLM.EmbedModel)
	}
	if cfg.Trainer.TargetPerLevel != 5 {
		t.Fatalf("Trainer.TargetPerLevel = %d", cfg.Trainer.TargetPerLevel)
	}
	if cfg.Miner.Workers != 1 {
		t.Fatalf("Miner.Workers = %d", cfg.Miner.Workers)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYWRIGHT_PROFILE": "prod"})
	cfg, err := Load("querywright-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYWRIGHT_PROFILE":                  "test",
		"QUERYWRIGHT_HTTP_ADDR":                ":9999",
		"QUERYWRIGHT_HTTP_READ_TIMEOUT":        "2s",
		"QUERYWRIGHT_LOG_LEVEL":                "error",
		"QUERYWRIGHT_TARGET_DRIVER":            "postgres",
		"QUERYWRIGHT_TARGET_PATH":              "postgres://example",
		"QUERYWRIGHT_LLM_MODEL":                "gpt-4o-mini",
		"QUERYWRIGHT_LLM_TIMEOUT":              "30s",
		"QUERYWRIGHT_WRITER_MAX_ATTEMPTS":      "5",
		"QUERYWRIGHT_WRITER_ROW_LIMIT":         "200",
		"QUERYWRIGHT_KNOWLEDGE_ENABLED":        "true",
		"QUERYWRIGHT_KNOWLEDGE_PATH":           "/tmp/kb.db",
		"QUERYWRIGHT_SERVICE_NAME":             "querywright-custom",
		"QUERYWRIGHT_TRAINER_TARGET_PER_LEVEL": "25",
	})
	cfg, err := Load("querywright-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querywright-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Target.Driver != "postgres" {
		t.Fatalf("Target.Driver = %q", cfg.Target.Driver)
	}
	if cfg.Target.Path != "postgres://example" {
		t.Fatalf("Target.Path = %q", cfg.Target.Path)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Fatalf("LLM.Timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Writer.MaxAttempts != 5 {
		t.Fatalf("Writer.MaxAttempts = %d", cfg.Writer.MaxAttempts)
	}
	if cfg.Writer.RowLimit != 200 {
		t.Fatalf("Writer.RowLimit = %d", cfg.Writer.RowLimit)
	}
	if !cfg.Knowledge.Enabled {
		t.Fatal("Knowledge.Enabled should be overridable to true")
	}
	if cfg.Knowledge.Path != "/tmp/kb.db" {
		t.Fatalf("Knowledge.Path = %q", cfg.Knowledge.Path)
	}
	if cfg.Trainer.TargetPerLevel != 25 {
		t.Fatalf("Trainer.TargetPerLevel = %d", cfg.Trainer.TargetPerLevel)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYWRIGHT_PROFILE": "staging"})
	if _, err := Load("querywright-api", lookup); err == nil {
		t.Fatal("Load() expected error for invalid profile")
	}
}

func TestLoadRejectsInvalidTargetDriver(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYWRIGHT_TARGET_DRIVER": "mysql"})
	if _, err := Load("querywright-api", lookup); err == nil {
		t.Fatal("Load() expected error for unsupported target driver")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYWRIGHT_LLM_TIMEOUT": "soon"})
	if _, err := Load("querywright-api", lookup); err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
