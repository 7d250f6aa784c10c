package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Target        TargetConfig
	LLM           LLMConfig
	Writer        WriterConfig
	Knowledge     KnowledgeConfig
	ObjectStore   ObjectStoreConfig
	Trainer       TrainerConfig
	Miner         MinerConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TargetConfig describes the database queries are written against.
// Driver is "duckdb" (Path points at a database file) or "postgres"
// (Path holds a DSN).
type TargetConfig struct {
	Driver   string
	Path     string
	ReadOnly bool
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

type WriterConfig struct {
	MaxAttempts     int
	ContextExamples int
	RowLimit        int
}

type KnowledgeConfig struct {
	Enabled bool
	Path    string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type TrainerConfig struct {
	TargetPerLevel int
	MaxConsecutive int
	GeneratorModel string
}

type MinerConfig struct {
	Workers       int
	FetchTimeout  time.Duration
	MinSnippetLen int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYWRIGHT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYWRIGHT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "QUERYWRIGHT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYWRIGHT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYWRIGHT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYWRIGHT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_TARGET_DRIVER", &cfg.Target.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_TARGET_PATH", &cfg.Target.Path); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_TARGET_READ_ONLY", &cfg.Target.ReadOnly); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_LLM_BASE_URL", &cfg.LLM.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_LLM_API_KEY", &cfg.LLM.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_LLM_MODEL", &cfg.LLM.Model); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_LLM_EMBED_MODEL", &cfg.LLM.EmbedModel); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUERYWRIGHT_LLM_TEMPERATURE", &cfg.LLM.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYWRIGHT_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_WRITER_MAX_ATTEMPTS", &cfg.Writer.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_WRITER_CONTEXT_EXAMPLES", &cfg.Writer.ContextExamples); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_WRITER_ROW_LIMIT", &cfg.Writer.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_KNOWLEDGE_ENABLED", &cfg.Knowledge.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_KNOWLEDGE_PATH", &cfg.Knowledge.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_TRAINER_TARGET_PER_LEVEL", &cfg.Trainer.TargetPerLevel); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_TRAINER_MAX_CONSECUTIVE_FAILS", &cfg.Trainer.MaxConsecutive); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_TRAINER_GENERATOR_MODEL", &cfg.Trainer.GeneratorModel); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_MINER_WORKERS", &cfg.Miner.Workers); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYWRIGHT_MINER_FETCH_TIMEOUT", &cfg.Miner.FetchTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYWRIGHT_MINER_MIN_SNIPPET_LEN", &cfg.Miner.MinSnippetLen); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYWRIGHT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYWRIGHT_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYWRIGHT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Target.Driver != "duckdb" && cfg.Target.Driver != "postgres" {
		return Config{}, fmt.Errorf("invalid QUERYWRIGHT_TARGET_DRIVER: %q", cfg.Target.Driver)
	}
	if cfg.Writer.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("QUERYWRIGHT_WRITER_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querywright-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Target: TargetConfig{
			Driver:   "duckdb",
			Path:     "bike_store.db",
			ReadOnly: true,
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "deepseek-coder:6.7b-base-q4_K_M",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.1,
			Timeout:     120 * time.Second,
		},
		Writer: WriterConfig{
			MaxAttempts:     3,
			ContextExamples: 3,
			RowLimit:        0,
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			Path:    "data/knowledge.db",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querywright",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "knowledge",
			AutoCreateBucket: true,
		},
		Trainer: TrainerConfig{
			TargetPerLevel: 5,
			MaxConsecutive: 10,
			GeneratorModel: "mistral:7b-instruct-q4_K_M",
		},
		Miner: MinerConfig{
			Workers:       1,
			FetchTimeout:  10 * time.Second,
			MinSnippetLen: 50,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Knowledge.Enabled = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
