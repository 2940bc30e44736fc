package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "parley.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PARLEY_PORT")
	setString(&cfg.Server.CORSOrigin, "PARLEY_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PARLEY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PARLEY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PARLEY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PARLEY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PARLEY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Groq.APIKey, "GROQ_API_KEY")
	setString(&cfg.Groq.BaseURL, "GROQ_BASE_URL")
	setString(&cfg.Groq.ChatModel, "PARLEY_CHAT_MODEL")
	setString(&cfg.Groq.EmbeddingModel, "PARLEY_EMBEDDING_MODEL")
	setInt(&cfg.Groq.MaxTokens, "PARLEY_LLM_MAX_TOKENS")
	setInt(&cfg.Groq.MaxRetries, "PARLEY_LLM_MAX_RETRIES")
	setDuration(&cfg.Groq.RequestTimeout, "PARLEY_LLM_TIMEOUT")
	setBool(&cfg.Groq.EnableEmbedding, "PARLEY_LLM_EMBEDDINGS")
	setInt64(&cfg.Cache.MaxSizeMB, "PARLEY_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.InsightsTTL, "PARLEY_INSIGHTS_TTL")
	setString(&cfg.Logging.Level, "PARLEY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PARLEY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PARLEY_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "PARLEY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PARLEY_BREAKER_TIMEOUT")
	setBool(&cfg.Telemetry.Enabled, "PARLEY_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "PARLEY_OTEL_ENDPOINT")
	setInt64(&cfg.Limits.MaxRequestBodySize, "PARLEY_MAX_BODY_SIZE")
	setInt(&cfg.Limits.QueryMaxResults, "PARLEY_QUERY_MAX_RESULTS")
	setFloat64(&cfg.Limits.RateLimitRPS, "PARLEY_RATE_LIMIT_RPS")
	setInt(&cfg.Limits.RateLimitBurst, "PARLEY_RATE_LIMIT_BURST")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Groq.ChatModel == "" {
		return errors.New("groq.chat_model is required")
	}
	if cfg.Groq.EnableEmbedding && cfg.Groq.EmbeddingModel == "" {
		return errors.New("groq.embedding_model is required when embeddings are enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Limits.MaxRequestBodySize < 1 {
		return errors.New("limits.max_request_body_size must be >= 1")
	}
	if cfg.Limits.QueryMaxResults < 1 {
		return errors.New("limits.query_max_results must be >= 1")
	}
	if cfg.Limits.RateLimitRPS > 0 && cfg.Limits.RateLimitBurst < 1 {
		return errors.New("limits.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
