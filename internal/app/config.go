package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	// Backing store. DBDriver is "sqlite" or "postgres".
	DBDriver string
	DBDSN    string

	RegistryTTL time.Duration
	SeedFile    string

	ProviderTimeoutSecs int
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	AnthropicAPIKey     string
	AnthropicBaseURL    string
	// OpenAI-compatible endpoints (vLLM, Ollama) as id=url pairs.
	CompatEndpoints map[string]string

	CORSOrigins []string // empty = ["*"]

	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64

	StatsSeedWindow time.Duration

	IdempotencyTTL        time.Duration
	IdempotencyMaxEntries int
}

// LoadEnvFiles loads .env files that exist, earlier files taking precedence.
// Variables already set in the environment are never overridden.
func LoadEnvFiles(files ...string) []string {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MODELHUB_LISTEN_ADDR", ":8090"),
		LogLevel:   getEnv("MODELHUB_LOG_LEVEL", "info"),
		LogFormat:  getEnv("MODELHUB_LOG_FORMAT", "json"),

		DBDriver: strings.ToLower(getEnv("MODELHUB_DB_DRIVER", "sqlite")),
		DBDSN:    getEnv("MODELHUB_DB_DSN", "file:/data/modelhub.sqlite"),

		RegistryTTL: getEnvDuration("MODELHUB_REGISTRY_TTL", 5*time.Minute),
		SeedFile:    getEnv("MODELHUB_SEED_FILE", ""),

		ProviderTimeoutSecs: getEnvInt("MODELHUB_PROVIDER_TIMEOUT_SECS", 30),
		OpenAIAPIKey:        getEnv("MODELHUB_OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("MODELHUB_OPENAI_BASE_URL", "https://api.openai.com"),
		AnthropicAPIKey:     getEnv("MODELHUB_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:    getEnv("MODELHUB_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		CompatEndpoints:     getEnvPairs("MODELHUB_COMPAT_ENDPOINTS"),

		CORSOrigins: getEnvStringSlice("MODELHUB_CORS_ORIGINS", nil),

		OTelEnabled:     getEnvBool("MODELHUB_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("MODELHUB_OTEL_ENDPOINT", "localhost:4318"),
		OTelSampleRatio: getEnvFloat("MODELHUB_OTEL_SAMPLE_RATIO", 1),

		StatsSeedWindow: getEnvDuration("MODELHUB_STATS_SEED_WINDOW", 24*time.Hour),

		IdempotencyTTL:        getEnvDuration("MODELHUB_IDEMPOTENCY_TTL", 10*time.Minute),
		IdempotencyMaxEntries: getEnvInt("MODELHUB_IDEMPOTENCY_MAX_ENTRIES", 10000),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("MODELHUB_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("MODELHUB_DB_DSN must be set")
	}
	if c.RegistryTTL <= 0 {
		return fmt.Errorf("MODELHUB_REGISTRY_TTL must be > 0, got %s", c.RegistryTTL)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("MODELHUB_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("MODELHUB_OTEL_SAMPLE_RATIO must be within [0, 1], got %g", c.OTelSampleRatio)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or bare milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

// getEnvPairs parses "a=x,b=y" into a map. Malformed entries are skipped.
func getEnvPairs(key string) map[string]string {
	out := map[string]string{}
	for _, item := range getEnvStringSlice(key, nil) {
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
