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
	Store         StoreConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Retry         RetryConfig
	Cooldown      CooldownConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	SessionIdleTTL time.Duration
	MaxSessions    int
}

type StoreConfig struct {
	Path string
	// Source is a local file path, or an object key when SourceFromObjectStore
	// is set.
	Source                string
	SourceFormat          string
	SourceFromObjectStore bool
	ExportKey             string
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

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type CooldownConfig struct {
	Duration time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("HEALTHCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid HEALTHCHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "HEALTHCHAT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "HEALTHCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyFloat(lookup, "HEALTHCHAT_HTTP_RATE_LIMIT_RPS", &cfg.HTTP.RateLimitRPS) },
		func() error { return applyInt(lookup, "HEALTHCHAT_HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimitBurst) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_HTTP_SESSION_IDLE_TTL", &cfg.HTTP.SessionIdleTTL) },
		func() error { return applyInt(lookup, "HEALTHCHAT_HTTP_MAX_SESSIONS", &cfg.HTTP.MaxSessions) },
		func() error { return applyString(lookup, "HEALTHCHAT_STORE_PATH", &cfg.Store.Path) },
		func() error { return applyString(lookup, "HEALTHCHAT_STORE_SOURCE", &cfg.Store.Source) },
		func() error { return applyString(lookup, "HEALTHCHAT_STORE_SOURCE_FORMAT", &cfg.Store.SourceFormat) },
		func() error {
			return applyBool(lookup, "HEALTHCHAT_STORE_SOURCE_FROM_OBJECTSTORE", &cfg.Store.SourceFromObjectStore)
		},
		func() error { return applyString(lookup, "HEALTHCHAT_STORE_EXPORT_KEY", &cfg.Store.ExportKey) },
		func() error { return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "HEALTHCHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "HEALTHCHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "HEALTHCHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "HEALTHCHAT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "HEALTHCHAT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "HEALTHCHAT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "HEALTHCHAT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "HEALTHCHAT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "HEALTHCHAT_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay) },
		func() error { return applyDuration(lookup, "HEALTHCHAT_COOLDOWN", &cfg.Cooldown.Duration) },
		func() error { return applyBool(lookup, "HEALTHCHAT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "HEALTHCHAT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Store.Path == "" {
		return Config{}, fmt.Errorf("store path is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("retry max attempts must be > 0")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return Config{}, fmt.Errorf("retry base delay must be > 0")
	}
	if cfg.Cooldown.Duration <= 0 {
		return Config{}, fmt.Errorf("cooldown must be > 0")
	}
	switch cfg.Store.SourceFormat {
	case "", "csv", "parquet":
	default:
		return Config{}, fmt.Errorf("invalid HEALTHCHAT_STORE_SOURCE_FORMAT: %q", cfg.Store.SourceFormat)
	}
	switch cfg.AI.Provider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("invalid HEALTHCHAT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	return cfg, nil
}

// TurnBudget is the longest a single chat turn can block on translation:
// every attempt hitting the model timeout, the full backoff schedule and the
// maximum jitter between attempts.
func (c Config) TurnBudget() time.Duration {
	attempts := c.Retry.MaxAttempts
	if attempts <= 0 {
		return c.AI.Timeout
	}
	budget := time.Duration(attempts) * c.AI.Timeout
	for n := 0; n < attempts-1; n++ {
		budget += c.Retry.BaseDelay<<uint(n) + time.Second
	}
	return budget
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "healthchat-api"},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    5 * time.Second,
			// Must cover TurnBudget: six 15s model calls plus backoff and jitter.
			WriteTimeout:   150 * time.Second,
			IdleTimeout:    60 * time.Second,
			RateLimitRPS:   2,
			RateLimitBurst: 5,
			SessionIdleTTL: 30 * time.Minute,
			MaxSessions:    10000,
		},
		Store: StoreConfig{
			Path:         "health.duckdb",
			Source:       "data.csv",
			SourceFormat: "",
			ExportKey:    "exports/health_metrics.parquet",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "",
			Region:           "us-east-1",
			Bucket:           "healthchat",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		AI: AIConfig{
			Provider:    "gemini",
			BaseURL:     "",
			Model:       "gemini-2.5-flash",
			Temperature: 0,
			Timeout:     15 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 6,
			BaseDelay:   500 * time.Millisecond,
		},
		Cooldown: CooldownConfig{
			Duration: 8 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
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
