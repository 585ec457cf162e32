package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Clover    CloverConfig
	Retry     RetryConfig
	Sync      SyncConfig
	Store     StoreConfig
	Redis     RedisConfig
	Realtime  RealtimeConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// CloverConfig holds the point-of-sale API credentials and client settings
type CloverConfig struct {
	APIKey            string
	MerchantID        string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// RetryConfig holds the backoff applied to rate-limited upstream calls
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// SyncConfig controls which orders are displayed
type SyncConfig struct {
	WindowSize        int
	Timezone          string
	TimeLayout        string
	EnrichConcurrency int
}

// Snapshot backends
const (
	StoreBackendFile  = "file"
	StoreBackendRedis = "redis"
)

// StoreConfig selects where the completion snapshot is kept
type StoreConfig struct {
	Backend  string // file or redis
	Path     string // snapshot file for the file backend
	RedisKey string // key for the redis backend
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RealtimeConfig holds push channel settings
type RealtimeConfig struct {
	Heartbeat      time.Duration
	PongWait       time.Duration
	ClientBuffer   int
	MaxClients     int
	AllowedOrigins []string
}

// HTTPConfig holds HTTP server configuration. A zero WriteTimeout keeps
// streaming responses open.
type HTTPConfig struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	MaxHeaderBytes     int
	MaxBodySize        int64
	RateLimitEnabled   bool
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowOrigins   []string
	TrustedProxies     []string
	StaticDir          string
	SecurityHeaders    bool
	SecurityEnableHSTS bool
}

// TelemetryConfig holds OpenTelemetry and Prometheus configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool    // Serve /metrics
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with KDS_ prefix (e.g., KDS_CLOVER_API_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file; an empty path searches "."
// and "/app" for config.toml
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("KDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// unprefixed credential names are still honoured
	_ = v.BindEnv("clover.api_key", "KDS_CLOVER_API_KEY", "API_KEY")
	_ = v.BindEnv("clover.merchant_id", "KDS_CLOVER_MERCHANT_ID", "MERCHANT_ID")

	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Clover: CloverConfig{
			APIKey:            v.GetString("clover.api_key"),
			MerchantID:        v.GetString("clover.merchant_id"),
			BaseURL:           v.GetString("clover.base_url"),
			Timeout:           v.GetDuration("clover.timeout"),
			RequestsPerSecond: v.GetFloat64("clover.requests_per_second"),
			Burst:             v.GetInt("clover.burst"),
		},
		Retry: RetryConfig{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: v.GetDuration("retry.initial_delay"),
			Multiplier:   v.GetFloat64("retry.multiplier"),
		},
		Sync: SyncConfig{
			WindowSize:        v.GetInt("sync.window_size"),
			Timezone:          v.GetString("sync.timezone"),
			TimeLayout:        v.GetString("sync.time_layout"),
			EnrichConcurrency: v.GetInt("sync.enrich_concurrency"),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(v.GetString("store.backend")),
			Path:     v.GetString("store.path"),
			RedisKey: v.GetString("store.redis_key"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Realtime: RealtimeConfig{
			Heartbeat:      v.GetDuration("realtime.heartbeat"),
			PongWait:       v.GetDuration("realtime.pong_wait"),
			ClientBuffer:   v.GetInt("realtime.client_buffer"),
			MaxClients:     v.GetInt("realtime.max_clients"),
			AllowedOrigins: stringSlice(v, "realtime.allowed_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:        v.GetDuration("http.read_timeout"),
			WriteTimeout:       v.GetDuration("http.write_timeout"),
			IdleTimeout:        v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:    v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:     v.GetInt("http.max_header_bytes"),
			MaxBodySize:        v.GetInt64("http.max_body_size"),
			RateLimitEnabled:   v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:       v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:     v.GetInt("http.rate_limit_burst"),
			CORSAllowOrigins:   stringSlice(v, "http.cors_allow_origins"),
			TrustedProxies:     stringSlice(v, "http.trusted_proxies"),
			StaticDir:          v.GetString("http.static_dir"),
			SecurityHeaders:    v.GetBool("http.security_headers"),
			SecurityEnableHSTS: v.GetBool("http.security_enable_hsts"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers the built-in defaults
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kds-backend")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "5000")
	v.SetDefault("app.version", "dev")

	v.SetDefault("clover.base_url", "https://api.clover.com")
	v.SetDefault("clover.timeout", 30*time.Second)
	v.SetDefault("clover.requests_per_second", 8)
	v.SetDefault("clover.burst", 4)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("sync.window_size", 10)
	v.SetDefault("sync.timezone", "America/New_York")
	v.SetDefault("sync.time_layout", "01/02/2006 03:04 PM")
	v.SetDefault("sync.enrich_concurrency", 1)

	v.SetDefault("store.backend", StoreBackendFile)
	v.SetDefault("store.path", "completed_orders.json")
	v.SetDefault("store.redis_key", "kds:completed_orders")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("realtime.heartbeat", 30*time.Second)
	v.SetDefault("realtime.pong_wait", 60*time.Second)
	v.SetDefault("realtime.client_buffer", 64)
	v.SetDefault("realtime.max_clients", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_header_bytes", 1<<20)
	v.SetDefault("http.max_body_size", 64<<10)
	v.SetDefault("http.rate_limit_enabled", true)
	v.SetDefault("http.rate_limit_rps", 20)
	v.SetDefault("http.rate_limit_burst", 40)
	v.SetDefault("http.security_headers", true)

	v.SetDefault("telemetry.collector_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.service_name", "kds-backend")
	v.SetDefault("telemetry.metrics_enabled", true)
}

// stringSlice reads a list that may come from TOML as an array or from the
// environment as a comma-separated string
func stringSlice(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// IsProduction reports whether the app runs in the production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreBackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	case StoreBackendRedis:
		if c.Store.RedisKey == "" {
			return fmt.Errorf("store.redis_key is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreBackendFile, StoreBackendRedis, c.Store.Backend)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Sync.WindowSize <= 0 {
		return fmt.Errorf("sync.window_size must be positive")
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("sync.timezone %q: %w", c.Sync.Timezone, err)
	}
	if c.HTTP.RateLimitEnabled && c.HTTP.RateLimitRPS <= 0 {
		return fmt.Errorf("http.rate_limit_rps must be positive when rate limiting is enabled")
	}

	// Production-specific validations
	if c.IsProduction() {
		if c.Clover.APIKey == "" {
			return fmt.Errorf("clover.api_key is required in production")
		}
		if c.Clover.MerchantID == "" {
			return fmt.Errorf("clover.merchant_id is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}
