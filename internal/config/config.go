// AngelaMos | 2026
// config.go

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Auth      AuthConfig      `koanf:"auth"`
	Processor ProcessorConfig `koanf:"processor"`
	Billing   BillingConfig   `koanf:"billing"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	SiteURL     string `koanf:"site_url"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig points at the profile store. The URL must carry the
// service role credential, which bypasses row level security.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// RedisConfig backs the webhook event ledger and the rate limiters. Both
// fail open, so OpTimeout bounds how long a slow Redis can stall a request.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	ClientName   string        `koanf:"client_name"`
	OpTimeout    time.Duration `koanf:"op_timeout"`
}

// AuthConfig describes the external identity provider. Bearer tokens are
// verified by calling its user-info endpoint, never decoded locally.
type AuthConfig struct {
	UserInfoURL string        `koanf:"user_info_url"`
	APIKey      string        `koanf:"api_key"`
	Timeout     time.Duration `koanf:"timeout"`
}

type ProcessorConfig struct {
	BaseURL          string            `koanf:"base_url"`
	SecretKey        string            `koanf:"secret_key"`
	WebhookSecret    string            `koanf:"webhook_secret"`
	WebhookTolerance time.Duration     `koanf:"webhook_tolerance"`
	Timeout          time.Duration     `koanf:"timeout"`
	Currency         string            `koanf:"currency"`
	PriceIDs         map[string]string `koanf:"price_ids"`
	PriceIDsJSON     string            `koanf:"price_ids_json"`
}

type BillingConfig struct {
	SuccessPath      string           `koanf:"success_path"`
	CancelPath       string           `koanf:"cancel_path"`
	PortalReturnPath string           `koanf:"portal_return_path"`
	SweepInterval    time.Duration    `koanf:"sweep_interval"`
	SweepBatchSize   int              `koanf:"sweep_batch_size"`
	EventTTL         time.Duration    `koanf:"event_ttl"`
	Amounts          map[string]int64 `koanf:"amounts"`
}

// RateLimitConfig limits all API traffic per client address. The seller
// limits apply on top to billing actions that reach the processor.
type RateLimitConfig struct {
	Requests       int           `koanf:"requests"`
	Window         time.Duration `koanf:"window"`
	Burst          int           `koanf:"burst"`
	SellerRequests int           `koanf:"seller_requests"`
	SellerBurst    int           `koanf:"seller_burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		c, err := load(configPath)
		if err != nil {
			loadErr = err
			return
		}
		cfg = c
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.Processor.mergePriceOverrides(); err != nil {
		return nil, fmt.Errorf("parse price overrides: %w", err)
	}

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "Seller Billing",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.site_url":    "http://localhost:3000",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,
		"redis.client_name":    "seller-billing",
		"redis.op_timeout":     "500ms",

		"auth.timeout": "10s",

		"processor.base_url":          "https://api.stripe.com",
		"processor.webhook_tolerance": "300s",
		"processor.timeout":           "10s",
		"processor.currency":          "usd",

		"billing.success_path":       "/dashboard/billing?checkout=success",
		"billing.cancel_path":        "/dashboard/billing?checkout=canceled",
		"billing.portal_return_path": "/dashboard/billing",
		"billing.sweep_interval":     "15m",
		"billing.sweep_batch_size":   100,
		"billing.event_ttl":          "72h",

		"rate_limit.requests": 100,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    20,

		"rate_limit.seller_requests": 10,
		"rate_limit.seller_burst":    5,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PUT",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "seller-billing",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"SITE_URL":                    "app.site_url",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"AUTH_USER_INFO_URL":          "auth.user_info_url",
	"AUTH_API_KEY":                "auth.api_key",
	"PROCESSOR_BASE_URL":          "processor.base_url",
	"PROCESSOR_SECRET_KEY":        "processor.secret_key",
	"PROCESSOR_WEBHOOK_SECRET":    "processor.webhook_secret",
	"PROCESSOR_TIMEOUT":           "processor.timeout",
	"PROCESSOR_CURRENCY":          "processor.currency",
	"PROCESSOR_PRICE_IDS":         "processor.price_ids_json",
	"BILLING_SWEEP_INTERVAL":      "billing.sweep_interval",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"RATE_LIMIT_SELLER_REQUESTS":  "rate_limit.seller_requests",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

// mergePriceOverrides layers the PROCESSOR_PRICE_IDS JSON map on top of the
// price_ids table from the config file.
func (p *ProcessorConfig) mergePriceOverrides() error {
	raw := strings.TrimSpace(p.PriceIDsJSON)
	if raw == "" {
		return nil
	}

	overrides := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return fmt.Errorf("PROCESSOR_PRICE_IDS must be a JSON object: %w", err)
	}

	if p.PriceIDs == nil {
		p.PriceIDs = make(map[string]string, len(overrides))
	}
	for key, id := range overrides {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		p.PriceIDs[strings.ToLower(strings.TrimSpace(key))] = id
	}

	return nil
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.UserInfoURL == "" {
		return fmt.Errorf("AUTH_USER_INFO_URL is required")
	}

	if c.Processor.SecretKey == "" {
		return fmt.Errorf("PROCESSOR_SECRET_KEY is required")
	}

	if c.Processor.WebhookSecret == "" {
		return fmt.Errorf("PROCESSOR_WEBHOOK_SECRET is required")
	}

	if c.Processor.Timeout <= 0 {
		return fmt.Errorf("processor.timeout must be positive")
	}

	if c.Processor.WebhookTolerance <= 0 {
		return fmt.Errorf("processor.webhook_tolerance must be positive")
	}

	if _, err := url.ParseRequestURI(c.App.SiteURL); err != nil {
		return fmt.Errorf("SITE_URL must be an absolute URL: %w", err)
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
		if strings.HasPrefix(c.Processor.SecretKey, "sk_test_") {
			return fmt.Errorf("PROCESSOR_SECRET_KEY is a test key in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
