// Package config loads gateway configuration with ENV > file > defaults
// precedence and validates it before startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete gateway configuration.
type Config struct {
	// Server
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	// Access tokens
	TokenSecret    string        `yaml:"token_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	ConsumptionTTL time.Duration `yaml:"consumption_ttl_margin"`

	// Internal callers (edge workers, prefetchers)
	ServiceToken string `yaml:"service_token"`

	// Origin policy
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Rate limiting
	RateLimitEnabled   bool `yaml:"rate_limit_enabled"`
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
	AdmissionRPS       int  `yaml:"admission_rps"`
	AdmissionBurst     int  `yaml:"admission_burst"`
	PerIPRPS           int  `yaml:"per_ip_rps"`
	PerIPBurst         int  `yaml:"per_ip_burst"`

	// Upstream streaming
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	StreamChunkSize int           `yaml:"stream_chunk_size"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`

	// Blob storage (S3-compatible)
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`

	// Consumption store backends (first configured wins: redis > badger > memory)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	BadgerDir     string `yaml:"badger_dir"`

	// Edge delivery
	CDNDomain     string `yaml:"cdn_domain"`
	EdgeDomain    string `yaml:"edge_domain"`
	EdgeKeyPairID string `yaml:"edge_key_pair_id"`
	EdgeKeyPath   string `yaml:"edge_key_path"`

	// Manifest circuit breaker
	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`

	// Tracing
	TracingService string `yaml:"tracing_service"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		MetricsAddr:         ":9090",
		ShutdownTimeout:     15 * time.Second,
		LogLevel:            "info",
		LogService:          "streamgate",
		TokenTTL:            10 * time.Minute,
		ConsumptionTTL:      time.Minute,
		RateLimitEnabled:    true,
		RateLimitPerMinute:  120,
		AdmissionRPS:        100,
		AdmissionBurst:      200,
		PerIPRPS:            10,
		PerIPBurst:          20,
		UpstreamTimeout:     30 * time.Second,
		StreamChunkSize:     64 * 1024,
		SignedURLTTL:        5 * time.Minute,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// FromEnv overlays environment variables on top of cfg.
// Every key uses the SG_ prefix.
func FromEnv(cfg Config) Config {
	cfg.ListenAddr = ParseString("SG_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = ParseString("SG_METRICS_LISTEN", cfg.MetricsAddr)
	cfg.ShutdownTimeout = ParseDuration("SG_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.LogLevel = ParseString("SG_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("SG_LOG_SERVICE", cfg.LogService)

	cfg.TokenSecret = ParseString("SG_TOKEN_SECRET", cfg.TokenSecret)
	cfg.TokenTTL = ParseDuration("SG_TOKEN_TTL", cfg.TokenTTL)
	cfg.ConsumptionTTL = ParseDuration("SG_CONSUMPTION_TTL_MARGIN", cfg.ConsumptionTTL)
	cfg.ServiceToken = ParseString("SG_SERVICE_TOKEN", cfg.ServiceToken)

	cfg.AllowedOrigins = ParseCSV("SG_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.RateLimitEnabled = ParseBool("SG_RATELIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitPerMinute = ParseInt("SG_RATELIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.AdmissionRPS = ParseInt("SG_ADMISSION_RPS", cfg.AdmissionRPS)
	cfg.AdmissionBurst = ParseInt("SG_ADMISSION_BURST", cfg.AdmissionBurst)
	cfg.PerIPRPS = ParseInt("SG_PER_IP_RPS", cfg.PerIPRPS)
	cfg.PerIPBurst = ParseInt("SG_PER_IP_BURST", cfg.PerIPBurst)

	cfg.UpstreamTimeout = ParseDuration("SG_UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	cfg.StreamChunkSize = ParseInt("SG_STREAM_CHUNK_SIZE", cfg.StreamChunkSize)
	cfg.SignedURLTTL = ParseDuration("SG_SIGNED_URL_TTL", cfg.SignedURLTTL)

	cfg.S3Bucket = ParseString("SG_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = ParseString("SG_S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = ParseString("SG_S3_ENDPOINT", cfg.S3Endpoint)

	cfg.RedisAddr = ParseString("SG_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("SG_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("SG_REDIS_DB", cfg.RedisDB)
	cfg.BadgerDir = ParseString("SG_BADGER_DIR", cfg.BadgerDir)

	cfg.CDNDomain = ParseString("SG_CDN_DOMAIN", cfg.CDNDomain)
	cfg.EdgeDomain = ParseString("SG_EDGE_DOMAIN", cfg.EdgeDomain)
	cfg.EdgeKeyPairID = ParseString("SG_EDGE_KEY_PAIR_ID", cfg.EdgeKeyPairID)
	cfg.EdgeKeyPath = ParseString("SG_EDGE_KEY_PATH", cfg.EdgeKeyPath)

	cfg.BreakerThreshold = ParseInt("SG_BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerResetTimeout = ParseDuration("SG_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout)

	cfg.TracingService = ParseString("SG_TRACING_SERVICE", cfg.TracingService)

	return cfg
}

// Load builds the effective configuration: defaults, overlaid by an optional
// YAML file, overlaid by environment variables.
func Load(filePath string) (Config, error) {
	cfg := Defaults()

	if filePath != "" {
		fileCfg, err := loadFile(filePath, cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		cfg = fileCfg
	}

	cfg = FromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that cannot produce a working gateway.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, "token secret is required (SG_TOKEN_SECRET)")
	} else if len(c.TokenSecret) < 32 {
		errs = append(errs, "token secret must be at least 32 bytes")
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, "token TTL must be positive")
	}
	if c.S3Bucket == "" {
		errs = append(errs, "S3 bucket is required (SG_S3_BUCKET)")
	}
	if c.StreamChunkSize < 4*1024 {
		errs = append(errs, "stream chunk size must be at least 4KiB")
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, "upstream timeout must be positive")
	}
	if c.RateLimitEnabled && c.RateLimitPerMinute <= 0 {
		errs = append(errs, "rate limit per minute must be positive when enabled")
	}
	if (c.EdgeKeyPath == "") != (c.EdgeKeyPairID == "") {
		errs = append(errs, "edge key path and key pair ID must be set together")
	}
	if c.EdgeKeyPath != "" && c.EdgeDomain == "" {
		errs = append(errs, "edge domain is required when edge signing is configured")
	}

	if len(errs) > 0 {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}
