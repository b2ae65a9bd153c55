package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Runtime toggles that operators change without a redeploy live in the
// system_configs table instead.
type Config struct {
	Port      string
	Env       string
	JWTSecret string
	BaseURL   string

	DB      DatabaseConfig
	Redis   RedisConfig
	Worker  WorkerConfig
	Payment PaymentConfig
	Unlock  UnlockConfig
	Admin   AdminConfig
	Media   MediaConfig
	Alert   AlertConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// WorkerConfig contains interval configuration for background workers.
type WorkerConfig struct {
	SweepInterval time.Duration
	AlertInterval time.Duration
}

// PaymentConfig describes the external payment page and its health endpoint.
type PaymentConfig struct {
	GatewayURL     string
	ProbeEndpoint  string
	APIKey         string
	CallbackSecret string
	Timeout        time.Duration
	RetryAttempts  int
	RetryPause     time.Duration
}

// UnlockConfig contains the access-code allow-list and the content catalog.
type UnlockConfig struct {
	AccessCodes    []string
	CookieName     string
	ContentSlugs   []string
	ProtectedSlugs []string
	AdMinSeconds   int
	AdMaxClips     int
}

// AdminConfig guards the operator endpoints.
type AdminConfig struct {
	// CronSecretHash is a bcrypt hash of the bearer secret. When only the
	// plain CRON_SECRET is provided it is hashed at startup.
	CronSecretHash string
	CronSecret     string
}

// MediaConfig points at the ad clip source. S3 wins when a bucket is set.
type MediaConfig struct {
	Dir       string
	URLPrefix string
	S3Bucket  string
	S3Region  string
	S3Prefix  string
}

// AlertConfig contains the optional operator webhook for error log entries.
type AlertConfig struct {
	WebhookURL string
	Secret     string
	BatchSize  int
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.BaseURL = strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// Payment
	cfg.Payment = PaymentConfig{
		GatewayURL:     getEnv("EXTERNAL_PAYMENT_URL", "https://pay.example.com"),
		ProbeEndpoint:  getEnv("PAYMENT_TEST_ENDPOINT", "https://httpbin.org/status/200"),
		APIKey:         getEnv("PAYMENT_API_KEY", ""),
		CallbackSecret: getEnv("PAYMENT_CALLBACK_SECRET", ""),
		RetryAttempts:  getEnvInt("PAYMENT_RETRY_ATTEMPTS", 2),
	}
	if cfg.Payment.CallbackSecret == "" {
		cfg.Payment.CallbackSecret = cfg.Payment.APIKey
	}

	// Unlock
	cfg.Unlock = UnlockConfig{
		AccessCodes:    getEnvList("ACCESS_CODES", nil),
		CookieName:     getEnv("COOKIE_NAME", "qfeng5_unlock"),
		ContentSlugs:   getEnvList("CONTENT_SLUGS", []string{"internup", "snowoverflow"}),
		ProtectedSlugs: getEnvList("PROTECTED_SLUGS", []string{"internup"}),
		AdMinSeconds:   getEnvInt("AD_MIN_SECONDS", 30),
		AdMaxClips:     getEnvInt("AD_MAX_CLIPS", 2),
	}

	// Admin
	cfg.Admin = AdminConfig{
		CronSecretHash: getEnv("CRON_SECRET_HASH", ""),
		CronSecret:     getEnv("CRON_SECRET", ""),
	}

	// Media
	cfg.Media = MediaConfig{
		Dir:       getEnv("AD_VIDEO_DIR", "public/videos"),
		URLPrefix: getEnv("AD_VIDEO_URL_PREFIX", "/videos/"),
		S3Bucket:  getEnv("AD_VIDEO_S3_BUCKET", ""),
		S3Region:  getEnv("AD_VIDEO_S3_REGION", "ap-east-1"),
		S3Prefix:  getEnv("AD_VIDEO_S3_PREFIX", "videos/"),
	}

	// Alerts
	cfg.Alert = AlertConfig{
		WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		Secret:     getEnv("ALERT_WEBHOOK_SECRET", ""),
		BatchSize:  getEnvInt("ALERT_BATCH_SIZE", 50),
	}

	// Durations
	var err error
	if cfg.Worker.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", "5m"); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	if cfg.Worker.AlertInterval, err = parseDurationEnv("ALERT_INTERVAL", "1m"); err != nil {
		return nil, fmt.Errorf("invalid ALERT_INTERVAL: %w", err)
	}
	if cfg.Payment.Timeout, err = parseDurationEnv("PAYMENT_TIMEOUT", "10s"); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_TIMEOUT: %w", err)
	}
	if cfg.Payment.RetryPause, err = parseDurationEnv("PAYMENT_RETRY_PAUSE", "1s"); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_RETRY_PAUSE: %w", err)
	}

	if cfg.Payment.RetryAttempts < 1 {
		return nil, errors.New("PAYMENT_RETRY_ATTEMPTS must be at least 1")
	}

	for _, slug := range cfg.Unlock.ProtectedSlugs {
		if !contains(cfg.Unlock.ContentSlugs, slug) {
			return nil, fmt.Errorf("protected slug %q is missing from CONTENT_SLUGS", slug)
		}
	}

	// Basic validation for DB parameters.
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}

	// Validate JWT_SECRET
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for credential signing")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
