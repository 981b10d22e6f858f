package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Registry     RegistryConfig
	Rosters      RosterConfig
	Scheduler    SchedulerConfig
	Verification VerificationConfig
	Mail         MailConfig
	Quota        QuotaConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RegistryConfig points at the external enrollment registry.
type RegistryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RosterConfig tunes roster generation.
type RosterConfig struct {
	VerificationConcurrency int
	GenerationLockTTL       time.Duration
	CodePrefix              string
}

// SchedulerConfig toggles the cron-driven roster scheduler.
type SchedulerConfig struct {
	Enabled           bool
	Timezone          string
	DefaultMaxRetries int
	DefaultRetryDelay time.Duration
}

// VerificationConfig governs asynchronous batch verification tasks.
type VerificationConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
	BatchSize         int
}

// MailConfig configures the SMTP relay used for schedule notifications.
type MailConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SkipTLSVerify bool
}

// QuotaConfig governs the quota summary cache.
type QuotaConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Registry = RegistryConfig{
		BaseURL: v.GetString("REGISTRY_BASE_URL"),
		APIKey:  v.GetString("REGISTRY_API_KEY"),
		Timeout: parseDuration(v.GetString("REGISTRY_TIMEOUT"), 10*time.Second),
	}

	cfg.Rosters = RosterConfig{
		VerificationConcurrency: v.GetInt("ROSTER_VERIFICATION_CONCURRENCY"),
		GenerationLockTTL:       parseDuration(v.GetString("ROSTER_GENERATION_LOCK_TTL"), 15*time.Minute),
		CodePrefix:              v.GetString("ROSTER_CODE_PREFIX"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:           v.GetBool("ENABLE_ROSTER_SCHEDULER"),
		Timezone:          v.GetString("SCHEDULER_TIMEZONE"),
		DefaultMaxRetries: v.GetInt("SCHEDULER_DEFAULT_MAX_RETRIES"),
		DefaultRetryDelay: parseDuration(v.GetString("SCHEDULER_DEFAULT_RETRY_DELAY"), 5*time.Minute),
	}

	cfg.Verification = VerificationConfig{
		WorkerConcurrency: v.GetInt("VERIFICATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("VERIFICATION_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("VERIFICATION_RETRY_DELAY"), 30*time.Second),
		BatchSize:         v.GetInt("VERIFICATION_BATCH_SIZE"),
	}

	cfg.Mail = MailConfig{
		Enabled:       v.GetBool("ENABLE_MAIL"),
		Host:          v.GetString("SMTP_HOST"),
		Port:          v.GetInt("SMTP_PORT"),
		Username:      v.GetString("SMTP_USER"),
		Password:      v.GetString("SMTP_PASS"),
		From:          v.GetString("SMTP_FROM"),
		SkipTLSVerify: v.GetBool("SMTP_SKIP_TLS_VERIFY"),
	}

	cfg.Quota = QuotaConfig{
		CacheEnabled: v.GetBool("ENABLE_QUOTA_CACHE"),
		CacheTTL:     parseDuration(v.GetString("QUOTA_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scholarship")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REGISTRY_BASE_URL", "http://localhost:9090")
	v.SetDefault("REGISTRY_API_KEY", "")
	v.SetDefault("REGISTRY_TIMEOUT", "10s")

	v.SetDefault("ROSTER_VERIFICATION_CONCURRENCY", 5)
	v.SetDefault("ROSTER_GENERATION_LOCK_TTL", "15m")
	v.SetDefault("ROSTER_CODE_PREFIX", "RST")

	v.SetDefault("ENABLE_ROSTER_SCHEDULER", false)
	v.SetDefault("SCHEDULER_TIMEZONE", "Asia/Taipei")
	v.SetDefault("SCHEDULER_DEFAULT_MAX_RETRIES", 3)
	v.SetDefault("SCHEDULER_DEFAULT_RETRY_DELAY", "5m")

	v.SetDefault("VERIFICATION_WORKER_CONCURRENCY", 1)
	v.SetDefault("VERIFICATION_WORKER_RETRIES", 2)
	v.SetDefault("VERIFICATION_RETRY_DELAY", "30s")
	v.SetDefault("VERIFICATION_BATCH_SIZE", 20)

	v.SetDefault("ENABLE_MAIL", false)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_SKIP_TLS_VERIFY", false)

	v.SetDefault("ENABLE_QUOTA_CACHE", false)
	v.SetDefault("QUOTA_CACHE_TTL", "5m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
