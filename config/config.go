package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	AuthConfig      AuthConfig      `json:"auth"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	MarketConfig    MarketConfig    `json:"market"`
	CacheConfig     CacheConfig     `json:"cache"`
	BrainConfig     BrainConfig     `json:"brain"`
	EvolutionConfig EvolutionConfig `json:"evolution"`
	PaperConfig     PaperConfig     `json:"paper"`
	BillingConfig   BillingConfig   `json:"billing"`
	GroupsConfig    GroupsConfig    `json:"groups"`
	EmailConfig     EmailConfig     `json:"email"`
	WSConfig        WSConfig        `json:"websocket"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
	RequestsPerSec  int    `json:"requests_per_sec"` // API rate limit per client
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	ResetTokenDuration  time.Duration `json:"reset_token_duration"`
	MinPasswordLength   int           `json:"min_password_length"`
	OTPTTL              time.Duration `json:"otp_ttl"`
	AdminEmail          string        `json:"admin_email"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string `json:"url"`
	MaxConns        int    `json:"max_conns"`
	MinConns        int    `json:"min_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"` // Minutes
}

// RedisConfig holds Redis configuration for the L3 cache and distributed locks
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	PoolSize int    `json:"pool_size"`
}

// MarketConfig holds market-data provider configuration. Slot names select
// which vendor adapter fills each role of the provider hierarchy.
type MarketConfig struct {
	HistoricalPrimary   string `json:"historical_primary"`
	LivePrimary         string `json:"live_primary"`
	LiveSecondary       string `json:"live_secondary"`
	HistoricalAPIKey    string `json:"historical_api_key"`
	LivePrimaryAPIKey   string `json:"live_primary_api_key"`
	LiveSecondaryAPIKey string `json:"live_secondary_api_key"`
	RequestTimeout      int    `json:"request_timeout"`  // Seconds, per provider call
	RequestsPerMin      int    `json:"requests_per_min"` // Per-provider sliding window
}

// CacheConfig holds the tiered market-data cache configuration
type CacheConfig struct {
	L1Entries    int    `json:"l1_entries"`
	FileCacheDir string `json:"file_cache_dir"`
	MCNSnapshot  string `json:"mcn_snapshot"`
	MCNMaxBytes  int64  `json:"mcn_max_bytes"`
}

// BrainConfig holds signal assembly thresholds
type BrainConfig struct {
	MinSignalConfidence float64 `json:"min_signal_confidence"`
	CandleLookback      int     `json:"candle_lookback"`
	RegimeMemoryMin     int     `json:"regime_memory_min"` // Memory samples before vote path
}

// EvolutionConfig holds the evolution worker configuration
type EvolutionConfig struct {
	Enabled       bool    `json:"enabled"`
	IntervalHours int     `json:"interval_hours"`
	MinTrades     int     `json:"min_trades"`
	WinRateMin    float64 `json:"win_rate_min"`
	SharpeMin     float64 `json:"sharpe_min"`
	OverfitRatio  float64 `json:"overfit_ratio"` // test/train Sharpe floor
	MaxAttempts   int     `json:"max_attempts"`
	LockTTL       int     `json:"lock_ttl"` // Seconds
}

// PaperConfig holds paper-broker configuration
type PaperConfig struct {
	StartingBalance float64 `json:"starting_balance"`
}

// BillingConfig holds royalty billing and Stripe configuration
type BillingConfig struct {
	Enabled             bool    `json:"enabled"`
	StripeSecretKey     string  `json:"stripe_secret_key"`
	StripeWebhookSecret string  `json:"stripe_webhook_secret"`
	LockThresholdUSD    float64 `json:"lock_threshold_usd"`
	GraceMonths         int     `json:"grace_months"`  // Consecutive paid months to earn grace
	GraceDelayed        int     `json:"grace_delayed"` // Delayed months tolerated under grace
	BillingDayUTC       int     `json:"billing_day_utc"`
}

// GroupsConfig holds group messaging configuration
type GroupsConfig struct {
	EncryptionKey  string `json:"encryption_key"`
	DefaultMaxSize int    `json:"default_max_size"`
}

// EmailConfig holds SMTP configuration for OTP delivery
type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// WSConfig holds websocket streaming limits
type WSConfig struct {
	MaxConnectionsPerUser int `json:"max_connections_per_user"`
	MaxConnectionsTotal   int `json:"max_connections_total"`
	IdleTimeoutMinutes    int `json:"idle_timeout_minutes"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := &Config{}
	applyEnv(cfg)

	if cfg.AuthConfig.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if cfg.DatabaseConfig.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30)
	cfg.ServerConfig.RequestsPerSec = getEnvIntOrDefault("SERVER_REQUESTS_PER_SEC", 20)

	// Auth
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET_KEY", "")
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 24*time.Hour)
	cfg.AuthConfig.ResetTokenDuration = getEnvDurationOrDefault("AUTH_RESET_TOKEN_DURATION", 1*time.Hour)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 8)
	cfg.AuthConfig.OTPTTL = getEnvDurationOrDefault("AUTH_OTP_TTL", 10*time.Minute)
	cfg.AuthConfig.AdminEmail = getEnvOrDefault("ADMIN_EMAIL", "")

	// Database
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", "")
	cfg.DatabaseConfig.MaxConns = getEnvIntOrDefault("DATABASE_MAX_CONNS", 20)
	cfg.DatabaseConfig.MinConns = getEnvIntOrDefault("DATABASE_MIN_CONNS", 2)
	cfg.DatabaseConfig.ConnMaxLifetime = getEnvIntOrDefault("DATABASE_CONN_MAX_LIFETIME", 30)

	// Redis (optional L3 cache + distributed locks)
	cfg.RedisConfig.URL = getEnvOrDefault("REDIS_URL", "")
	cfg.RedisConfig.Enabled = cfg.RedisConfig.URL != ""
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Market data providers
	cfg.MarketConfig.HistoricalPrimary = getEnvOrDefault("MARKET_DATA_PROVIDER_HISTORICAL", "polygon")
	cfg.MarketConfig.LivePrimary = getEnvOrDefault("MARKET_DATA_PROVIDER_LIVE", "finnhub")
	cfg.MarketConfig.LiveSecondary = getEnvOrDefault("MARKET_DATA_PROVIDER_LIVE_SECONDARY", "twelvedata")
	cfg.MarketConfig.HistoricalAPIKey = getEnvOrDefault("POLYGON_API_KEY", "")
	cfg.MarketConfig.LivePrimaryAPIKey = getEnvOrDefault("FINNHUB_API_KEY", "")
	cfg.MarketConfig.LiveSecondaryAPIKey = getEnvOrDefault("TWELVEDATA_API_KEY", "")
	cfg.MarketConfig.RequestTimeout = getEnvIntOrDefault("MARKET_REQUEST_TIMEOUT", 30)
	cfg.MarketConfig.RequestsPerMin = getEnvIntOrDefault("MARKET_REQUESTS_PER_MIN", 60)

	// Cache
	cfg.CacheConfig.L1Entries = getEnvIntOrDefault("CACHE_L1_ENTRIES", 256)
	cfg.CacheConfig.FileCacheDir = getEnvOrDefault("CACHE_FILE_DIR", "data/market_cache")
	cfg.CacheConfig.MCNSnapshot = getEnvOrDefault("MCN_SNAPSHOT_PATH", "data/mcn_snapshot.bin")
	cfg.CacheConfig.MCNMaxBytes = int64(getEnvIntOrDefault("MCN_MAX_BYTES", 8<<20))

	// Brain
	cfg.BrainConfig.MinSignalConfidence = getEnvFloatOrDefault("MIN_SIGNAL_CONFIDENCE", 0.35)
	cfg.BrainConfig.CandleLookback = getEnvIntOrDefault("BRAIN_CANDLE_LOOKBACK", 200)
	cfg.BrainConfig.RegimeMemoryMin = getEnvIntOrDefault("REGIME_MEMORY_MIN", 10)

	// Evolution worker
	cfg.EvolutionConfig.Enabled = getEnvOrDefault("EVOLUTION_WORKER_ENABLED", "true") == "true"
	cfg.EvolutionConfig.IntervalHours = getEnvIntOrDefault("EVOLUTION_WORKER_INTERVAL_HOURS", 6)
	cfg.EvolutionConfig.MinTrades = getEnvIntOrDefault("EVOLUTION_MIN_TRADES", 20)
	cfg.EvolutionConfig.WinRateMin = getEnvFloatOrDefault("EVOLUTION_WIN_RATE_MIN", 0.55)
	cfg.EvolutionConfig.SharpeMin = getEnvFloatOrDefault("EVOLUTION_SHARPE_MIN", 1.0)
	cfg.EvolutionConfig.OverfitRatio = getEnvFloatOrDefault("EVOLUTION_OVERFIT_RATIO", 0.7)
	cfg.EvolutionConfig.MaxAttempts = getEnvIntOrDefault("EVOLUTION_MAX_ATTEMPTS", 5)
	cfg.EvolutionConfig.LockTTL = getEnvIntOrDefault("EVOLUTION_LOCK_TTL", 600)

	// Paper broker
	cfg.PaperConfig.StartingBalance = getEnvFloatOrDefault("PAPER_STARTING_BALANCE", 100000)

	// Billing
	cfg.BillingConfig.StripeSecretKey = getEnvOrDefault("STRIPE_SECRET_KEY", "")
	cfg.BillingConfig.StripeWebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")
	cfg.BillingConfig.Enabled = getEnvOrDefault("BILLING_ENABLED", "true") == "true"
	cfg.BillingConfig.LockThresholdUSD = getEnvFloatOrDefault("BILLING_LOCK_THRESHOLD", 10.0)
	cfg.BillingConfig.GraceMonths = getEnvIntOrDefault("BILLING_GRACE_MONTHS", 3)
	cfg.BillingConfig.GraceDelayed = getEnvIntOrDefault("BILLING_GRACE_DELAYED", 2)
	cfg.BillingConfig.BillingDayUTC = getEnvIntOrDefault("BILLING_DAY_UTC", 1)

	// Groups
	cfg.GroupsConfig.EncryptionKey = getEnvOrDefault("ENCRYPTION_SECRET_KEY", "")
	cfg.GroupsConfig.DefaultMaxSize = getEnvIntOrDefault("GROUPS_DEFAULT_MAX_SIZE", 25)

	// Email
	cfg.EmailConfig.Host = getEnvOrDefault("SMTP_HOST", "")
	cfg.EmailConfig.Enabled = cfg.EmailConfig.Host != ""
	cfg.EmailConfig.Port = getEnvIntOrDefault("SMTP_PORT", 587)
	cfg.EmailConfig.Username = getEnvOrDefault("SMTP_USERNAME", "")
	cfg.EmailConfig.Password = getEnvOrDefault("SMTP_PASSWORD", "")
	cfg.EmailConfig.From = getEnvOrDefault("SMTP_FROM", "no-reply@tradebrain.local")

	// WebSocket
	cfg.WSConfig.MaxConnectionsPerUser = getEnvIntOrDefault("WS_MAX_CONNECTIONS_PER_USER", 5)
	cfg.WSConfig.MaxConnectionsTotal = getEnvIntOrDefault("WS_MAX_CONNECTIONS_TOTAL", 1000)
	cfg.WSConfig.IdleTimeoutMinutes = getEnvIntOrDefault("WS_IDLE_TIMEOUT_MINUTES", 30)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
