package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	TokenStore      string
	ProviderTimeout time.Duration
	TokenWait       time.Duration

	MTN  MTNConfig
	Moov MoovConfig

	NotifyWebhookURL string
	NotifyWorkers    int

	PaymentInitiateRate  float64
	PaymentInitiateBurst int

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	SchedulerJobs     []string

	Bootstrap BootstrapConfig
}

// BootstrapConfig seeds a first agent on startup when AgentPhone is set.
type BootstrapConfig struct {
	AgentName  string
	AgentPhone string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// MTNConfig carries MTN MoMo collection API credentials.
type MTNConfig struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	SubscriptionKey   string
	TargetEnvironment string
	WebhookSecret     string
}

// MoovConfig carries Moov Money API credentials.
type MoovConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "tontine"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tontine"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "tontine.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		TokenStore:      strings.ToLower(getenv("PROVIDER_TOKEN_STORE", TokenStoreMemory)),
		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		TokenWait:       getenvDuration("PROVIDER_TOKEN_WAIT", 10*time.Second),
		MTN: MTNConfig{
			BaseURL:           strings.TrimRight(getenv("MTN_BASE_URL", "https://sandbox.momodeveloper.mtn.com"), "/"),
			APIKey:            strings.TrimSpace(getenv("MTN_API_KEY", "")),
			APISecret:         strings.TrimSpace(getenv("MTN_API_SECRET", "")),
			SubscriptionKey:   strings.TrimSpace(getenv("MTN_SUBSCRIPTION_KEY", "")),
			TargetEnvironment: getenv("MTN_TARGET_ENVIRONMENT", "sandbox"),
			WebhookSecret:     strings.TrimSpace(getenv("MTN_WEBHOOK_SECRET", "")),
		},
		Moov: MoovConfig{
			BaseURL:       strings.TrimRight(getenv("MOOV_BASE_URL", "https://api.moov-africa.bj"), "/"),
			APIKey:        strings.TrimSpace(getenv("MOOV_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("MOOV_WEBHOOK_SECRET", "")),
		},
		NotifyWebhookURL:     strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),
		NotifyWorkers:        getenvInt("NOTIFY_WORKERS", 4),
		PaymentInitiateRate:  getenvFloat("PAYMENT_INITIATE_RATE", 0.2),
		PaymentInitiateBurst: getenvInt("PAYMENT_INITIATE_BURST", 3),
		SchedulerEnabled:     getenvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:    getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerJobs:        SplitList(getenv("SCHEDULER_JOBS", "")),
		Bootstrap: BootstrapConfig{
			AgentName:  strings.TrimSpace(getenv("BOOTSTRAP_AGENT_NAME", "Agent")),
			AgentPhone: strings.TrimSpace(getenv("BOOTSTRAP_AGENT_PHONE", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// SplitList splits a comma separated env value, dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
