package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	loadOnce sync.Once
	envFile  = ".env"
)

// UseEnvFile changes which dotenv file Config reads. It only has an
// effect before the first Config call.
func UseEnvFile(path string) {
	if path != "" {
		envFile = path
	}
}

// Config returns the value of key, reading the dotenv file into the
// process environment the first time it is called.
func Config(key string) string {
	loadOnce.Do(func() {
		if err := godotenv.Load(envFile); err != nil {
			slog.Debug("env file not found, reading from system environment variables", "file", envFile)
		}
	})
	return os.Getenv(key)
}

type AppConfig struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string

	ServiceFeeRate float64
	CodeTTL        time.Duration
	CodeLength     int

	SweepSchedule       string
	SweepBatch          int
	PaymentWindow       time.Duration
	OwnerResponseWindow time.Duration
	EscrowClaimTimeout  time.Duration

	GatewayBaseURL     string
	GatewayAPIKey      string
	GatewayAPISecret   string
	GatewayMaxAttempts int
	GatewayTimeout     time.Duration
	GatewayBackoff     time.Duration

	CloudinaryURL string
}

func Load() AppConfig {
	return AppConfig{
		Env:         getenv("APP_ENV", "dev"),
		Port:        getenv("PORT", "8080"),
		DatabaseURL: Config("DATABASE_URL"),
		JWTSecret:   getenv("JWT_SECRET", "local_dev_secret"),

		ServiceFeeRate: getFloat("SERVICE_FEE_RATE", 0.05),
		CodeTTL:        getDuration("CODE_TTL", 24*time.Hour),
		CodeLength:     getInt("CODE_LENGTH", 6),

		SweepSchedule:       getenv("SWEEP_SCHEDULE", "@every 1m"),
		SweepBatch:          getInt("SWEEP_BATCH", 200),
		PaymentWindow:       getDuration("PAYMENT_WINDOW", 24*time.Hour),
		OwnerResponseWindow: getDuration("OWNER_RESPONSE_WINDOW", 72*time.Hour),
		EscrowClaimTimeout:  getDuration("ESCROW_CLAIM_TIMEOUT", 15*time.Minute),

		GatewayBaseURL:     Config("GATEWAY_BASE_URL"),
		GatewayAPIKey:      Config("GATEWAY_API_KEY"),
		GatewayAPISecret:   Config("GATEWAY_API_SECRET"),
		GatewayMaxAttempts: getInt("GATEWAY_MAX_ATTEMPTS", 4),
		GatewayTimeout:     getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayBackoff:     getDuration("GATEWAY_BACKOFF", 500*time.Millisecond),

		CloudinaryURL: Config("CLOUDINARY_URL"),
	}
}

func (c AppConfig) IsProduction() bool { return c.Env == "production" }

func getenv(k, def string) string {
	if v := Config(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := Config(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", k, "value", v, "default", def)
		return def
	}
	return n
}

func getFloat(k string, def float64) float64 {
	v := Config(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", k, "value", v, "default", def)
		return def
	}
	return f
}

func getDuration(k string, def time.Duration) time.Duration {
	v := Config(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", k, "value", v, "default", def)
		return def
	}
	return d
}
