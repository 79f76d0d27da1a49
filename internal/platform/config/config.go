package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures process-level configuration. Everything has a development
// default so `go run ./cmd/server` works with in-memory stores.
type Config struct {
	Addr          string
	JWTSigningKey string

	// Empty PostgresURL selects the in-memory ledger.
	PostgresURL string
	// Empty RedisURL disables the dashboard snapshot cache.
	RedisURL string
	// Empty KafkaBrokers disables the Kafka audit publisher.
	KafkaBrokers []string
	KafkaTopic   string

	// Empty MinioEndpoint selects the in-memory evidence store.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string

	PaymentWindow time.Duration
	AppealWindow  time.Duration
	SweepInterval time.Duration

	// GatewaySimulated selects the simulated payment gateway; production
	// wiring would replace this with a real acquirer client.
	GatewaySimulated bool
	// GatewayDeclineOver makes the simulated gateway decline charges above
	// the threshold. Zero approves everything.
	GatewayDeclineOver decimal.Decimal
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:             envOr("FINELEDGER_ADDR", ":8080"),
		JWTSigningKey:    envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaTopic:       envOr("AUDIT_TOPIC", "fineledger.audit"),
		MinioEndpoint:    os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:      envOr("MINIO_BUCKET", "fineledger-evidence"),
		PaymentWindow:    daysOr("PAYMENT_WINDOW_DAYS", 30),
		AppealWindow:     daysOr("APPEAL_WINDOW_DAYS", 30),
		SweepInterval:    durationOr("SWEEP_INTERVAL", time.Hour),
		GatewaySimulated: os.Getenv("PAYMENT_GATEWAY") != "live",
	}
	cfg.GatewayDeclineOver = decimalOr("GATEWAY_DECLINE_OVER", decimal.Zero)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func daysOr(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return time.Duration(fallback) * 24 * time.Hour
}

func decimalOr(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			return d
		}
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
