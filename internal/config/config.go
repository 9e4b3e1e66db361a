package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	HTTPAddr     string

	// SettleMaxRetries bounds the serialization-failure retry loop around
	// each settlement / disbursement transaction.
	SettleMaxRetries int
	SettleLockTTL    time.Duration

	IdempotencyTTL           time.Duration
	DisbursementPollInterval time.Duration
	DisbursementBatchSize    int
	OutboxPollInterval       time.Duration
	OutboxBatchSize          int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),

		SettleMaxRetries: envInt("SETTLE_MAX_RETRIES", 3),
		SettleLockTTL:    envDuration("SETTLE_LOCK_TTL", 30*time.Second),

		IdempotencyTTL:           envDuration("IDEMPOTENCY_TTL", time.Hour),
		DisbursementPollInterval: envDuration("DISBURSEMENT_POLL_INTERVAL", 10*time.Second),
		DisbursementBatchSize:    envInt("DISBURSEMENT_BATCH_SIZE", 20),
		OutboxPollInterval:       envDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:          envInt("OUTBOX_BATCH_SIZE", 10),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
