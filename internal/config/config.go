package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	Env           string
	AllowedOrigin string
	DatabaseURL   string

	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	IdempotencyTTLSeconds int

	KafkaBrokers []string
	KafkaTopic   string

	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPassword         string
	ModeratorUsername     string
	ModeratorPassword     string

	OTLPEndpoint      string
	LowStockThreshold int
	LowStockCron      string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	idemTTL := positiveInt("IDEMPOTENCY_TTL_SECONDS", 86400)
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	threshold, err := strconv.Atoi(getEnv("LOW_STOCK_THRESHOLD", "2"))
	if err != nil || threshold < 0 {
		threshold = 2
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("APP_ENV", "development"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		IdempotencyTTLSeconds: idemTTL,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "serene.events"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminUsername:         strings.ToLower(getEnv("ADMIN_USERNAME", "admin")),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		ModeratorUsername:     strings.ToLower(strings.TrimSpace(os.Getenv("MODERATOR_USERNAME"))),
		ModeratorPassword:     os.Getenv("MODERATOR_PASSWORD"),
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		LowStockThreshold:     threshold,
		LowStockCron:          strings.TrimSpace(os.Getenv("LOW_STOCK_CRON")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Development() bool {
	return c.Env == "development"
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
