package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminPassword != "" {
		t.Fatalf("expected empty ADMIN_PASSWORD when unset, got %q", cfg.AdminPassword)
	}
}

func TestLoadParsesListsAndFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("LOW_STOCK_THRESHOLD", "-4")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "abc")
	t.Setenv("ADMIN_USERNAME", "Owner")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
	if cfg.LowStockThreshold != 2 {
		t.Fatalf("expected default threshold 2, got %d", cfg.LowStockThreshold)
	}
	if cfg.IdempotencyTTLSeconds != 86400 {
		t.Fatalf("expected default idempotency ttl, got %d", cfg.IdempotencyTTLSeconds)
	}
	if cfg.AdminUsername != "owner" {
		t.Fatalf("expected lower-cased admin username, got %q", cfg.AdminUsername)
	}
}
