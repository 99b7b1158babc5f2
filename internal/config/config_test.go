package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"STORE_BACKEND", "MYSQL_DSN", "DATABASE_URL", "REDIS_ADDR",
	"QUEUE_BACKEND", "QUEUE_NAME", "KAFKA_BROKERS", "KAFKA_GROUP_ID",
	"HTTP_ADDR", "GRPC_ADDR", "PROMO_KEYWORD", "PROMO_PERCENT",
	"PRICING_LATENCY", "RETRY_BACKOFF", "OTEL_ENDPOINT", "OTEL_AUTH_HEADER",
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMySQL, cfg.StoreBackend)
	assert.Equal(t, QueueRedis, cfg.QueueBackend)
	assert.Equal(t, "orders", cfg.QueueName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, "hello", cfg.PromoKeyword)
	assert.Equal(t, "10", cfg.PromoPercent.String())
	assert.Equal(t, time.Duration(0), cfg.PricingLatency)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.TelemetryEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PROMO_KEYWORD", "spring")
	t.Setenv("PROMO_PERCENT", "12.5")
	t.Setenv("PRICING_LATENCY", "250ms")
	t.Setenv("RETRY_BACKOFF", "2s")
	t.Setenv("OTEL_ENDPOINT", "otlp.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, QueueKafka, cfg.QueueBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "spring", cfg.PromoKeyword)
	assert.Equal(t, "12.5", cfg.PromoPercent.String())
	assert.Equal(t, 250*time.Millisecond, cfg.PricingLatency)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff)
	assert.True(t, cfg.TelemetryEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"store":         {"STORE_BACKEND": "mongo"},
		"queue":         {"QUEUE_BACKEND": "rabbitmq"},
		"percent":       {"PROMO_PERCENT": "ten"},
		"percent range": {"PROMO_PERCENT": "150"},
		"latency":       {"PRICING_LATENCY": "soon"},
		"backoff":       {"RETRY_BACKOFF": "-1s"},
		"queue name":    {"QUEUE_NAME": ""},
		"brokers":       {"QUEUE_BACKEND": "kafka", "KAFKA_BROKERS": " , "},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
