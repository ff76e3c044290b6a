package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SWAP_DISPUTE_WINDOW", "")
	t.Setenv("MONGO_DATABASE", "")
	t.Setenv("SIGNUP_POINTS", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 72*time.Hour, cfg.Swap.DisputeWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.Swap.NegotiationInactivity)
	assert.Equal(t, 10*time.Second, cfg.Delivery.AssignTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Kafka.MaxAttempts)
	assert.Equal(t, "campusswap", cfg.Mongo.Database)
	assert.Equal(t, int64(100), cfg.SignupPoints)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("SWAP_DISPUTE_WINDOW", "48h")
	t.Setenv("SWAP_POINTS_TOLERANCE", "5")
	t.Setenv("REDIS_DB", "2")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 48*time.Hour, cfg.Swap.DisputeWindow)
	assert.Equal(t, int64(5), cfg.Swap.PointsTolerance)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"SERVER_PORT":           "70000",
		"SWAP_DISPUTE_WINDOW":   "three days",
		"LISTING_TTL":           "-1h",
		"RELAY_BATCH_SIZE":      "many",
		"SWAP_POINTS_TOLERANCE": "-3",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x", JWTSecret: "short"}
	assert.Error(t, cfg.Validate())
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())
}
