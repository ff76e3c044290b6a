// Package config loads swapd settings from the environment, reading a .env
// file first when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	Environment  string
	DatabaseURL  string
	JWTSecret    string
	TaxonomyPath string
	SignupPoints int64

	HTTP     HTTPConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Mongo    MongoConfig
	Delivery DeliveryConfig
	Swap     SwapConfig
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// RedisConfig backs the valuation cache. An empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// KafkaConfig drives the outbox relay. With no brokers the relay logs
// events instead of publishing them.
type KafkaConfig struct {
	Brokers       []string
	Retries       int
	RelayInterval time.Duration
	RelayBatch    int
	MaxAttempts   int
}

// MongoConfig enables the event history archive when URI is set.
type MongoConfig struct {
	URI      string
	Database string
}

type DeliveryConfig struct {
	BaseURL       string
	Token         string
	AssignTimeout time.Duration
}

type SwapConfig struct {
	PointsTolerance       int64
	DisputeWindow         time.Duration
	NegotiationInactivity time.Duration
	ListingTTL            time.Duration
	SweepInterval         time.Duration
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit .env path. Unlike Load, a missing file
// is an error.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return FromEnv()
}

// FromEnv is Load without the .env file.
func FromEnv() (Config, error) {
	cfg := Config{
		Environment:  valueOrDefault("ENVIRONMENT", "development"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		TaxonomyPath: os.Getenv("TAXONOMY_PATH"),
		HTTP: HTTPConfig{
			Host: valueOrDefault("SERVER_HOST", defaultHost),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGO_URI"),
			Database: valueOrDefault("MONGO_DATABASE", "campusswap"),
		},
		Delivery: DeliveryConfig{
			BaseURL: os.Getenv("DELIVERY_BASE_URL"),
			Token:   os.Getenv("DELIVERY_TOKEN"),
		},
	}

	var err error
	if cfg.HTTP.Port, err = parsePort("SERVER_PORT", defaultPort); err != nil {
		return Config{}, err
	}
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"REDIS_DB", 0, &cfg.Redis.DB},
		{"KAFKA_RETRIES", 3, &cfg.Kafka.Retries},
		{"RELAY_BATCH_SIZE", 50, &cfg.Kafka.RelayBatch},
		{"RELAY_MAX_ATTEMPTS", 5, &cfg.Kafka.MaxAttempts},
	}
	for _, v := range ints {
		if *v.dst, err = parseInt(v.key, v.fallback); err != nil {
			return Config{}, err
		}
	}
	tolerance, err := parseInt("SWAP_POINTS_TOLERANCE", 0)
	if err != nil {
		return Config{}, err
	}
	if tolerance < 0 {
		return Config{}, fmt.Errorf("invalid SWAP_POINTS_TOLERANCE: must not be negative")
	}
	cfg.Swap.PointsTolerance = int64(tolerance)
	signup, err := parseInt("SIGNUP_POINTS", 100)
	if err != nil {
		return Config{}, err
	}
	if signup < 0 {
		return Config{}, fmt.Errorf("invalid SIGNUP_POINTS: must not be negative")
	}
	cfg.SignupPoints = int64(signup)

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"VALUATION_CACHE_TTL", 15 * time.Minute, &cfg.Redis.CacheTTL},
		{"RELAY_INTERVAL", 2 * time.Second, &cfg.Kafka.RelayInterval},
		{"DELIVERY_ASSIGN_TIMEOUT", 10 * time.Second, &cfg.Delivery.AssignTimeout},
		{"SWAP_DISPUTE_WINDOW", 72 * time.Hour, &cfg.Swap.DisputeWindow},
		{"SWAP_NEGOTIATION_INACTIVITY", 7 * 24 * time.Hour, &cfg.Swap.NegotiationInactivity},
		{"LISTING_TTL", 60 * 24 * time.Hour, &cfg.Swap.ListingTTL},
		{"SWEEP_INTERVAL", time.Minute, &cfg.Swap.SweepInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Validate checks the settings the serve command cannot run without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

func (c Config) IsProduction() bool { return c.Environment == "production" }

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	port, err := parseInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d is out of range", port)
	}
	return port, nil
}
