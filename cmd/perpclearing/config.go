package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration, loaded from PERP_*
// environment variables and overridable by flags.
type Config struct {
	// Postgres; empty runs the engine in memory only
	PostgresURL   string
	MigrationsDir string // empty uses the embedded migrations

	// NATS; empty disables the command and event streams
	NATSURL string

	// Redis snapshot cache; empty disables it
	RedisURL         string
	SnapshotCacheTTL time.Duration

	// Deployment
	Owner         string
	KeeperAddress string // empty disables the keeper
	Genesis       int64
	PriceMaxAge   int64

	// Channels
	PersistChanSize    int
	ProjectionChanSize int
	SubscriberBuffer   int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
	SnapshotInterval    int64

	// Transports
	GRPCAddr       string
	HTTPAddr       string
	AllowedOrigins []string

	IdempotencyLRUCapacity int
	HistoryCapacity        int
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:            os.Getenv("PERP_POSTGRES_DSN"),
		MigrationsDir:          os.Getenv("PERP_MIGRATIONS_DIR"),
		NATSURL:                os.Getenv("PERP_NATS_URL"),
		RedisURL:               os.Getenv("PERP_REDIS_URL"),
		SnapshotCacheTTL:       envDurationOrDefault("PERP_SNAPSHOT_CACHE_TTL", time.Hour),
		Owner:                  os.Getenv("PERP_OWNER"),
		KeeperAddress:          os.Getenv("PERP_KEEPER_ADDRESS"),
		Genesis:                int64(envIntOrDefault("PERP_GENESIS", 0)),
		PriceMaxAge:            int64(envIntOrDefault("PERP_PRICE_MAX_AGE", 0)),
		PersistChanSize:        envIntOrDefault("PERP_PERSIST_CHAN_SIZE", 1024),
		ProjectionChanSize:     envIntOrDefault("PERP_PROJECTION_CHAN_SIZE", 2048),
		SubscriberBuffer:       envIntOrDefault("PERP_SUBSCRIBER_BUFFER", 1024),
		PersistBatchSize:       envIntOrDefault("PERP_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout:    envDurationOrDefault("PERP_PERSIST_FLUSH_TIMEOUT", 10*time.Millisecond),
		SnapshotInterval:       int64(envIntOrDefault("PERP_SNAPSHOT_INTERVAL", 10_000)),
		GRPCAddr:               envOrDefault("PERP_GRPC_ADDR", ":9090"),
		HTTPAddr:               envOrDefault("PERP_HTTP_ADDR", ":8080"),
		AllowedOrigins:         envList("PERP_CORS_ORIGINS"),
		IdempotencyLRUCapacity: envIntOrDefault("PERP_IDEMPOTENCY_LRU_CAPACITY", 1_000_000),
		HistoryCapacity:        envIntOrDefault("PERP_HISTORY_CAPACITY", 10_000),
	}
}

// Validate parses the addresses and rejects unusable values.
func (c Config) Validate() (owner, keeper uuid.UUID, err error) {
	if c.Owner == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("PERP_OWNER is required")
	}
	owner, err = uuid.Parse(c.Owner)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("owner: %w", err)
	}
	if c.KeeperAddress != "" {
		keeper, err = uuid.Parse(c.KeeperAddress)
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("keeper address: %w", err)
		}
	}
	if c.PersistChanSize <= 0 || c.ProjectionChanSize <= 0 || c.SubscriberBuffer <= 0 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("channel sizes must be positive")
	}
	return owner, keeper, nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
