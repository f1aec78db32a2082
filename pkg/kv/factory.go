package kv

import (
	"context"
	"fmt"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// LogFunc receives backend selection events as a message plus key/value pairs.
type LogFunc func(msg string, keysAndValues ...interface{})

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// RedisURL is the connection string for Redis (required when Backend is "redis")
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL string

	// JanitorInterval controls how often the in-memory store cleans up expired keys.
	// Default: 30 seconds
	JanitorInterval time.Duration

	// FallbackToMemory returns an in-memory store when Redis cannot be reached at
	// startup instead of failing.
	FallbackToMemory bool

	// StartupProbeTimeout controls how long to wait for Redis at startup
	// Default: 1 second
	StartupProbeTimeout time.Duration

	// Logger is used for logging backend selection. If nil, no logging occurs.
	Logger LogFunc
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

// factories holds registered store factories
var factories = make(map[Backend]StoreFactory)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = 1 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory, "":
		factory, exists := factories[BackendMemory]
		if !exists {
			return nil, fmt.Errorf("memory backend not registered")
		}
		return factory(cfg)

	case BackendRedis:
		return createRedisStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}
}

func createRedisStore(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	redisFactory, exists := factories[BackendRedis]
	if !exists {
		return nil, fmt.Errorf("redis backend not registered")
	}

	redisStore, err := redisFactory(cfg)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
		defer cancel()
		if err = redisStore.Ping(ctx); err == nil {
			return redisStore, nil
		}
		redisStore.Close()
	}

	if !cfg.FallbackToMemory {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if cfg.Logger != nil {
		cfg.Logger("Redis unavailable at startup; using in-memory store", "error", err.Error())
	}

	memoryFactory, exists := factories[BackendMemory]
	if !exists {
		return nil, fmt.Errorf("memory backend not registered")
	}
	return memoryFactory(cfg)
}
