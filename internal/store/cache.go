package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/metrics"
	"github.com/leafsii/marketplace/pkg/kv"
	memkv "github.com/leafsii/marketplace/pkg/kv/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache struct {
	// When Redis is available, use client for all operations
	client *redis.Client
	// When Redis is unavailable, fall back to an in-memory kv.Store
	kvStore kv.Store
	// In-memory pubsub hub for when Redis is unavailable
	pubsubHub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to redisURL. An empty URL or an unreachable server yields
// an in-memory cache with in-process pubsub.
func NewCache(redisURL string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if redisURL == "" {
		return NewMemoryCache(logger, metrics), nil
	}
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache with mock pubsub", "error", err)
		}
		return NewMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func NewMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	return &Cache{
		kvStore:   memkv.NewStore(),
		pubsubHub: NewPubSubHub(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Cache key prefixes and pubsub channels
const (
	KeyEventsPage     = "mp:cache:events"
	ChannelEvents     = "mp:events:"
	ChannelCollection = "mp:collection:"
)

// EventChannel is the pubsub channel carrying events of one type.
func EventChannel(t marketplace.EventType) string {
	return ChannelEvents + string(t)
}

// CollectionChannel is the pubsub channel carrying every event touching a collection.
func CollectionChannel(collection marketplace.Address) string {
	return ChannelCollection + collection.String()
}

// EventChannels lists the per-type channels for every known event type.
func EventChannels() []string {
	channels := make([]string, 0, len(marketplace.AllEventTypes))
	for _, t := range marketplace.AllEventTypes {
		channels = append(channels, EventChannel(t))
	}
	return channels
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			if c.logger != nil {
				c.logger.Errorw("Cache get error", "key", key, "error", err)
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, err := c.kvStore.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) recordMiss(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, key)
	}
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache set error", "key", key, "error", err)
			}
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			}
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// InvalidatePrefix drops every cached key starting with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	if c.client == nil {
		// the in-memory store has no key scan; cached pages there expire by TTL
		return nil
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}
	return c.Delete(ctx, keys...)
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	var (
		n   int64
		err error
	)
	if c.client != nil {
		n, err = c.client.Exists(ctx, key).Result()
	} else {
		n, err = c.kvStore.Exists(ctx, key)
	}
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

// Publish sends message to channel. Strings and byte slices are sent as is,
// everything else is JSON encoded.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	var payload string
	switch m := message.(type) {
	case string:
		payload = m
	case []byte:
		payload = string(m)
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("publish marshal error: %w", err)
		}
		payload = string(data)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Publish error", "channel", channel, "error", err)
			}
			return fmt.Errorf("publish error: %w", err)
		}
		return nil
	}

	c.pubsubHub.Publish(channel, payload)
	return nil
}

// Subscribe returns a backend-independent subscription to channels.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		return newRedisSubscription(c.client.Subscribe(ctx, channels...))
	}
	return c.pubsubHub.Subscribe(ctx, channels...)
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return c.kvStore.Ping(ctx)
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return c.kvStore.Close()
}
