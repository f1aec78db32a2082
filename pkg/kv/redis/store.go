package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leafsii/marketplace/pkg/kv"
)

// Store is a Redis-backed implementation of the kv.Store interface
type Store struct {
	client *redis.Client
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"connection closed",
	"EOF",
}

// IsConnectionError reports whether err means the server could not be reached.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := err.Error()
	for _, connErr := range connectionErrors {
		if strings.Contains(msg, connErr) {
			return true
		}
	}
	return false
}

func wrapError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsConnectionError(err):
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return fmt.Errorf("%w: %v", kv.ErrWrongType, err)
	case strings.Contains(err.Error(), "not an integer"):
		return fmt.Errorf("%w: %v", kv.ErrNotInteger, err)
	}
	return err
}

// New creates a new Redis-backed store. redisURL may be a full redis:// URL
// or a bare host:port.
func New(redisURL string) (*Store, error) {
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrapError(err)
	}

	return &Store{client: client}, nil
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	var expiration time.Duration
	if len(ttl) > 0 && ttl[0] > 0 {
		expiration = ttl[0]
	}
	return wrapError(s.client.Set(ctx, key, value, expiration).Err())
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, wrapError(err)
	}
	return result, nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrapError(err)
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, wrapError(err)
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrapError(err)
	}

	// Redis reports -2 for missing keys and -1 for keys without expiry.
	switch ttl {
	case -2, -2 * time.Second:
		return 0, kv.ErrNotFound
	case -1 * time.Second:
		return -1, nil
	}
	return ttl, nil
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, n).Result()
	return v, wrapError(err)
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	return wrapError(s.client.HSet(ctx, key, field, value).Err())
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	result, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, wrapError(err)
	}
	return result, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, wrapError(err)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	// Redis has no empty hashes, so an empty reply means the key is absent.
	if len(result) == 0 {
		return nil, kv.ErrNotFound
	}

	byteMap := make(map[string][]byte, len(result))
	for field, value := range result {
		byteMap[field] = []byte(value)
	}
	return byteMap, nil
}

func (s *Store) HReplace(ctx context.Context, key string, fields map[string][]byte) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		values := make(map[string]interface{}, len(fields))
		for field, value := range fields {
			values[field] = value
		}
		pipe.HSet(ctx, key, values)
	}
	_, err := pipe.Exec(ctx)
	return wrapError(err)
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	return wrapError(s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}
