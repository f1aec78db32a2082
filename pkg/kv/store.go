package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or field is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrWrongType is returned when an operation targets a key holding another kind of value
var ErrWrongType = errors.New("wrong type for key")

// ErrNotInteger is returned by counter operations on non-numeric values
var ErrNotInteger = errors.New("value is not an integer")

// Store defines the subset of Redis operations the marketplace persists through.
type Store interface {
	// String operations
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Key operations
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Counter operations
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, field string, value []byte) error
	HGet(ctx context.Context, key string, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// HReplace atomically swaps the whole hash for fields. An empty map deletes the key.
	HReplace(ctx context.Context, key string, fields map[string][]byte) error

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
