package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/leafsii/marketplace/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.RWMutex
	strings     map[string][]byte
	hashes      map[string]map[string][]byte
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

// New creates a new in-memory store with optional janitor for TTL cleanup
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string][]byte),
		hashes:          make(map[string]map[string][]byte),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyUnsafe(key)
		}
	}
}

// live reports whether key is present and not expired (must hold a lock).
// Expired keys are left for the janitor or the next writer.
func (s *Store) live(key string) bool {
	if expiry, ok := s.expirations[key]; ok && time.Now().After(expiry) {
		return false
	}
	_, isString := s.strings[key]
	_, isHash := s.hashes[key]
	return isString || isHash
}

// purgeIfExpired drops key when its TTL has passed (must hold write lock)
func (s *Store) purgeIfExpired(key string) {
	if expiry, ok := s.expirations[key]; ok && time.Now().After(expiry) {
		s.deleteKeyUnsafe(key)
	}
}

// deleteKeyUnsafe removes a key from all data structures (must hold write lock)
func (s *Store) deleteKeyUnsafe(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.expirations, key)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyUnsafe(key)
	s.strings[key] = copyBytes(value)

	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.live(key) {
		return nil, kv.ErrNotFound
	}
	value, exists := s.strings[key]
	if !exists {
		return nil, kv.ErrNotFound
	}
	return copyBytes(value), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.live(key) {
			deleted++
		}
		s.deleteKeyUnsafe(key)
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, key := range keys {
		if s.live(key) {
			count++
		}
	}
	return count, nil
}

// TTL returns -1 for keys without expiration, matching Redis.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.live(key) {
		return 0, kv.ErrNotFound
	}
	expiry, ok := s.expirations[key]
	if !ok {
		return -1, nil
	}
	return time.Until(expiry), nil
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)
	if _, isHash := s.hashes[key]; isHash {
		return 0, kv.ErrWrongType
	}

	var current int64
	if raw, exists := s.strings[key]; exists {
		parsed, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, kv.ErrNotInteger
		}
		current = parsed
	}

	current += n
	s.strings[key] = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)
	if _, isString := s.strings[key]; isString {
		return kv.ErrWrongType
	}
	hash, exists := s.hashes[key]
	if !exists {
		hash = make(map[string][]byte)
		s.hashes[key] = hash
	}
	hash[field] = copyBytes(value)
	return nil
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.live(key) {
		return nil, kv.ErrNotFound
	}
	value, exists := s.hashes[key][field]
	if !exists {
		return nil, kv.ErrNotFound
	}
	return copyBytes(value), nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeIfExpired(key)
	hash, exists := s.hashes[key]
	if !exists {
		return 0, nil
	}

	var deleted int64
	for _, field := range fields {
		if _, ok := hash[field]; ok {
			delete(hash, field)
			deleted++
		}
	}
	if len(hash) == 0 {
		s.deleteKeyUnsafe(key)
	}
	return deleted, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.live(key) {
		return nil, kv.ErrNotFound
	}
	hash, exists := s.hashes[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	result := make(map[string][]byte, len(hash))
	for field, value := range hash {
		result[field] = copyBytes(value)
	}
	return result, nil
}

func (s *Store) HReplace(ctx context.Context, key string, fields map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyUnsafe(key)
	if len(fields) == 0 {
		return nil
	}

	hash := make(map[string][]byte, len(fields))
	for field, value := range fields {
		hash[field] = copyBytes(value)
	}
	s.hashes[key] = hash
	return nil
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.janitorInterval > 0 {
			close(s.janitorStop)
		}
		<-s.janitorDone
	})
	return nil
}
