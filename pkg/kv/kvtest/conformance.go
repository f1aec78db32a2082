// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/leafsii/marketplace/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	cases := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Del", testDel},
		{"Exists", testExists},
		{"SetWithTTL", testSetWithTTL},
		{"TTL", testTTL},
		{"IncrBy", testIncrBy},
		{"IncrByInvalidValue", testIncrByInvalidValue},
		{"HSetGet", testHSetGet},
		{"HGetAll", testHGetAll},
		{"HDel", testHDel},
		{"HReplace", testHReplace},
		{"HReplaceEmpty", testHReplaceEmpty},
		{"HealthCheck", testHealthCheck},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tc.test(t, store)
		})
	}
}

// reset clears keys left behind by earlier runs against a shared backend.
func reset(t *testing.T, store kv.Store, keys ...string) context.Context {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Del(ctx, keys...); err != nil {
		t.Fatalf("Del during reset failed: %v", err)
	}
	return ctx
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:string")

	if err := store.Set(ctx, "kvtest:string", []byte("hello world")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, "kvtest:string")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "hello world" {
		t.Fatalf("Expected %q, got %q", "hello world", result)
	}

	// Overwrite
	if err := store.Set(ctx, "kvtest:string", []byte("bye")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	result, _ = store.Get(ctx, "kvtest:string")
	if string(result) != "bye" {
		t.Fatalf("Expected overwritten value, got %q", result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:missing")

	_, err := store.Get(ctx, "kvtest:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:del1", "kvtest:del2", "kvtest:del3")

	store.Set(ctx, "kvtest:del1", []byte("a"))
	store.HSet(ctx, "kvtest:del2", "f", []byte("b"))

	deleted, err := store.Del(ctx, "kvtest:del1", "kvtest:del2", "kvtest:del3")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 deleted keys, got %d", deleted)
	}
	if _, err := store.Get(ctx, "kvtest:del1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected deleted key to be gone, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:exists1", "kvtest:exists2")

	store.Set(ctx, "kvtest:exists1", []byte("a"))

	count, err := store.Exists(ctx, "kvtest:exists1", "kvtest:exists2")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 existing key, got %d", count)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:ttl")

	if err := store.Set(ctx, "kvtest:ttl", []byte("temp"), time.Second); err != nil {
		t.Fatalf("Set with TTL failed: %v", err)
	}
	if _, err := store.Get(ctx, "kvtest:ttl"); err != nil {
		t.Fatalf("Expected key before expiry: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := store.Get(ctx, "kvtest:ttl"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to expire, got %v", err)
	}
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:ttl:persistent", "kvtest:ttl:volatile", "kvtest:ttl:missing")

	store.Set(ctx, "kvtest:ttl:persistent", []byte("a"))
	store.Set(ctx, "kvtest:ttl:volatile", []byte("b"), 10*time.Second)

	ttl, err := store.TTL(ctx, "kvtest:ttl:persistent")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl >= 0 {
		t.Fatalf("Expected negative TTL for key without expiry, got %v", ttl)
	}

	ttl, err = store.TTL(ctx, "kvtest:ttl:volatile")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("Expected TTL in (0, 10s], got %v", ttl)
	}

	if _, err := store.TTL(ctx, "kvtest:ttl:missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing key, got %v", err)
	}
}

func testIncrBy(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:counter")

	value, err := store.IncrBy(ctx, "kvtest:counter", 5)
	if err != nil {
		t.Fatalf("IncrBy failed: %v", err)
	}
	if value != 5 {
		t.Fatalf("Expected 5, got %d", value)
	}

	value, err = store.IncrBy(ctx, "kvtest:counter", -2)
	if err != nil {
		t.Fatalf("IncrBy failed: %v", err)
	}
	if value != 3 {
		t.Fatalf("Expected 3, got %d", value)
	}

	raw, err := store.Get(ctx, "kvtest:counter")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(raw) != "3" {
		t.Fatalf("Expected counter stored as \"3\", got %q", raw)
	}
}

func testIncrByInvalidValue(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:notanumber")

	store.Set(ctx, "kvtest:notanumber", []byte("abc"))

	if _, err := store.IncrBy(ctx, "kvtest:notanumber", 1); !errors.Is(err, kv.ErrNotInteger) {
		t.Fatalf("Expected ErrNotInteger, got %v", err)
	}
}

func testHSetGet(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:hash")

	if err := store.HSet(ctx, "kvtest:hash", "field1", []byte("value1")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	result, err := store.HGet(ctx, "kvtest:hash", "field1")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(result) != "value1" {
		t.Fatalf("Expected value1, got %q", result)
	}

	if _, err := store.HGet(ctx, "kvtest:hash", "nope"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing field, got %v", err)
	}
	if _, err := store.HGet(ctx, "kvtest:nohash", "field1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing key, got %v", err)
	}
}

func testHGetAll(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:hashall", "kvtest:hashall:missing")

	store.HSet(ctx, "kvtest:hashall", "a", []byte("1"))
	store.HSet(ctx, "kvtest:hashall", "b", []byte("2"))

	result, err := store.HGetAll(ctx, "kvtest:hashall")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	expected := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("Expected %v, got %v", expected, result)
	}

	if _, err := store.HGetAll(ctx, "kvtest:hashall:missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testHDel(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:hashdel")

	store.HSet(ctx, "kvtest:hashdel", "a", []byte("1"))
	store.HSet(ctx, "kvtest:hashdel", "b", []byte("2"))

	deleted, err := store.HDel(ctx, "kvtest:hashdel", "a", "c")
	if err != nil {
		t.Fatalf("HDel failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted field, got %d", deleted)
	}

	// Removing the last field removes the key.
	store.HDel(ctx, "kvtest:hashdel", "b")
	if count, _ := store.Exists(ctx, "kvtest:hashdel"); count != 0 {
		t.Fatalf("Expected empty hash to be removed")
	}
}

func testHReplace(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:replace")

	store.HSet(ctx, "kvtest:replace", "stale", []byte("x"))

	next := map[string][]byte{"fresh": []byte("y"), "other": []byte("z")}
	if err := store.HReplace(ctx, "kvtest:replace", next); err != nil {
		t.Fatalf("HReplace failed: %v", err)
	}

	result, err := store.HGetAll(ctx, "kvtest:replace")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if !reflect.DeepEqual(result, next) {
		t.Fatalf("Expected %v, got %v", next, result)
	}
}

func testHReplaceEmpty(t *testing.T, store kv.Store) {
	ctx := reset(t, store, "kvtest:replace:empty")

	store.HSet(ctx, "kvtest:replace:empty", "a", []byte("1"))

	if err := store.HReplace(ctx, "kvtest:replace:empty", nil); err != nil {
		t.Fatalf("HReplace failed: %v", err)
	}
	if _, err := store.HGetAll(ctx, "kvtest:replace:empty"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected hash to be removed, got %v", err)
	}
}

func testHealthCheck(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
