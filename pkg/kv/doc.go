// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// The marketplace keeps its engine snapshots in hashes (one field per trading
// record, special fee, currency and fee balance), so the interface is limited to
// strings, hashes and counters with TTL support.
//
// Example usage:
//
//	store, err := NewStoreFromConfig(Config{Backend: BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	if err := store.HSet(ctx, "mp:tradings", "0xabc/1", payload); err != nil {
//		log.Fatal(err)
//	}
//
//	value, err := store.HGet(ctx, "mp:tradings", "0xabc/1")
//	if errors.Is(err, ErrNotFound) {
//		log.Println("not listed")
//	}
//
// Backends register themselves from their own packages; import
// pkg/kv/memory and pkg/kv/redis for their side effects before calling
// NewStoreFromConfig.
package kv
