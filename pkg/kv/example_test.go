package kv_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/leafsii/marketplace/pkg/kv"

	// Import backends to register them
	_ "github.com/leafsii/marketplace/pkg/kv/memory"
	_ "github.com/leafsii/marketplace/pkg/kv/redis"
)

func ExampleNewStoreFromConfig_memory() {
	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.BackendMemory,
		JanitorInterval: 30 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.HSet(ctx, "mp:fees", "0xabc", []byte("15")); err != nil {
		log.Fatal(err)
	}

	value, err := store.HGet(ctx, "mp:fees", "0xabc")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(value))
	// Output: 15
}

func ExampleNewStoreFromConfig_fallback() {
	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:             kv.BackendRedis,
		RedisURL:            "redis://127.0.0.1:1/0",
		FallbackToMemory:    true,
		StartupProbeTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println(store.Ping(context.Background()) == nil)
	// Output: true
}
