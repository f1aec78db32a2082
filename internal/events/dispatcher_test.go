package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCollection = marketplace.MustParseAddress("0x00000000000000000000000000000000000000c1")

type collectingSink struct {
	mu     sync.Mutex
	name   string
	events []marketplace.Event
	err    error
}

func (s *collectingSink) Name() string { return s.name }

func (s *collectingSink) Deliver(_ context.Context, ev marketplace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *collectingSink) received() []marketplace.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]marketplace.Event(nil), s.events...)
}

type countingRecorder struct {
	mu       sync.Mutex
	failures map[string]int
}

func (r *countingRecorder) RecordEventFailure(sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]int)
	}
	r.failures[sink]++
}

func (r *countingRecorder) count(sink string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[sink]
}

func event(typ marketplace.EventType) marketplace.Event {
	return marketplace.Event{Type: typ, Collection: testCollection, AssetID: "1", At: time.Now()}
}

func TestDispatcherDeliversInOrderToEverySink(t *testing.T) {
	a := &collectingSink{name: "a"}
	b := &collectingSink{name: "b"}
	d := NewDispatcher(zap.NewNop().Sugar(), []Sink{a, b})

	ctx := context.Background()
	require.NoError(t, d.Emit(ctx, event(marketplace.EventTradingCreated)))
	require.NoError(t, d.Emit(ctx, event(marketplace.EventTradingSold)))
	require.NoError(t, d.Close(ctx))

	for _, sink := range []*collectingSink{a, b} {
		got := sink.received()
		require.Len(t, got, 2)
		assert.Equal(t, marketplace.EventTradingCreated, got[0].Type)
		assert.Equal(t, marketplace.EventTradingSold, got[1].Type)
	}
}

func TestDispatcherSinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &collectingSink{name: "archive", err: errors.New("db down")}
	ok := &collectingSink{name: "pubsub"}
	rec := &countingRecorder{}
	d := NewDispatcher(zap.NewNop().Sugar(), []Sink{failing, ok}, WithFailureRecorder(rec))

	require.NoError(t, d.Emit(context.Background(), event(marketplace.EventTradingCancelled)))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, ok.received(), 1)
	assert.Equal(t, 1, rec.count("archive"))
	assert.Equal(t, 0, rec.count("pubsub"))
}

func TestDispatcherQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocking := SinkFunc{SinkName: "slow", Fn: func(ctx context.Context, ev marketplace.Event) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	rec := &countingRecorder{}
	d := NewDispatcher(zap.NewNop().Sugar(), []Sink{blocking}, WithQueueSize(1), WithFailureRecorder(rec))

	ctx := context.Background()
	require.NoError(t, d.Emit(ctx, event(marketplace.EventTradingCreated)))
	<-started
	// the worker is busy with the first event; the second fills the queue
	require.NoError(t, d.Emit(ctx, event(marketplace.EventTradingCreated)))

	assert.ErrorIs(t, d.Emit(ctx, event(marketplace.EventTradingCreated)), ErrQueueFull)
	assert.Equal(t, 1, rec.count("queue"))

	close(release)
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(nil, nil)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Emit(context.Background(), event(marketplace.EventFeesClaimed)), ErrClosed)
}

func TestPubSubSinkPublishesTypeAndCollection(t *testing.T) {
	cache := store.NewMemoryCache(zap.NewNop().Sugar(), nil)
	defer cache.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	typed := cache.Subscribe(ctx, store.EventChannel(marketplace.EventTradingSold))
	byCollection := cache.Subscribe(ctx, store.CollectionChannel(testCollection))

	sink := NewPubSubSink(cache)
	ev := event(marketplace.EventTradingSold)
	require.NoError(t, sink.Deliver(ctx, ev))

	for _, sub := range []store.Subscription{typed, byCollection} {
		select {
		case msg := <-sub.Channel():
			var got marketplace.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
			assert.Equal(t, marketplace.EventTradingSold, got.Type)
			assert.Equal(t, testCollection, got.Collection)
		case <-time.After(time.Second):
			t.Fatal("no message")
		}
	}
}

func TestPubSubSinkSkipsCollectionChannelForGlobalEvents(t *testing.T) {
	cache := store.NewMemoryCache(zap.NewNop().Sugar(), nil)
	defer cache.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := cache.Subscribe(ctx, store.EventChannel(marketplace.EventCurrencyAdded))
	ev := marketplace.Event{Type: marketplace.EventCurrencyAdded}
	require.NoError(t, NewPubSubSink(cache).Deliver(ctx, ev))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "mp:events:CURRENCY_ADDED", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
}

type appenderFunc func(ctx context.Context, ev marketplace.Event) error

func (f appenderFunc) Append(ctx context.Context, ev marketplace.Event) error { return f(ctx, ev) }

func TestArchiveSink(t *testing.T) {
	var got marketplace.Event
	sink := NewArchiveSink(appenderFunc(func(_ context.Context, ev marketplace.Event) error {
		got = ev
		return nil
	}))
	ev := event(marketplace.EventTradingCreated)
	require.NoError(t, sink.Deliver(context.Background(), ev))
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, "archive", sink.Name())
}
