package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is a single pubsub delivery, independent of the backend that carried it.
type Message struct {
	Channel string
	Payload string
}

// Subscription streams messages for a fixed set of channels until closed.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// MockPubSub is the in-memory Subscription handed out by PubSubHub.
type MockPubSub struct {
	ch       chan *Message
	channels []string
	hub      *PubSubHub
	once     sync.Once
}

func (m *MockPubSub) Channel() <-chan *Message {
	return m.ch
}

func (m *MockPubSub) Close() error {
	m.once.Do(func() {
		m.hub.unsubscribe(m)
		close(m.ch)
	})
	return nil
}

// PubSubHub fans published messages out to in-process subscribers.
type PubSubHub struct {
	mu   sync.RWMutex
	subs map[string]map[*MockPubSub]struct{}
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{subs: make(map[string]map[*MockPubSub]struct{})}
}

// Subscribe registers a subscriber; it is removed when ctx is done or Close is called.
func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *MockPubSub {
	sub := &MockPubSub{
		ch:       make(chan *Message, 100),
		channels: channels,
		hub:      h,
	}

	h.mu.Lock()
	for _, channel := range channels {
		if h.subs[channel] == nil {
			h.subs[channel] = make(map[*MockPubSub]struct{})
		}
		h.subs[channel][sub] = struct{}{}
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// Publish delivers to every subscriber of channel and reports how many were reached.
// Slow subscribers whose buffer is full miss the message.
func (h *PubSubHub) Publish(channel, payload string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- &Message{Channel: channel, Payload: payload}:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *PubSubHub) unsubscribe(sub *MockPubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range sub.channels {
		delete(h.subs[channel], sub)
		if len(h.subs[channel]) == 0 {
			delete(h.subs, channel)
		}
	}
}

// redisSubscription adapts a redis PubSub to Subscription.
type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan *Message
	done   chan struct{}
	once   sync.Once
}

func newRedisSubscription(pubsub *redis.PubSub) *redisSubscription {
	s := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan *Message, 100),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *redisSubscription) forward() {
	defer close(s.ch)
	in := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan *Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
