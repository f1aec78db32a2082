package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/store"
)

// Publisher is the subset of store.Cache used for live delivery.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// PubSubSink publishes each event on its type channel and, when it concerns a
// collection, on that collection's channel.
type PubSubSink struct {
	publisher Publisher
}

func NewPubSubSink(publisher Publisher) *PubSubSink {
	return &PubSubSink{publisher: publisher}
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Deliver(ctx context.Context, ev marketplace.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.publisher.Publish(ctx, store.EventChannel(ev.Type), payload); err != nil {
		return err
	}
	if ev.Collection != "" {
		if err := s.publisher.Publish(ctx, store.CollectionChannel(ev.Collection), payload); err != nil {
			return err
		}
	}
	return nil
}

// Appender persists events; satisfied by repository.EventRepository.
type Appender interface {
	Append(ctx context.Context, ev marketplace.Event) error
}

type ArchiveSink struct {
	archive Appender
}

func NewArchiveSink(archive Appender) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Deliver(ctx context.Context, ev marketplace.Event) error {
	return s.archive.Append(ctx, ev)
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev marketplace.Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Deliver(ctx context.Context, ev marketplace.Event) error {
	return f.Fn(ctx, ev)
}
