// Package bus provides the in-process, topic-keyed publish/subscribe
// primitive underneath the alerting and governance engine. Publishing
// validates the payload against its topic contract, best-effort appends the
// event to a durable log, and dispatches to subscribers with per-topic
// ordering and per-handler isolation.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

const (
	// topicBufferSize is the capacity of each per-topic dispatch channel.
	// Events are dropped with a warning when a topic's buffer is full so a
	// hanging subscriber can never stall publishers or unrelated topics.
	topicBufferSize = 1024
	// defaultHandlerTimeout bounds a single handler invocation.
	defaultHandlerTimeout = 10 * time.Second
	// eventLogTimeout bounds the best-effort durable log append.
	eventLogTimeout = 3 * time.Second
)

// Handler processes one event. Returning an error is logged and isolated;
// it never affects other handlers or the publisher.
type Handler func(ctx context.Context, ev events.Event) error

// Recorder receives bus-level counters. Implemented by the metrics package;
// the zero default is a no-op.
type Recorder interface {
	RecordPublished(topic string)
	RecordDropped(topic string)
	RecordRejected(topic string)
	RecordHandlerError(topic string)
}

// NoOpRecorder discards all counters.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordPublished(string)    {}
func (NoOpRecorder) RecordDropped(string)      {}
func (NoOpRecorder) RecordRejected(string)     {}
func (NoOpRecorder) RecordHandlerError(string) {}

// Bus is the in-process event bus.
type Bus struct {
	eventLog       store.EventLog
	recorder       Recorder
	handlerTimeout time.Duration

	mu       sync.RWMutex
	topics   map[string]*topicQueue
	stopped  bool
	workerWG sync.WaitGroup
}

type topicQueue struct {
	handlers []Handler
	ch       chan events.Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// WithHandlerTimeout overrides the per-handler invocation bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) { b.handlerTimeout = d }
}

// New creates a bus. eventLog may be nil, in which case durable logging is
// disabled (still best-effort by contract, so nothing else changes).
func New(eventLog store.EventLog, opts ...Option) *Bus {
	b := &Bus{
		eventLog:       eventLog,
		recorder:       NoOpRecorder{},
		handlerTimeout: defaultHandlerTimeout,
		topics:         make(map[string]*topicQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic. Handlers registered after events
// were published see only subsequent events.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.topics[topic]
	if !ok {
		q = &topicQueue{ch: make(chan events.Event, topicBufferSize)}
		b.topics[topic] = q
		b.workerWG.Add(1)
		go b.dispatchLoop(topic, q)
	}
	q.handlers = append(q.handlers, h)
}

// Publish validates the payload, appends it to the durable event log
// best-effort, and enqueues it for ordered delivery to the topic's
// subscribers. Invalid payloads are dropped with a warning and never
// delivered or logged as valid events.
func (b *Bus) Publish(ctx context.Context, payload events.Payload) error {
	topic := payload.Topic()
	if err := payload.Validate(); err != nil {
		b.recorder.RecordRejected(topic)
		slog.Warn("Dropping event failing payload validation",
			"topic", topic,
			"error", err,
		)
		return fmt.Errorf("payload validation failed: %w", err)
	}

	ev := events.Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	// Durable log and handler dispatch are independent fire-and-forget
	// operations; a logging failure can never mask or block delivery.
	b.appendEventLog(ev)

	b.recorder.RecordPublished(topic)

	// Enqueue under the read lock so Close cannot close the channel while a
	// send is in flight.
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.topics[topic]
	if b.stopped || !ok {
		// No subscribers is a normal condition, not an error.
		return nil
	}

	select {
	case q.ch <- ev:
	default:
		b.recorder.RecordDropped(topic)
		slog.Warn("Topic buffer full, dropping event",
			"topic", topic,
			"event_id", ev.ID,
		)
	}
	return nil
}

// appendEventLog writes the event to the durable log. Never returns an error
// and never blocks delivery.
func (b *Bus) appendEventLog(ev events.Event) {
	if b.eventLog == nil {
		return
	}
	data, err := json.Marshal(ev.Payload.Fields())
	if err != nil {
		slog.Warn("Failed to marshal event for durable log",
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventLogTimeout)
	defer cancel()
	if err := b.eventLog.AppendEvent(ctx, &store.EventLogEntry{
		EventID: ev.ID,
		Topic:   ev.Topic,
		Payload: data,
		At:      ev.At,
	}); err != nil {
		slog.Warn("Failed to append event to durable log",
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
	}
}

// dispatchLoop delivers events for one topic in publish order.
func (b *Bus) dispatchLoop(topic string, q *topicQueue) {
	defer b.workerWG.Done()
	for ev := range q.ch {
		b.mu.RLock()
		handlers := make([]Handler, len(q.handlers))
		copy(handlers, q.handlers)
		b.mu.RUnlock()

		for _, h := range handlers {
			b.invoke(topic, h, ev)
		}
	}
}

// invoke runs one handler with panic recovery and a bounded timeout. One
// handler failing never prevents the others from running.
func (b *Bus) invoke(topic string, h Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.recorder.RecordHandlerError(topic)
			slog.Error("Event handler panicked",
				"topic", topic,
				"event_id", ev.ID,
				"panic", r,
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	if err := h(ctx, ev); err != nil {
		b.recorder.RecordHandlerError(topic)
		slog.Error("Event handler failed",
			"topic", topic,
			"event_id", ev.ID,
			"error", err,
		)
	}
}

// Close stops accepting events and waits for in-flight dispatch to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, q := range b.topics {
		close(q.ch)
	}
	b.mu.Unlock()
	b.workerWG.Wait()
}
