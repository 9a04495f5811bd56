// Package bridge connects the in-process event bus to Kafka: an ingester
// pulls external topics onto the bus, a mirror pushes selected bus topics
// back out for downstream consumers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/bus"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
)

const (
	// readTimeout is the maximum wait for a Kafka fetch.
	readTimeout = 10 * time.Second
	// writeTimeout is the maximum wait for a Kafka write.
	writeTimeout = 10 * time.Second
)

// Ingester consumes one external Kafka topic and republishes each message
// onto the in-process bus. Offsets are committed only after a successful
// bus publish, giving at-least-once delivery into the engine.
type Ingester struct {
	reader *kafka.Reader
	bus    *bus.Bus
	topic  string
}

// NewIngester creates an ingester for one topic. The Kafka topic name and
// the bus topic name are the same by convention.
func NewIngester(brokers, topic, groupID string, b *bus.Bus) (*Ingester, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := ParseBrokers(brokers)

	slog.Info("Initializing Kafka ingester",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokerList,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     readTimeout,
		StartOffset: kafka.FirstOffset,
	})

	return &Ingester{
		reader: reader,
		bus:    b,
		topic:  topic,
	}, nil
}

// Run consumes until the context is cancelled. Malformed messages are
// committed and skipped; a poison message must not wedge the partition.
func (i *Ingester) Run(ctx context.Context) error {
	slog.Info("Kafka ingester started", "topic", i.topic)
	for {
		msg, err := i.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Info("Kafka ingester stopping", "topic", i.topic)
				return nil
			}
			slog.Error("Failed to fetch message", "topic", i.topic, "error", err)
			continue
		}

		payload, err := events.DecodePayload(i.topic, msg.Value)
		if err != nil {
			slog.Warn("Skipping undecodable message",
				"topic", i.topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			i.commit(ctx, msg)
			continue
		}

		if err := i.bus.Publish(ctx, payload); err != nil {
			// Validation rejects are final; redelivering the same payload
			// would fail identically, so commit and move on.
			slog.Warn("Bus rejected ingested message",
				"topic", i.topic,
				"offset", msg.Offset,
				"error", err,
			)
		}
		i.commit(ctx, msg)
	}
}

func (i *Ingester) commit(ctx context.Context, msg kafka.Message) {
	if err := i.reader.CommitMessages(ctx, msg); err != nil {
		slog.Error("Failed to commit offset",
			"topic", i.topic,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

// Close gracefully closes the Kafka reader.
func (i *Ingester) Close() error {
	slog.Info("Closing Kafka ingester", "topic", i.topic)
	return i.reader.Close()
}
