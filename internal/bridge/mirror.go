package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/bus"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
)

// ParseBrokers parses a comma-separated broker list and trims whitespace.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	return brokerList
}

// Mirror republishes selected bus topics onto Kafka for downstream
// consumers. Messages are keyed by subject key so all events for one SKU
// land on one partition.
type Mirror struct {
	writer *kafka.Writer
	topics []string
}

// NewMirror creates a mirror writing to the given brokers. One writer
// serves every mirrored topic; the topic is set per message.
func NewMirror(brokers string, topics []string) (*Mirror, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	brokerList := ParseBrokers(brokers)

	slog.Info("Initializing Kafka mirror",
		"brokers", brokerList,
		"topics", topics,
	)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Mirror{writer: writer, topics: topics}, nil
}

// Bind subscribes the mirror to its topics on the bus.
func (m *Mirror) Bind(b *bus.Bus) {
	for _, topic := range m.topics {
		b.Subscribe(topic, m.handle)
	}
}

// handle writes one bus event out to Kafka.
func (m *Mirror) handle(ctx context.Context, ev events.Event) error {
	value, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(events.SubjectKey(ev.Payload)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Time: ev.At,
	}

	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to mirror event to Kafka",
			"topic", ev.Topic,
			"event_id", ev.ID,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close gracefully closes the Kafka writer.
func (m *Mirror) Close() error {
	slog.Info("Closing Kafka mirror")
	return m.writer.Close()
}
