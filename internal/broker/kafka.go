// Package broker publishes committed telemetry batches to Kafka for
// downstream consumers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror writes one message per sample, keyed by device id so that a
// device's samples land on the same partition in order.
type KafkaMirror struct {
	writer messageWriter
}

func NewKafkaMirror(cfg *config.Config) *KafkaMirror {
	return &KafkaMirror{writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaTopic,
		Balancer: &kafka.Hash{},

		BatchSize:    1000,
		BatchBytes:   1 << 20,
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}}
}

func (m *KafkaMirror) Name() string { return "kafka" }

func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}

func (m *KafkaMirror) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	msgs, err := encode(events)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := m.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write of %d messages: %w", len(msgs), err)
	}
	return nil
}

func encode(events []domain.TelemetryEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event of %s: %w", e.DeviceID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.DeviceID),
			Value: value,
			Time:  e.Timestamp,
		})
	}
	return msgs, nil
}
