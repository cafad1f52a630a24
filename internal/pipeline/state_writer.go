package pipeline

import (
	"context"

	"fleet-monitor/telemetry/internal/domain"
)

// StatePublisher stores the current state of devices and announces it to
// live subscribers.
type StatePublisher interface {
	PublishState(ctx context.Context, latest []domain.TelemetryEvent) error
}

// StateWriter mirrors committed batches into the live state store. Only the
// newest sample per device in a batch is written.
type StateWriter struct {
	pub StatePublisher
}

func NewStateWriter(pub StatePublisher) *StateWriter {
	return &StateWriter{pub: pub}
}

func (w *StateWriter) Name() string { return "state" }

func (w *StateWriter) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	latest := LatestPerDevice(events)
	if len(latest) == 0 {
		return nil
	}
	return w.pub.PublishState(ctx, latest)
}

// LatestPerDevice keeps the newest event of each device, in order of first
// appearance in the batch.
func LatestPerDevice(events []domain.TelemetryEvent) []domain.TelemetryEvent {
	idx := make(map[string]int, len(events))
	out := make([]domain.TelemetryEvent, 0, len(events))
	for _, e := range events {
		i, ok := idx[e.DeviceID]
		if !ok {
			idx[e.DeviceID] = len(out)
			out = append(out, e)
			continue
		}
		if !e.Timestamp.Before(out[i].Timestamp) {
			out[i] = e
		}
	}
	return out
}
