package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

// BatchSink durably commits an ordered batch of events or fails.
// The buffer treats every error as transient.
type BatchSink interface {
	Commit(ctx context.Context, events []domain.TelemetryEvent) error
}

type BufferConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxAttempts   int
	// RetryBackoff is multiplied by the attempt number before the next try.
	RetryBackoff time.Duration
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Buffer accumulates events in memory and hands them to a BatchSink when the
// batch size is reached or the flush interval elapses.
//
// A batch whose every attempt fails is dropped: the producers were already told
// their events were accepted, so the loss is only visible in the logs and in
// telemetry_events_dropped_total.
type Buffer struct {
	sink BatchSink
	cfg  BufferConfig
	log  *slog.Logger

	mu      sync.Mutex
	pending []domain.TelemetryEvent

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewBuffer(sink BatchSink, cfg BufferConfig, logger *slog.Logger) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		sink:    sink,
		cfg:     cfg,
		log:     logger.With("component", "buffer"),
		pending: make([]domain.TelemetryEvent, 0, cfg.BatchSize),
	}
}

// Add appends an event. When this fills the batch, Add writes it out before
// returning, so the caller pays for the flush.
func (b *Buffer) Add(ctx context.Context, e domain.TelemetryEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, e)
	var batch []domain.TelemetryEvent
	if len(b.pending) >= b.cfg.BatchSize {
		batch = b.takeLocked()
	}
	b.mu.Unlock()

	if batch != nil {
		b.write(ctx, batch, "size")
	}
}

// Flush writes out everything pending. Events added while the write is in
// progress go to the next batch.
func (b *Buffer) Flush(ctx context.Context) {
	b.flush(ctx, "manual")
}

// Len returns the number of events waiting for the next flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start launches the periodic flush. It must be paired with Stop.
func (b *Buffer) Start(ctx context.Context) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
}

// Stop cancels the periodic flush, waits for an in-flight one to finish and
// drains whatever is left with a final flush.
func (b *Buffer) Stop(ctx context.Context) {
	b.lifecycle.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.flush(ctx, "shutdown")
}

func (b *Buffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush(ctx, "interval")
		case <-ctx.Done():
			return
		}
	}
}

func (b *Buffer) flush(ctx context.Context, trigger string) {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	b.write(ctx, batch, trigger)
}

// takeLocked swaps the pending slice for a fresh one. Caller holds b.mu.
func (b *Buffer) takeLocked() []domain.TelemetryEvent {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]domain.TelemetryEvent, 0, b.cfg.BatchSize)
	return batch
}

// write commits a batch with up to MaxAttempts tries. The batch is shared by
// many producers, so it is detached from the caller's cancellation.
func (b *Buffer) write(ctx context.Context, batch []domain.TelemetryEvent, trigger string) {
	ctx = context.WithoutCancel(ctx)
	batchID := uuid.NewString()
	start := time.Now()
	metrics.BatchSize.Observe(float64(len(batch)))

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		err := b.sink.Commit(ctx, batch)
		if err == nil {
			metrics.FlushDuration.Observe(time.Since(start).Seconds())
			metrics.Flushes.WithLabelValues(trigger, "ok").Inc()
			metrics.EventsPersisted.Add(float64(len(batch)))
			b.log.Debug("batch flushed", "batch_id", batchID, "trigger", trigger, "events", len(batch), "attempt", attempt)
			return
		}

		b.log.Warn("flush attempt failed", "batch_id", batchID, "trigger", trigger, "events", len(batch), "attempt", attempt, "err", err)
		if attempt < b.cfg.MaxAttempts {
			metrics.FlushRetries.Inc()
			time.Sleep(b.cfg.RetryBackoff * time.Duration(attempt))
		}
	}

	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.Flushes.WithLabelValues(trigger, "dropped").Inc()
	metrics.EventsDropped.Add(float64(len(batch)))
	b.log.Error("batch dropped after retries", "batch_id", batchID, "trigger", trigger, "dropped", len(batch), "attempts", b.cfg.MaxAttempts)
}
