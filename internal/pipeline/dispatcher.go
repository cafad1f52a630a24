package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

// Mirror is a secondary destination for committed batches.
type Mirror interface {
	BatchSink
	Name() string
}

// Dispatcher is a BatchSink that commits to a primary sink and then fans the
// batch out to mirrors. Only the primary decides the outcome of a commit;
// a mirror that fails is logged and counted.
type Dispatcher struct {
	primary BatchSink
	mirrors []Mirror
	log     *slog.Logger
}

func NewDispatcher(primary BatchSink, logger *slog.Logger, mirrors ...Mirror) *Dispatcher {
	return &Dispatcher{
		primary: primary,
		mirrors: mirrors,
		log:     logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	if err := d.primary.Commit(ctx, events); err != nil {
		return err
	}
	if len(d.mirrors) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, m := range d.mirrors {
		g.Go(func() error {
			if err := m.Commit(ctx, events); err != nil {
				metrics.MirrorFailures.WithLabelValues(m.Name()).Inc()
				d.log.Warn("mirror commit failed", "mirror", m.Name(), "events", len(events), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}
