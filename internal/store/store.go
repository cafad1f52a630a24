package store

import (
	"context"
	"errors"

	"fleet-monitor/telemetry/internal/domain"
)

var ErrNotFound = errors.New("not found")

// DeviceSeries is the history of one device inside a query window.
type DeviceSeries struct {
	DeviceID string
	Events   domain.EventSeries
}

// Reader is the query side of the telemetry store. Windows are half-open.
type Reader interface {
	// Latest returns the newest sample of a device, or ErrNotFound.
	Latest(ctx context.Context, deviceID string) (domain.TelemetryEvent, error)
	// LatestPerDevice returns the newest sample of every device, sorted by device id.
	LatestPerDevice(ctx context.Context) ([]domain.TelemetryEvent, error)
	// DeviceEvents returns a device's samples in w, ascending. A positive limit
	// keeps only the newest limit samples.
	DeviceEvents(ctx context.Context, deviceID string, w domain.Window, limit int) (domain.EventSeries, error)
	// EventsInWindow returns the samples of every device in w, grouped by
	// device and sorted by device id.
	EventsInWindow(ctx context.Context, w domain.Window) ([]DeviceSeries, error)
}
