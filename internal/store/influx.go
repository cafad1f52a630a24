package store

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
)

const influxMeasurement = "telemetry"

// InfluxMirror copies committed batches into an InfluxDB bucket, one point per
// sample tagged with the device id.
type InfluxMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxMirror(cfg *config.Config) *InfluxMirror {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func (m *InfluxMirror) Name() string { return "influx" }

func (m *InfluxMirror) Close() {
	if m != nil && m.client != nil {
		m.client.Close()
	}
}

func (m *InfluxMirror) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	points := make([]*write.Point, 0, len(events))
	for _, e := range events {
		if p := toPoint(e); p != nil {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil
	}
	if err := m.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write of %d points: %w", len(points), err)
	}
	return nil
}

// toPoint returns nil for a sample without any reading, which InfluxDB would
// reject for having no fields.
func toPoint(e domain.TelemetryEvent) *write.Point {
	fields := make(map[string]any, 5)
	for name, v := range map[string]*float64{
		"lat":           e.Lat,
		"lon":           e.Lon,
		"speed_kmh":     e.SpeedKmh,
		"engine_temp_c": e.EngineTempC,
		"battery_v":     e.BatteryV,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(influxMeasurement, map[string]string{"device_id": e.DeviceID}, fields, e.Timestamp)
}
