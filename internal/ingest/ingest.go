// Package ingest is the boundary where producers hand telemetry to the
// pipeline. Samples are validated here and only valid ones reach the buffer.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

// Buffer is the part of the ingestion buffer producers use.
type Buffer interface {
	Add(ctx context.Context, e domain.TelemetryEvent)
}

// ValidationError describes why a sample was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Payload is a sample as producers send it. Numeric readings may be JSON
// numbers or numeric strings; null or absent means not reported.
type Payload struct {
	DeviceID    string          `json:"device_id"`
	Timestamp   string          `json:"ts"`
	Lat         json.RawMessage `json:"lat,omitempty"`
	Lon         json.RawMessage `json:"lon,omitempty"`
	SpeedKmh    json.RawMessage `json:"speed_kmh,omitempty"`
	EngineTempC json.RawMessage `json:"engine_temp_c,omitempty"`
	BatteryV    json.RawMessage `json:"battery_v,omitempty"`
}

type Service struct {
	buf Buffer
	log *slog.Logger
}

func NewService(buf Buffer, logger *slog.Logger) *Service {
	return &Service{buf: buf, log: logger.With("component", "ingest")}
}

// Submit decodes a JSON sample and hands it to the buffer. source labels the
// producer transport in metrics.
func (s *Service) Submit(ctx context.Context, source string, raw []byte) (domain.TelemetryEvent, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		metrics.EventsRejected.WithLabelValues(source).Inc()
		return domain.TelemetryEvent{}, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		metrics.EventsRejected.WithLabelValues(source).Inc()
		return domain.TelemetryEvent{}, &ValidationError{Reason: "unexpected data after JSON object"}
	}
	return s.SubmitEvent(ctx, source, p)
}

// SubmitEvent validates a decoded sample and hands it to the buffer.
func (s *Service) SubmitEvent(ctx context.Context, source string, p Payload) (domain.TelemetryEvent, error) {
	e, err := Validate(p)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(source).Inc()
		s.log.Debug("sample rejected", "source", source, "device_id", p.DeviceID, "err", err)
		return domain.TelemetryEvent{}, err
	}

	s.buf.Add(ctx, e)
	metrics.EventsReceived.WithLabelValues(source).Inc()
	return e, nil
}

// Validate turns a payload into an event or returns a *ValidationError.
func Validate(p Payload) (domain.TelemetryEvent, error) {
	id := strings.TrimSpace(p.DeviceID)
	if id == "" {
		return domain.TelemetryEvent{}, &ValidationError{Field: "device_id", Reason: "missing field"}
	}

	if strings.TrimSpace(p.Timestamp) == "" {
		return domain.TelemetryEvent{}, &ValidationError{Field: "ts", Reason: "missing field"}
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.Timestamp))
	if err != nil {
		return domain.TelemetryEvent{}, &ValidationError{Field: "ts", Reason: "not an RFC3339 timestamp"}
	}

	e := domain.TelemetryEvent{DeviceID: id, Timestamp: ts.UTC()}

	fields := []struct {
		name     string
		raw      json.RawMessage
		dst      **float64
		min, max float64
	}{
		{"lat", p.Lat, &e.Lat, -90, 90},
		{"lon", p.Lon, &e.Lon, -180, 180},
		{"speed_kmh", p.SpeedKmh, &e.SpeedKmh, math.Inf(-1), math.Inf(1)},
		{"engine_temp_c", p.EngineTempC, &e.EngineTempC, math.Inf(-1), math.Inf(1)},
		{"battery_v", p.BatteryV, &e.BatteryV, math.Inf(-1), math.Inf(1)},
	}
	for _, f := range fields {
		v, err := parseNumber(f.raw)
		if err != nil {
			return domain.TelemetryEvent{}, &ValidationError{Field: f.name, Reason: err.Error()}
		}
		if v == nil {
			continue
		}
		if *v < f.min || *v > f.max {
			return domain.TelemetryEvent{}, &ValidationError{
				Field:  f.name,
				Reason: fmt.Sprintf("out of range [%g, %g]", f.min, f.max),
			}
		}
		*f.dst = v
	}
	return e, nil
}

// parseNumber accepts a JSON number or a string holding one. Absent and null
// values yield nil.
func parseNumber(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("not a number")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	} else {
		text = string(raw)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("not a number")
	}
	return &v, nil
}
