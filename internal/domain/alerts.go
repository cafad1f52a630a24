package domain

import (
	"fmt"
	"time"
)

type SampleAlertType string

const (
	AlertHighSpeed      SampleAlertType = "HIGH_SPEED"
	AlertEngineOverheat SampleAlertType = "ENGINE_OVERHEAT"
)

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// SampleAlert is a threshold breach found in a single telemetry sample.
type SampleAlert struct {
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"ts"`
	Type      SampleAlertType `json:"alert_type"`
	Severity  AlertSeverity   `json:"severity"`
	Value     float64         `json:"value"`
	Message   string          `json:"message"`
}

type SampleAlertRule struct {
	Type     SampleAlertType
	Severity AlertSeverity
	// Value extracts the reading the rule watches; ok is false when it is missing.
	Value     func(e TelemetryEvent) (v float64, ok bool)
	Threshold float64
	Message   string
}

var DefaultSampleAlertRules = []SampleAlertRule{
	{
		Type:     AlertHighSpeed,
		Severity: SeverityWarning,
		Value: func(e TelemetryEvent) (float64, bool) {
			if e.SpeedKmh == nil {
				return 0, false
			}
			return *e.SpeedKmh, true
		},
		Threshold: 90.0,
		Message:   "Speed above 90 km/h: %.1f km/h",
	},
	{
		Type:     AlertEngineOverheat,
		Severity: SeverityCritical,
		Value: func(e TelemetryEvent) (float64, bool) {
			if e.EngineTempC == nil {
				return 0, false
			}
			return *e.EngineTempC, true
		},
		Threshold: 100.0,
		Message:   "Engine temperature above 100 °C: %.1f °C",
	},
}

// Evaluate returns the alerts e triggers under rules.
func Evaluate(e TelemetryEvent, rules []SampleAlertRule) []SampleAlert {
	var out []SampleAlert
	for _, rule := range rules {
		v, ok := rule.Value(e)
		if !ok || v <= rule.Threshold {
			continue
		}
		out = append(out, SampleAlert{
			DeviceID:  e.DeviceID,
			Timestamp: e.Timestamp,
			Type:      rule.Type,
			Severity:  rule.Severity,
			Value:     v,
			Message:   fmt.Sprintf(rule.Message, v),
		})
	}
	return out
}
