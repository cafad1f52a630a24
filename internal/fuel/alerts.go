package fuel

import (
	"fmt"
	"sort"

	"fleet-monitor/telemetry/internal/domain"
)

// DaysPerMonth projects a daily cost onto a month.
const DaysPerMonth = 30

type alertRule struct {
	Kind        domain.AlertKind
	Applies     func(w domain.WasteBreakdown, s domain.DriverScore) bool
	DailyCost   func(w domain.WasteBreakdown, s domain.DriverScore) float64
	Description func(w domain.WasteBreakdown, s domain.DriverScore) string
	Action      string
}

var criticalAlertRules = []alertRule{
	{
		Kind: domain.AlertIdle,
		Applies: func(w domain.WasteBreakdown, _ domain.DriverScore) bool {
			return w.IdleHours > 3
		},
		DailyCost: func(w domain.WasteBreakdown, _ domain.DriverScore) float64 {
			return w.IdleCost
		},
		Description: func(w domain.WasteBreakdown, _ domain.DriverScore) string {
			return fmt.Sprintf("Excessive idling: %.1fh/day", w.IdleHours)
		},
		Action: "Check the engine for faults or coach the driver",
	},
	{
		Kind: domain.AlertAggressive,
		Applies: func(w domain.WasteBreakdown, _ domain.DriverScore) bool {
			return w.AggressiveEvents > 30
		},
		DailyCost: func(w domain.WasteBreakdown, _ domain.DriverScore) float64 {
			return w.AggressiveCost
		},
		Description: func(w domain.WasteBreakdown, _ domain.DriverScore) string {
			return fmt.Sprintf("Harsh acceleration/braking %dx/day", w.AggressiveEvents)
		},
		Action: "Train the driver on economical driving",
	},
	{
		Kind: domain.AlertLowScore,
		Applies: func(_ domain.WasteBreakdown, s domain.DriverScore) bool {
			return s.Score < 50
		},
		DailyCost: func(_ domain.WasteBreakdown, s domain.DriverScore) float64 {
			return s.EstimatedWaste
		},
		Description: func(_ domain.WasteBreakdown, s domain.DriverScore) string {
			return fmt.Sprintf("Driver score very low: %d/100", s.Score)
		},
		Action: "Full driver assessment required",
	},
}

// CriticalAlerts evaluates every rule independently, so a device yields 0 to 3 alerts.
func CriticalAlerts(deviceID string, w domain.WasteBreakdown, s domain.DriverScore) []domain.CriticalAlert {
	var alerts []domain.CriticalAlert
	for _, rule := range criticalAlertRules {
		if !rule.Applies(w, s) {
			continue
		}
		alerts = append(alerts, domain.CriticalAlert{
			DeviceID:     deviceID,
			Kind:         rule.Kind,
			CostPerMonth: Round(rule.DailyCost(w, s)*DaysPerMonth, 2),
			Description:  rule.Description(w, s),
			Action:       rule.Action,
		})
	}
	return alerts
}

// TopAlerts returns at most n alerts, most expensive first.
func TopAlerts(alerts []domain.CriticalAlert, n int) []domain.CriticalAlert {
	sorted := make([]domain.CriticalAlert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CostPerMonth > sorted[j].CostPerMonth
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
