package analytics

import (
	"context"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/fuel"
)

const (
	dashboardTopDrivers = 5
	dashboardTopAlerts  = 3
)

// Dashboard is the fleet-wide fuel economy overview for a window, compared
// with the window of equal length right before it.
type Dashboard struct {
	Window         domain.Window          `json:"-"`
	CurrentCost    float64                `json:"current_period_cost"`
	PreviousCost   float64                `json:"previous_period_cost"`
	Savings        float64                `json:"savings"`
	SavingsPercent float64                `json:"savings_percent"`
	WasteBreakdown domain.WasteBreakdown  `json:"waste_breakdown"`
	TopDrivers     []domain.DriverScore   `json:"top_drivers"`
	CriticalAlerts []domain.CriticalAlert `json:"critical_alerts"`
	ROI            domain.ROIResult       `json:"roi_data"`
}

// Dashboard totals the waste of every device in w and in the previous window,
// ranks the drivers and keeps the most expensive alerts. The savings against
// the previous window feed the ROI projection.
func (s *Service) Dashboard(ctx context.Context, w domain.Window, systemCost float64) (Dashboard, error) {
	current, err := s.reader.EventsInWindow(ctx, w)
	if err != nil {
		return Dashboard{}, err
	}
	previous, err := s.reader.EventsInWindow(ctx, w.Previous())
	if err != nil {
		return Dashboard{}, err
	}

	reports, err := s.analyse(ctx, current)
	if err != nil {
		return Dashboard{}, err
	}
	before, err := s.analyse(ctx, previous)
	if err != nil {
		return Dashboard{}, err
	}

	wastes := make([]domain.WasteBreakdown, 0, len(reports))
	scores := make([]domain.DriverScore, 0, len(reports))
	var alerts []domain.CriticalAlert
	for _, r := range reports {
		wastes = append(wastes, r.waste)
		scores = append(scores, r.score)
		alerts = append(alerts, r.alerts...)
	}

	var currentCost, previousCost float64
	for _, r := range reports {
		currentCost += r.waste.TotalWaste
	}
	for _, r := range before {
		previousCost += r.waste.TotalWaste
	}

	savings := previousCost - currentCost
	savingsPct := 0.0
	if previousCost > 0 {
		savingsPct = savings / previousCost * 100
	}

	ranked := fuel.Rank(scores)
	if len(ranked) > dashboardTopDrivers {
		ranked = ranked[:dashboardTopDrivers]
	}

	s.log.Debug("dashboard computed", "devices", len(reports), "previous_devices", len(before), "current_cost", currentCost)

	return Dashboard{
		Window:         w,
		CurrentCost:    fuel.Round(currentCost, 2),
		PreviousCost:   fuel.Round(previousCost, 2),
		Savings:        fuel.Round(savings, 2),
		SavingsPercent: fuel.Round(savingsPct, 1),
		WasteBreakdown: fuel.Sum(wastes...),
		TopDrivers:     ranked,
		CriticalAlerts: fuel.TopAlerts(alerts, dashboardTopAlerts),
		ROI:            fuel.ROI(systemCost, savings),
	}, nil
}
