package fuel

import (
	"math"
	"sort"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/geo"
)

const (
	consumptionPoints = 50.0
	aggressivePoints  = 30.0
	idlePoints        = 20.0

	pointsPerHarshEvent = 0.5
	pointsPerIdleHour   = 2.0
)

// Score rates a driver from 0 to 100: up to 50 points for consumption against
// the expected km/L, 30 for smooth driving and 20 for little idling.
//
// When the series burnt no measurable fuel the average consumption falls back to
// cfg.ExpectedKmL. That value is a neutral baseline, not a measurement.
func Score(deviceID string, events domain.EventSeries, cfg domain.FuelConfig) domain.DriverScore {
	if len(events) == 0 {
		return domain.DriverScore{DriverID: deviceID}
	}

	idle := IdleWaste(events, cfg)
	aggressive := AggressiveWaste(events, cfg)
	distance := geo.TotalDistance(events)

	fuelUsed := idle.Hours*cfg.IdleConsumptionLH + float64(aggressive.Events)*HarshEventFuelL
	avg := cfg.ExpectedKmL
	if fuelUsed > 0 {
		avg = distance / fuelUsed
	}

	consumption := 0.0
	if cfg.ExpectedKmL > 0 {
		consumption = math.Min(consumptionPoints, avg/cfg.ExpectedKmL*consumptionPoints)
	}
	smooth := math.Max(0, aggressivePoints-float64(aggressive.Events)*pointsPerHarshEvent)
	calm := math.Max(0, idlePoints-idle.Hours*pointsPerIdleHour)

	return domain.DriverScore{
		DriverID:       deviceID,
		Score:          int(consumption + smooth + calm),
		AvgConsumption: Round(avg, 2),
		HarshEvents:    aggressive.Events,
		IdleHours:      idle.Hours,
		EstimatedWaste: Round(idle.Cost+aggressive.Cost, 2),
	}
}

// Rank orders scores best first, keeping input order between equal scores,
// and assigns 1-based ranks.
func Rank(scores []domain.DriverScore) []domain.DriverScore {
	ranked := make([]domain.DriverScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		rank := i + 1
		ranked[i].Rank = &rank
	}
	return ranked
}
