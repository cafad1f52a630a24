// Package fuel derives fuel-economy analytics from a device's event series.
//
// Every function here is pure: it reads only the series and the FuelConfig it is
// given, so callers may run them concurrently across devices.
package fuel

import (
	"math"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/geo"
)

const (
	// IdleSpeedThreshold is the speed (km/h) below which a sample counts as idling.
	IdleSpeedThreshold = 5.0
	// HarshAccelThreshold is the speed change rate (km/h per second) above which a pair is a harsh event.
	HarshAccelThreshold = 2.0
	// HarshEventFuelL is the extra fuel burnt by one harsh event (50 mL).
	HarshEventFuelL = 0.050
)

type IdleResult struct {
	Hours float64
	Cost  float64
}

type AggressiveResult struct {
	Events int
	Cost   float64
}

type RouteResult struct {
	ExtraKm float64
	Cost    float64
}

// IdleWaste attributes the whole gap after every low-speed sample to idling.
// A vehicle that pulls away mid-gap is still counted as idle for that gap.
func IdleWaste(events domain.EventSeries, cfg domain.FuelConfig) IdleResult {
	seconds := 0.0
	for i := 0; i+1 < len(events); i++ {
		if events[i].Speed() >= IdleSpeedThreshold {
			continue
		}
		dt, ok := geo.Elapsed(events[i], events[i+1])
		if !ok || dt <= 0 {
			continue
		}
		seconds += dt
	}

	hours := geo.Hours(seconds)
	return IdleResult{
		Hours: Round(hours, 2),
		Cost:  Round(hours*cfg.IdleConsumptionLH*cfg.FuelPrice, 2),
	}
}

// AggressiveWaste counts consecutive pairs whose speed changes faster than HarshAccelThreshold.
func AggressiveWaste(events domain.EventSeries, cfg domain.FuelConfig) AggressiveResult {
	harsh := 0
	for i := 0; i+1 < len(events); i++ {
		dt, ok := geo.Elapsed(events[i], events[i+1])
		if !ok || dt <= 0 {
			continue
		}
		accel := math.Abs(events[i+1].Speed()-events[i].Speed()) / dt
		if accel > HarshAccelThreshold {
			harsh++
		}
	}

	return AggressiveResult{
		Events: harsh,
		Cost:   Round(float64(harsh)*HarshEventFuelL*cfg.FuelPrice, 2),
	}
}

// RouteWaste prices the distance driven beyond optimalKm. With no optimal
// distance (nil or non-positive) there is nothing to compare against and the waste is zero.
func RouteWaste(events domain.EventSeries, cfg domain.FuelConfig, optimalKm *float64) RouteResult {
	if optimalKm == nil || *optimalKm <= 0 || cfg.ExpectedKmL <= 0 {
		return RouteResult{}
	}

	extra := math.Max(0, geo.TotalDistance(events)-*optimalKm)
	return RouteResult{
		ExtraKm: Round(extra, 2),
		Cost:    Round(extra/cfg.ExpectedKmL*cfg.FuelPrice, 2),
	}
}

// Breakdown computes the three waste sources and their share of the total.
func Breakdown(events domain.EventSeries, cfg domain.FuelConfig, optimalKm *float64) domain.WasteBreakdown {
	idle := IdleWaste(events, cfg)
	aggressive := AggressiveWaste(events, cfg)
	route := RouteWaste(events, cfg, optimalKm)

	b := domain.WasteBreakdown{
		IdleCost:         idle.Cost,
		IdleHours:        idle.Hours,
		AggressiveCost:   aggressive.Cost,
		AggressiveEvents: aggressive.Events,
		RouteCost:        route.Cost,
		RouteExtraKm:     route.ExtraKm,
	}
	withShares(&b)
	return b
}

// Sum aggregates several device breakdowns into a fleet-wide one.
func Sum(parts ...domain.WasteBreakdown) domain.WasteBreakdown {
	var b domain.WasteBreakdown
	for _, p := range parts {
		b.IdleCost += p.IdleCost
		b.IdleHours += p.IdleHours
		b.AggressiveCost += p.AggressiveCost
		b.AggressiveEvents += p.AggressiveEvents
		b.RouteCost += p.RouteCost
		b.RouteExtraKm += p.RouteExtraKm
	}
	b.IdleCost = Round(b.IdleCost, 2)
	b.IdleHours = Round(b.IdleHours, 2)
	b.AggressiveCost = Round(b.AggressiveCost, 2)
	b.RouteCost = Round(b.RouteCost, 2)
	b.RouteExtraKm = Round(b.RouteExtraKm, 2)
	withShares(&b)
	return b
}

func withShares(b *domain.WasteBreakdown) {
	b.TotalWaste = Round(b.IdleCost+b.AggressiveCost+b.RouteCost, 2)
	shares := percentages(b.IdleCost, b.AggressiveCost, b.RouteCost)
	b.IdlePercentage = shares[0]
	b.AggressivePercentage = shares[1]
	b.RoutePercentage = shares[2]
}

// percentages gives each cost its share of the total in percent, rounded to
// one decimal. Rounding each share on its own lets the sum drift by up to 0.1.
func percentages(costs ...float64) []float64 {
	out := make([]float64, len(costs))
	total := 0.0
	for _, c := range costs {
		total += c
	}
	if total <= 0 {
		return out
	}
	for i, c := range costs {
		out[i] = Round(c/total*100, 1)
	}
	return out
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
