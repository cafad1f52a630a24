// Package geo holds the distance and time helpers used by the fuel analytics.
package geo

import (
	"math"
	"time"

	"fleet-monitor/telemetry/internal/domain"
)

const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance in km between two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance returns the km between two samples, and false when either lacks a position.
func Distance(a, b domain.TelemetryEvent) (float64, bool) {
	if !a.HasPosition() || !b.HasPosition() {
		return 0, false
	}
	return Haversine(*a.Lat, *a.Lon, *b.Lat, *b.Lon), true
}

// TotalDistance sums the distance between consecutive positioned samples.
func TotalDistance(events domain.EventSeries) float64 {
	total := 0.0
	for i := 0; i+1 < len(events); i++ {
		if km, ok := Distance(events[i], events[i+1]); ok {
			total += km
		}
	}
	return total
}

// Elapsed returns the seconds from a to b, and false when either timestamp is missing.
func Elapsed(a, b domain.TelemetryEvent) (float64, bool) {
	if a.Timestamp.IsZero() || b.Timestamp.IsZero() {
		return 0, false
	}
	return b.Timestamp.Sub(a.Timestamp).Seconds(), true
}

// Hours converts seconds to hours.
func Hours(seconds float64) float64 {
	return seconds / time.Hour.Seconds()
}
