package fuel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telemetry/internal/domain"
)

var testConfig = domain.FuelConfig{
	TankCapacityL:     300,
	ExpectedKmL:       8.5,
	FuelPrice:         5.80,
	IdleConsumptionLH: 0.8,
}

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

// sample builds an event at t0+offset; lon advances the vehicle east along the equator.
func sample(offset time.Duration, speed float64, lon float64) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		DeviceID:  "truck-1",
		Timestamp: t0.Add(offset),
		Lat:       domain.Float(0),
		Lon:       domain.Float(lon),
		SpeedKmh:  domain.Float(speed),
	}
}

func idleSeries(n int, gap time.Duration) domain.EventSeries {
	series := make(domain.EventSeries, n)
	for i := range series {
		series[i] = sample(time.Duration(i)*gap, 0, 0)
	}
	return series
}

func TestIdleWaste_FourGapsOfTenMinutes(t *testing.T) {
	idle := IdleWaste(idleSeries(5, 10*time.Minute), testConfig)

	assert.Equal(t, 0.67, idle.Hours)
	assert.Equal(t, 3.09, idle.Cost)
}

func TestIdleWaste_OnlyFirstSampleSpeedMatters(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 2, 0),
		sample(30*time.Minute, 80, 0),
		sample(60*time.Minute, 80, 0),
	}
	idle := IdleWaste(series, testConfig)
	assert.Equal(t, 0.5, idle.Hours)
}

func TestIdleWaste_MissingSpeedCountsAsIdle(t *testing.T) {
	series := domain.EventSeries{
		{DeviceID: "truck-1", Timestamp: t0},
		{DeviceID: "truck-1", Timestamp: t0.Add(time.Hour)},
	}
	assert.Equal(t, 1.0, IdleWaste(series, testConfig).Hours)
}

func TestIdleWaste_IgnoresMissingAndBackwardsTimestamps(t *testing.T) {
	series := domain.EventSeries{
		sample(time.Hour, 0, 0),
		sample(0, 0, 0),
		{DeviceID: "truck-1", SpeedKmh: domain.Float(0)},
		sample(2*time.Hour, 0, 0),
	}
	assert.Equal(t, 0.0, IdleWaste(series, testConfig).Hours)
}

func TestIdleWaste_TooShortSeries(t *testing.T) {
	assert.Equal(t, IdleResult{}, IdleWaste(nil, testConfig))
	assert.Equal(t, IdleResult{}, IdleWaste(idleSeries(1, time.Minute), testConfig))
}

func TestAggressiveWaste_OneHarshAcceleration(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 0, 0),
		sample(5*time.Second, 30, 0),
		sample(15*time.Second, 31, 0),
	}
	aggressive := AggressiveWaste(series, testConfig)

	assert.Equal(t, 1, aggressive.Events)
	assert.Equal(t, 0.29, aggressive.Cost)
}

func TestAggressiveWaste_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		delta    float64
		dt       time.Duration
		expected int
	}{
		{name: "exactly at threshold", delta: 20, dt: 10 * time.Second, expected: 0},
		{name: "just above threshold", delta: 20.1, dt: 10 * time.Second, expected: 1},
		{name: "harsh braking", delta: -50, dt: 5 * time.Second, expected: 1},
		{name: "zero delta time", delta: 50, dt: 0, expected: 0},
		{name: "negative delta time", delta: 50, dt: -5 * time.Second, expected: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			series := domain.EventSeries{
				sample(0, 60, 0),
				sample(test.dt, 60+test.delta, 0),
			}
			assert.Equal(t, test.expected, AggressiveWaste(series, testConfig).Events)
		})
	}
}

func TestRouteWaste_SameLocationIsZero(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 0, 1),
		sample(time.Minute, 0, 1),
	}
	route := RouteWaste(series, testConfig, domain.Float(1))
	assert.Equal(t, RouteResult{}, route)
}

func TestRouteWaste_ExtraDistance(t *testing.T) {
	// one degree of longitude at the equator is ~111.19 km
	series := domain.EventSeries{
		sample(0, 60, 0),
		sample(time.Hour, 60, 1),
	}
	route := RouteWaste(series, testConfig, domain.Float(100))

	assert.InDelta(t, 11.19, route.ExtraKm, 0.01)
	assert.InDelta(t, 11.19/8.5*5.80, route.Cost, 0.01)
}

func TestRouteWaste_WithoutOptimalDistance(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 60, 0),
		sample(time.Hour, 60, 1),
	}
	assert.Equal(t, RouteResult{}, RouteWaste(series, testConfig, nil))
	assert.Equal(t, RouteResult{}, RouteWaste(series, testConfig, domain.Float(0)))
}

func TestBreakdown_PercentagesSumToHundred(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 0, 0),
		sample(20*time.Minute, 0, 0),
		sample(20*time.Minute+5*time.Second, 40, 0),
		sample(40*time.Minute, 60, 0.2),
		sample(40*time.Minute+4*time.Second, 20, 0.2),
		sample(80*time.Minute, 60, 0.5),
	}
	b := Breakdown(series, testConfig, domain.Float(20))

	require.Greater(t, b.TotalWaste, 0.0)
	assert.Equal(t, 2, b.AggressiveEvents)
	assert.Greater(t, b.IdleCost, 0.0)
	assert.Greater(t, b.RouteCost, 0.0)
	assert.InDelta(t, 100.0, b.IdlePercentage+b.AggressivePercentage+b.RoutePercentage, 0.1)
	assert.InDelta(t, b.IdleCost+b.AggressiveCost+b.RouteCost, b.TotalWaste, 0.011)
}

func TestBreakdown_NoWasteMeansNoPercentages(t *testing.T) {
	series := domain.EventSeries{
		sample(0, 60, 0),
		sample(time.Minute, 60, 0.01),
		sample(2*time.Minute, 61, 0.02),
	}
	b := Breakdown(series, testConfig, nil)

	assert.Equal(t, domain.WasteBreakdown{}, b)
}

func TestPercentages(t *testing.T) {
	tests := []struct {
		given    []float64
		expected []float64
	}{
		{given: []float64{1, 1, 1}, expected: []float64{33.3, 33.3, 33.3}},
		{given: []float64{2, 1, 0}, expected: []float64{66.7, 33.3, 0}},
		{given: []float64{3.09, 0, 0}, expected: []float64{100, 0, 0}},
		{given: []float64{1, 3, 0}, expected: []float64{25, 75, 0}},
		{given: []float64{0, 0, 0}, expected: []float64{0, 0, 0}},
		{given: []float64{0.01, 0.02, 99.97}, expected: []float64{0, 0, 100}},
	}

	for _, test := range tests {
		got := percentages(test.given...)
		assert.InDeltaSlice(t, test.expected, got, 1e-9)
	}
}

func TestPercentages_SumWithinOneTenthOfHundred(t *testing.T) {
	costs := [][]float64{
		{12.34, 56.78, 90.12},
		{0.07, 0.07, 0.07},
		{1, 2, 3},
		{99.99, 0.01, 0},
		{1.11, 2.22, 3.33},
	}
	for _, c := range costs {
		sum := 0.0
		for _, p := range percentages(c...) {
			sum += p
		}
		assert.InDelta(t, 100.0, sum, 0.1+1e-9, "costs %v", c)
	}
}

func TestSum(t *testing.T) {
	a := domain.WasteBreakdown{IdleCost: 10, IdleHours: 2, AggressiveCost: 5, AggressiveEvents: 3}
	b := domain.WasteBreakdown{IdleCost: 5, IdleHours: 1, RouteCost: 5, RouteExtraKm: 7.5}

	total := Sum(a, b)

	assert.Equal(t, 15.0, total.IdleCost)
	assert.Equal(t, 3.0, total.IdleHours)
	assert.Equal(t, 3, total.AggressiveEvents)
	assert.Equal(t, 25.0, total.TotalWaste)
	assert.Equal(t, 60.0, total.IdlePercentage)
	assert.Equal(t, 20.0, total.AggressivePercentage)
	assert.Equal(t, 20.0, total.RoutePercentage)

	assert.Equal(t, domain.WasteBreakdown{}, Sum())
}
