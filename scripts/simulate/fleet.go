package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"fleet-monitor/telemetry/internal/fuel"
)

const kmPerDegree = 111.0

type city struct {
	lat, lon float64
	radiusKm float64
}

var cities = map[string]city{
	"saopaulo":     {-23.5505, -46.6333, 15},
	"riodejaneiro": {-22.9068, -43.1729, 12},
	"brasilia":     {-15.8267, -47.9218, 10},
	"curitiba":     {-25.4284, -49.2733, 8},
}

// vehicle is the simulated state of one device.
type vehicle struct {
	id          string
	lat, lon    float64
	speedKmh    float64
	engineTempC float64
	batteryV    float64
	heading     float64
}

type fleet struct {
	vehicles           []*vehicle
	speedMin, speedMax float64
	rng                *rand.Rand
}

// newFleet scatters n vehicles at random inside the city radius.
func newFleet(n int, c city, speedMin, speedMax float64, rng *rand.Rand) *fleet {
	f := &fleet{speedMin: speedMin, speedMax: speedMax, rng: rng}
	for i := 1; i <= n; i++ {
		angle := rng.Float64() * 2 * math.Pi
		dist := rng.Float64() * c.radiusKm
		f.vehicles = append(f.vehicles, &vehicle{
			id:          fmt.Sprintf("TRK-%03d", i),
			lat:         c.lat + dist/kmPerDegree*math.Cos(angle),
			lon:         c.lon + dist/(kmPerDegree*math.Cos(c.lat*math.Pi/180))*math.Sin(angle),
			speedKmh:    f.uniform(speedMin, speedMax),
			engineTempC: f.uniform(85, 95),
			batteryV:    f.uniform(12.2, 12.8),
			heading:     f.uniform(0, 360),
		})
	}
	return f
}

func (f *fleet) uniform(lo, hi float64) float64 {
	return lo + f.rng.Float64()*(hi-lo)
}

// step moves every vehicle forward by interval with small random changes of
// speed and heading. Engine temperature climbs above 80 km/h and the battery
// slowly drains.
func (f *fleet) step(interval time.Duration) {
	for _, v := range f.vehicles {
		v.speedKmh = min(f.speedMax, max(f.speedMin, v.speedKmh+f.uniform(-5, 5)))
		v.heading = math.Mod(v.heading+f.uniform(-15, 15)+360, 360)

		distKm := v.speedKmh * interval.Hours()
		rad := v.heading * math.Pi / 180
		v.lat += distKm / kmPerDegree * math.Cos(rad)
		v.lon += distKm / (kmPerDegree * math.Cos(v.lat*math.Pi/180)) * math.Sin(rad)

		if v.speedKmh > 80 {
			v.engineTempC = min(105, v.engineTempC+f.uniform(0, 1))
		} else {
			v.engineTempC = max(85, v.engineTempC-f.uniform(0, 0.5))
		}
		v.batteryV = max(11.8, v.batteryV-f.uniform(0, 0.01))
	}
}

// sample is the ingest payload of a vehicle at ts.
type sample struct {
	DeviceID    string  `json:"device_id"`
	Timestamp   string  `json:"ts"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	SpeedKmh    float64 `json:"speed_kmh"`
	EngineTempC float64 `json:"engine_temp_c"`
	BatteryV    float64 `json:"battery_v"`
}

func (v *vehicle) sample(ts time.Time) sample {
	return sample{
		DeviceID:    v.id,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		Lat:         fuel.Round(v.lat, 6),
		Lon:         fuel.Round(v.lon, 6),
		SpeedKmh:    fuel.Round(v.speedKmh, 2),
		EngineTempC: fuel.Round(v.engineTempC, 1),
		BatteryV:    fuel.Round(v.batteryV, 2),
	}
}
