package domain

import "time"

// TelemetryEvent is one timestamped sample of a device's state.
// Optional readings are nil when the device did not report them.
type TelemetryEvent struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"ts"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	SpeedKmh    *float64 `json:"speed_kmh,omitempty"`
	EngineTempC *float64 `json:"engine_temp_c,omitempty"`
	BatteryV    *float64 `json:"battery_v,omitempty"`
}

// HasPosition reports whether both coordinates are present.
func (e TelemetryEvent) HasPosition() bool {
	return e.Lat != nil && e.Lon != nil
}

// Speed returns the reported speed, treating a missing reading as stationary.
func (e TelemetryEvent) Speed() float64 {
	if e.SpeedKmh == nil {
		return 0
	}
	return *e.SpeedKmh
}

// EventSeries is the ordered (ascending timestamp) history of a single device.
type EventSeries []TelemetryEvent

// Float returns a pointer to v, for building events in producers and tests.
func Float(v float64) *float64 { return &v }

// Window is the half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// LastHours returns the window covering the hours up to now.
func LastHours(now time.Time, hours int) Window {
	return Window{Start: now.Add(-time.Duration(hours) * time.Hour), End: now}
}

// Previous returns the window of equal length immediately before w.
func (w Window) Previous() Window {
	d := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-d), End: w.Start}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DeviceStatus is the latest known state of a device.
type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	LastLat     *float64  `json:"last_lat,omitempty"`
	LastLon     *float64  `json:"last_lon,omitempty"`
	LastSpeed   *float64  `json:"last_speed,omitempty"`
	LastTemp    *float64  `json:"last_temp,omitempty"`
	LastBattery *float64  `json:"last_battery,omitempty"`
}

// OnlineWindow is how recently a device must have reported to count as online.
const OnlineWindow = 30 * time.Second

// StatusOf builds the status of a device from its latest sample.
func StatusOf(e TelemetryEvent, now time.Time) DeviceStatus {
	return DeviceStatus{
		DeviceID:    e.DeviceID,
		Online:      now.Sub(e.Timestamp) <= OnlineWindow,
		LastSeen:    e.Timestamp,
		LastLat:     e.Lat,
		LastLon:     e.Lon,
		LastSpeed:   e.SpeedKmh,
		LastTemp:    e.EngineTempC,
		LastBattery: e.BatteryV,
	}
}
