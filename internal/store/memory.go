package store

import (
	"context"
	"sort"
	"sync"

	"fleet-monitor/telemetry/internal/domain"
)

// Memory keeps the most recent samples of each device in a fixed-capacity
// ring. It serves both as a BatchSink and as a Reader, for development and
// tests.
type Memory struct {
	capacity int

	mu      sync.RWMutex
	devices map[string]*ring
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Memory{capacity: capacity, devices: make(map[string]*ring)}
}

// Commit appends a batch. Samples of a device are kept ordered by timestamp
// and a repeated (device, timestamp) pair is ignored.
func (m *Memory) Commit(ctx context.Context, events []domain.TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		r, ok := m.devices[e.DeviceID]
		if !ok {
			r = newRing(m.capacity)
			m.devices[e.DeviceID] = r
		}
		r.insert(e)
	}
	return nil
}

func (m *Memory) Latest(ctx context.Context, deviceID string) (domain.TelemetryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.devices[deviceID]
	if !ok || r.len() == 0 {
		return domain.TelemetryEvent{}, ErrNotFound
	}
	return r.at(r.len() - 1), nil
}

func (m *Memory) LatestPerDevice(ctx context.Context) ([]domain.TelemetryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.TelemetryEvent, 0, len(m.devices))
	for _, r := range m.devices {
		if r.len() > 0 {
			out = append(out, r.at(r.len()-1))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *Memory) DeviceEvents(ctx context.Context, deviceID string, w domain.Window, limit int) (domain.EventSeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	series := r.window(w)
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

func (m *Memory) EventsInWindow(ctx context.Context, w domain.Window) ([]DeviceSeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DeviceSeries, 0, len(m.devices))
	for id, r := range m.devices {
		if series := r.window(w); len(series) > 0 {
			out = append(out, DeviceSeries{DeviceID: id, Events: series})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// ring is a circular buffer of samples ordered by timestamp. When full, the
// oldest sample is evicted.
type ring struct {
	buf   []domain.TelemetryEvent
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.TelemetryEvent, capacity)}
}

func (r *ring) len() int { return r.n }

func (r *ring) at(i int) domain.TelemetryEvent {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) set(i int, e domain.TelemetryEvent) {
	r.buf[(r.start+i)%len(r.buf)] = e
}

func (r *ring) insert(e domain.TelemetryEvent) {
	// position of the first sample newer than e
	pos := sort.Search(r.n, func(i int) bool { return r.at(i).Timestamp.After(e.Timestamp) })
	if pos > 0 && r.at(pos-1).Timestamp.Equal(e.Timestamp) {
		return
	}

	if r.n == len(r.buf) {
		if pos == 0 {
			// older than everything retained
			return
		}
		r.start = (r.start + 1) % len(r.buf)
		r.n--
		pos--
	}

	r.n++
	for i := r.n - 1; i > pos; i-- {
		r.set(i, r.at(i-1))
	}
	r.set(pos, e)
}

func (r *ring) window(w domain.Window) domain.EventSeries {
	lo := sort.Search(r.n, func(i int) bool { return !r.at(i).Timestamp.Before(w.Start) })
	hi := sort.Search(r.n, func(i int) bool { return !r.at(i).Timestamp.Before(w.End) })
	if lo >= hi {
		return nil
	}
	out := make(domain.EventSeries, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, r.at(i))
	}
	return out
}
