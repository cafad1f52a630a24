// Package analytics answers fleet queries by running the fuel-economy
// calculations over the stored telemetry. Every query is computed on demand
// from the samples in its window.
package analytics

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/fuel"
	"fleet-monitor/telemetry/internal/store"
)

// FuelSource provides the fuel parameters of a device.
type FuelSource interface {
	FuelFor(deviceID string) domain.FuelConfig
}

type Service struct {
	reader  store.Reader
	fuel    FuelSource
	workers int
	log     *slog.Logger
	now     func() time.Time
}

// NewService builds the query service. workers bounds how many devices are
// analysed in parallel; zero or less means one per CPU.
func NewService(reader store.Reader, fuelSource FuelSource, workers int, logger *slog.Logger) *Service {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Service{
		reader:  reader,
		fuel:    fuelSource,
		workers: workers,
		log:     logger.With("component", "analytics"),
		now:     time.Now,
	}
}

// LastHours is the window covering the given number of hours up to now.
func (s *Service) LastHours(hours int) domain.Window {
	return domain.LastHours(s.now(), hours)
}

func (s *Service) lastMinutes(minutes int) domain.Window {
	now := s.now()
	return domain.Window{Start: now.Add(-time.Duration(minutes) * time.Minute), End: now}
}

// Devices lists every known device with its online status.
func (s *Service) Devices(ctx context.Context) ([]domain.DeviceStatus, error) {
	latest, err := s.reader.LatestPerDevice(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.DeviceStatus, 0, len(latest))
	for _, e := range latest {
		out = append(out, domain.StatusOf(e, now))
	}
	return out, nil
}

func (s *Service) Latest(ctx context.Context, deviceID string) (domain.TelemetryEvent, error) {
	return s.reader.Latest(ctx, deviceID)
}

// Events returns the newest samples of a device from the last minutes,
// oldest first.
func (s *Service) Events(ctx context.Context, deviceID string, minutes, limit int) (domain.EventSeries, error) {
	return s.reader.DeviceEvents(ctx, deviceID, s.lastMinutes(minutes), limit)
}

func (s *Service) WasteBreakdown(ctx context.Context, deviceID string, w domain.Window, optimalKm *float64) (domain.WasteBreakdown, error) {
	events, err := s.reader.DeviceEvents(ctx, deviceID, w, 0)
	if err != nil {
		return domain.WasteBreakdown{}, err
	}
	return fuel.Breakdown(events, s.fuel.FuelFor(deviceID), optimalKm), nil
}

func (s *Service) DriverScore(ctx context.Context, deviceID string, w domain.Window) (domain.DriverScore, error) {
	events, err := s.reader.DeviceEvents(ctx, deviceID, w, 0)
	if err != nil {
		return domain.DriverScore{}, err
	}
	return fuel.Score(deviceID, events, s.fuel.FuelFor(deviceID)), nil
}

// DriverRanking scores every device with samples in w and ranks them by
// descending score.
func (s *Service) DriverRanking(ctx context.Context, w domain.Window) ([]domain.DriverScore, error) {
	groups, err := s.reader.EventsInWindow(ctx, w)
	if err != nil {
		return nil, err
	}

	reports, err := s.analyse(ctx, groups)
	if err != nil {
		return nil, err
	}
	scores := make([]domain.DriverScore, len(reports))
	for i, r := range reports {
		scores[i] = r.score
	}
	return fuel.Rank(scores), nil
}

func (s *Service) ROI(systemCost, monthlySavings float64) domain.ROIResult {
	return fuel.ROI(systemCost, monthlySavings)
}

type deviceReport struct {
	waste  domain.WasteBreakdown
	score  domain.DriverScore
	alerts []domain.CriticalAlert
}

// analyse runs waste, score and alerts for each device series, in parallel
// up to the worker limit. Results keep the order of groups.
func (s *Service) analyse(ctx context.Context, groups []store.DeviceSeries) ([]deviceReport, error) {
	out := make([]deviceReport, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, group := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := s.fuel.FuelFor(group.DeviceID)
			waste := fuel.Breakdown(group.Events, cfg, nil)
			score := fuel.Score(group.DeviceID, group.Events, cfg)
			out[i] = deviceReport{
				waste:  waste,
				score:  score,
				alerts: fuel.CriticalAlerts(group.DeviceID, waste, score),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary is a snapshot of recent fleet activity.
type Summary struct {
	DevicesOnline    int     `json:"devices_online"`
	EventsLastMinute int     `json:"events_last_minute"`
	AvgSpeed5Min     float64 `json:"avg_speed_5min"`
	AlertsLast10Min  int     `json:"alerts_last_10min"`
}

// Summary counts online devices, recent samples and the devices that raised a
// sample alert in the last ten minutes.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return Summary{}, err
	}
	groups, err := s.reader.EventsInWindow(ctx, s.lastMinutes(10))
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, d := range devices {
		if d.Online {
			sum.DevicesOnline++
		}
	}

	now := s.now()
	minuteAgo := now.Add(-time.Minute)
	fiveAgo := now.Add(-5 * time.Minute)
	var speedTotal float64
	var speedN int
	for _, g := range groups {
		alerted := false
		for _, e := range g.Events {
			if !e.Timestamp.Before(minuteAgo) {
				sum.EventsLastMinute++
			}
			if e.SpeedKmh != nil && !e.Timestamp.Before(fiveAgo) {
				speedTotal += *e.SpeedKmh
				speedN++
			}
			if !alerted && len(domain.Evaluate(e, domain.DefaultSampleAlertRules)) > 0 {
				alerted = true
			}
		}
		if alerted {
			sum.AlertsLast10Min++
		}
	}
	if speedN > 0 {
		sum.AvgSpeed5Min = fuel.Round(speedTotal/float64(speedN), 2)
	}
	return sum, nil
}

// MaxRecentAlerts caps the number of alerts RecentAlerts returns.
const MaxRecentAlerts = 50

// RecentAlerts evaluates the sample alert rules over the last minutes and
// returns the newest alerts first.
func (s *Service) RecentAlerts(ctx context.Context, minutes int) ([]domain.SampleAlert, error) {
	groups, err := s.reader.EventsInWindow(ctx, s.lastMinutes(minutes))
	if err != nil {
		return nil, err
	}

	alerts := []domain.SampleAlert{}
	for _, g := range groups {
		for _, e := range g.Events {
			alerts = append(alerts, domain.Evaluate(e, domain.DefaultSampleAlertRules)...)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Timestamp.After(alerts[j].Timestamp) })
	if len(alerts) > MaxRecentAlerts {
		alerts = alerts[:MaxRecentAlerts]
	}
	return alerts, nil
}
