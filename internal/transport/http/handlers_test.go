package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/auth"
	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/ingest"
	"fleet-monitor/telemetry/internal/live"
	"fleet-monitor/telemetry/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var fleetFuel = domain.FuelConfig{TankCapacityL: 300, ExpectedKmL: 8.5, FuelPrice: 5.80, IdleConsumptionLH: 0.8}

type fixedFuel struct{}

func (fixedFuel) FuelFor(string) domain.FuelConfig { return fleetFuel }

// directBuffer commits every sample straight to the store so handlers can be
// tested without the flush loop.
type directBuffer struct {
	mem *store.Memory
}

func (b directBuffer) Add(ctx context.Context, e domain.TelemetryEvent) {
	_ = b.mem.Commit(ctx, []domain.TelemetryEvent{e})
}

type testEnv struct {
	mem    *store.Memory
	broker *live.Broker
	srv    *Server
	h      http.Handler
}

func newTestEnv(t *testing.T, apiKeys []string, opts Options) *testEnv {
	t.Helper()
	mem := store.NewMemory(1000)
	broker := live.NewBroker()
	cfg := &config.Config{ValidAPIKeys: apiKeys, AuthCacheTTLSeconds: 60}

	if opts.SystemCost == 0 {
		opts.SystemCost = 70000
	}
	srv := NewServer(
		ingest.NewService(directBuffer{mem: mem}, discard),
		analytics.NewService(mem, fixedFuel{}, 2, discard),
		broker,
		auth.NewAuthenticator(cfg, nil, discard),
		opts,
		discard,
	)
	return &testEnv{mem: mem, broker: broker, srv: srv, h: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seed(t *testing.T, events ...domain.TelemetryEvent) {
	t.Helper()
	require.NoError(t, e.mem.Commit(context.Background(), events))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func sample(device string, ts time.Time, speed float64) domain.TelemetryEvent {
	return domain.TelemetryEvent{
		DeviceID:  device,
		Timestamp: ts,
		Lat:       domain.Float(-23.55),
		Lon:       domain.Float(-46.63),
		SpeedKmh:  domain.Float(speed),
	}
}

func TestIngest_AcceptsValidSample(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	rr := env.do(t, http.MethodPost, "/v1/ingest",
		[]byte(`{"device_id":"truck-1","ts":"`+ts+`","lat":-23.5,"lon":-46.6,"speed_kmh":"42.5"}`))

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "truck-1", body["device_id"])

	latest, err := env.mem.Latest(context.Background(), "truck-1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, latest.Speed())
}

func TestIngest_RejectsInvalidSample(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	for name, body := range map[string]string{
		"malformed":      `{"device_id":`,
		"missing device": `{"ts":"2025-03-10T08:00:00Z"}`,
		"bad timestamp":  `{"device_id":"truck-1","ts":"yesterday"}`,
		"latitude range": `{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z","lat":91,"lon":0}`,
		"non-numeric":    `{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z","speed_kmh":"fast"}`,
		"trailing data":  `{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z"} garbage`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/ingest", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			p := decode[Problem](t, rr)
			assert.Equal(t, http.StatusBadRequest, p.Status)
			assert.Equal(t, "/v1/ingest", p.Instance)
			assert.NotEmpty(t, p.Detail)
		})
	}

	_, err := env.mem.Latest(context.Background(), "truck-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	body := []byte(`{"device_id":"` + strings.Repeat("x", maxIngestBody) + `"}`)

	rr := env.do(t, http.MethodPost, "/v1/ingest", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestIngest_RequiresAPIKeyWhenConfigured(t *testing.T) {
	env := newTestEnv(t, []string{"secret"}, Options{})
	body := []byte(`{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z"}`)

	rr := env.do(t, http.MethodPost, "/v1/ingest", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "secret")
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestIngest_RateLimitedPerKey(t *testing.T) {
	env := newTestEnv(t, []string{"a", "b"}, Options{IngestRateLimit: 0.001, IngestRateBurst: 2})
	body := []byte(`{"device_id":"truck-1","ts":"2025-03-10T08:00:00Z"}`)

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "a").Code)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "a").Code)

	rr := env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "a")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/ingest", body, apiKeyHeader, "b").Code)
}

func TestReadsAreOpenWithoutAPIKey(t *testing.T) {
	env := newTestEnv(t, []string{"secret"}, Options{})
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/devices", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rr := env.do(t, http.MethodGet, "/v1/devices", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	now := time.Now().UTC()
	env.seed(t,
		sample("truck-2", now.Add(-time.Hour), 10),
		sample("truck-1", now.Add(-time.Second), 20),
	)

	devices := decode[[]domain.DeviceStatus](t, env.do(t, http.MethodGet, "/v1/devices", nil))
	require.Len(t, devices, 2)
	assert.Equal(t, "truck-1", devices[0].DeviceID)
	assert.True(t, devices[0].Online)
	assert.Equal(t, "truck-2", devices[1].DeviceID)
	assert.False(t, devices[1].Online)
}

func TestDeviceLatest(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	now := time.Now().UTC()
	env.seed(t, sample("truck-1", now.Add(-2*time.Minute), 10), sample("truck-1", now.Add(-time.Minute), 30))

	rr := env.do(t, http.MethodGet, "/v1/devices/truck-1/latest", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 30.0, decode[domain.TelemetryEvent](t, rr).Speed())

	rr = env.do(t, http.MethodGet, "/v1/devices/ghost/latest", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestDeviceEvents(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	now := time.Now().UTC()
	env.seed(t,
		sample("truck-1", now.Add(-3*time.Hour), 1),
		sample("truck-1", now.Add(-30*time.Minute), 2),
		sample("truck-1", now.Add(-20*time.Minute), 3),
		sample("truck-1", now.Add(-10*time.Minute), 4),
	)

	events := decode[[]domain.TelemetryEvent](t, env.do(t, http.MethodGet, "/v1/devices/truck-1/events", nil))
	require.Len(t, events, 3)
	assert.Equal(t, 2.0, events[0].Speed())

	events = decode[[]domain.TelemetryEvent](t, env.do(t, http.MethodGet, "/v1/devices/truck-1/events?minutes=60&limit=2", nil))
	require.Len(t, events, 2)
	assert.Equal(t, 3.0, events[0].Speed())
	assert.Equal(t, 4.0, events[1].Speed())

	rr := env.do(t, http.MethodGet, "/v1/devices/truck-1/events?minutes=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/devices/ghost/events", nil).Code)
}

func TestQueryParameterValidation(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.seed(t, sample("truck-1", time.Now().UTC(), 0))

	for _, target := range []string{
		"/v1/devices/truck-1/events?minutes=abc",
		"/v1/devices/truck-1/events?minutes=0",
		"/v1/devices/truck-1/events?limit=-1",
		"/v1/fuel/waste/truck-1?hours=0",
		"/v1/fuel/waste/truck-1?optimal_km=far",
		"/v1/fuel/waste/truck-1?optimal_km=-5",
		"/v1/fuel/score/truck-1?hours=1.5",
		"/v1/fuel/ranking?hours=100000",
		"/v1/fuel/dashboard?system_cost=NaN",
		"/v1/fuel/roi?monthly_savings=lots",
		"/v1/alerts?minutes=x",
	} {
		t.Run(target, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[Problem](t, rr).Detail)
		})
	}
}

func TestFuelWasteAndScore(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	start := time.Now().UTC().Add(-time.Hour)
	// five stationary samples ten minutes apart: 40 idle minutes
	for i := 0; i < 5; i++ {
		env.seed(t, sample("truck-1", start.Add(time.Duration(i)*10*time.Minute), 0))
	}

	rr := env.do(t, http.MethodGet, "/v1/fuel/waste/truck-1?hours=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var waste struct {
		DeviceID    string                `json:"device_id"`
		PeriodHours int                   `json:"period_hours"`
		Breakdown   domain.WasteBreakdown `json:"waste_breakdown"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &waste))
	assert.Equal(t, "truck-1", waste.DeviceID)
	assert.Equal(t, 2, waste.PeriodHours)
	assert.Equal(t, 0.67, waste.Breakdown.IdleHours)
	assert.Equal(t, 3.09, waste.Breakdown.IdleCost)

	score := decode[domain.DriverScore](t, env.do(t, http.MethodGet, "/v1/fuel/score/truck-1?hours=2", nil))
	assert.Equal(t, "truck-1", score.DriverID)
	assert.Equal(t, 0.67, score.IdleHours)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/fuel/waste/ghost", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/fuel/score/ghost", nil).Code)
}

func TestFuelRanking(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	start := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		env.seed(t, sample("idler", start.Add(time.Duration(i)*10*time.Minute), 0))
		env.seed(t, sample("cruiser", start.Add(time.Duration(i)*10*time.Minute), 60))
	}

	ranking := decode[[]domain.DriverScore](t, env.do(t, http.MethodGet, "/v1/fuel/ranking", nil))
	require.Len(t, ranking, 2)
	assert.Equal(t, "cruiser", ranking[0].DriverID)
	require.NotNil(t, ranking[0].Rank)
	assert.Equal(t, 1, *ranking[0].Rank)
	assert.GreaterOrEqual(t, ranking[0].Score, ranking[1].Score)
}

func TestFuelDashboard(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rr := env.do(t, http.MethodGet, "/v1/fuel/dashboard", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	empty := decode[analytics.Dashboard](t, rr)
	assert.Zero(t, empty.CurrentCost)
	assert.Equal(t, 70000.0, empty.ROI.SystemCost)
	assert.Equal(t, 999.0, empty.ROI.PaybackMonths)

	start := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		env.seed(t, sample("truck-1", start.Add(time.Duration(i)*10*time.Minute), 0))
	}
	d := decode[analytics.Dashboard](t, env.do(t, http.MethodGet, "/v1/fuel/dashboard?hours=2&system_cost=1000", nil))
	assert.Equal(t, 3.09, d.CurrentCost)
	assert.Equal(t, 1000.0, d.ROI.SystemCost)
	assert.Len(t, d.TopDrivers, 1)
}

func TestFuelROI(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	roi := decode[domain.ROIResult](t, env.do(t, http.MethodGet, "/v1/fuel/roi?monthly_savings=7000", nil))
	assert.Equal(t, 70000.0, roi.SystemCost)
	assert.Equal(t, 10.0, roi.PaybackMonths)
	assert.Equal(t, 84000.0, roi.AnnualSavings)
	assert.Equal(t, 20.0, roi.ROIPercent)
	assert.Equal(t, 1.2, roi.TimesPaid)

	roi = decode[domain.ROIResult](t, env.do(t, http.MethodGet, "/v1/fuel/roi?system_cost=5000", nil))
	assert.Equal(t, 5000.0, roi.SystemCost)
	assert.Equal(t, 999.0, roi.PaybackMonths)
}

func TestSummaryAndAlerts(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	now := time.Now().UTC()
	env.seed(t,
		sample("truck-1", now.Add(-2*time.Minute), 80),
		sample("truck-1", now.Add(-time.Minute), 120),
		sample("truck-2", now.Add(-10*time.Second), 40),
	)

	sum := decode[analytics.Summary](t, env.do(t, http.MethodGet, "/v1/metrics/summary", nil))
	assert.Equal(t, 1, sum.DevicesOnline)
	assert.Equal(t, 1, sum.AlertsLast10Min)
	assert.Equal(t, 80.0, sum.AvgSpeed5Min)

	alerts := decode[[]domain.SampleAlert](t, env.do(t, http.MethodGet, "/v1/alerts?minutes=5", nil))
	require.Len(t, alerts, 1)
	assert.Equal(t, "truck-1", alerts[0].DeviceID)
	assert.Equal(t, domain.AlertHighSpeed, alerts[0].Type)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/v1/devices", nil).Code)
}

func TestStream_FiltersByDevice(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	ts := httptest.NewServer(env.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?device_id=truck-2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.broker.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	now := time.Now().UTC()
	require.NoError(t, env.broker.PublishState(context.Background(), []domain.TelemetryEvent{
		sample("truck-1", now, 10),
		sample("truck-2", now, 20),
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.TelemetryEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "truck-2", got.DeviceID)
	assert.Equal(t, 20.0, got.Speed())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
