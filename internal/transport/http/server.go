package http

import (
	"log/slog"
	"net/http"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/auth"
	"fleet-monitor/telemetry/internal/ingest"
	"fleet-monitor/telemetry/internal/live"
	"fleet-monitor/telemetry/internal/metrics"
)

// maxIngestBody bounds the size of one ingest request.
const maxIngestBody = 1 << 20

type Options struct {
	// SystemCost is the default investment used by the ROI and dashboard views.
	SystemCost float64
	// IngestRateLimit is requests per second per client; zero disables it.
	IngestRateLimit float64
	IngestRateBurst int
}

type Server struct {
	ingest    *ingest.Service
	analytics *analytics.Service
	broker    *live.Broker
	auth      *AuthMiddleware
	limiter   *RateLimiter
	opts      Options
	log       *slog.Logger
}

// NewServer wires the HTTP API. broker may be nil, which disables the stream.
func NewServer(
	ing *ingest.Service,
	an *analytics.Service,
	broker *live.Broker,
	authenticator *auth.Authenticator,
	opts Options,
	logger *slog.Logger,
) *Server {
	return &Server{
		ingest:    ing,
		analytics: an,
		broker:    broker,
		auth:      NewAuthMiddleware(authenticator),
		limiter:   NewRateLimiter(opts.IngestRateLimit, opts.IngestRateBurst),
		opts:      opts,
		log:       logger.With("component", "http"),
	}
}

// Handler returns the routed and instrumented API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/ingest", s.auth.Wrap(s.limiter.Wrap(http.HandlerFunc(s.handleIngest))))

	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("GET /v1/devices/{id}/latest", s.handleDeviceLatest)
	mux.HandleFunc("GET /v1/devices/{id}/events", s.handleDeviceEvents)
	mux.HandleFunc("GET /v1/metrics/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)

	mux.HandleFunc("GET /v1/fuel/waste/{id}", s.handleWaste)
	mux.HandleFunc("GET /v1/fuel/score/{id}", s.handleScore)
	mux.HandleFunc("GET /v1/fuel/ranking", s.handleRanking)
	mux.HandleFunc("GET /v1/fuel/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /v1/fuel/roi", s.handleROI)

	if s.broker != nil {
		mux.Handle("GET /v1/stream", s.auth.Wrap(http.HandlerFunc(s.handleStream)))
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return instrument(s.log, mux)
}
