package http

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/ingest"
	"fleet-monitor/telemetry/internal/store"
)

const (
	defaultEventMinutes  = 60
	defaultEventLimit    = 500
	defaultAnalysisHours = 24
	defaultRankingHours  = 720
	defaultAlertMinutes  = 10
	maxWindowHours       = 24 * 90
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeProblem(w, r, http.StatusBadRequest, "failed to read body")
		return
	}

	e, err := s.ingest.Submit(r.Context(), "http", body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"device_id": e.DeviceID,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.analytics.Devices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	e, err := s.analytics.Latest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", defaultEventMinutes, 1, maxWindowHours*60)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultEventLimit, 1, 10000)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.analytics.Events(r.Context(), r.PathValue("id"), minutes, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = domain.EventSeries{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.analytics.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", defaultAlertMinutes, 1, maxWindowHours*60)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := s.analytics.RecentAlerts(r.Context(), minutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleWaste(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultAnalysisHours, 1, maxWindowHours)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	optimal, err := optionalFloatParam(r, "optimal_km")
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	waste, err := s.analytics.WasteBreakdown(r.Context(), id, s.analytics.LastHours(hours), optimal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":       id,
		"period_hours":    hours,
		"waste_breakdown": waste,
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultAnalysisHours, 1, maxWindowHours)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	score, err := s.analytics.DriverScore(r.Context(), r.PathValue("id"), s.analytics.LastHours(hours))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultRankingHours, 1, maxWindowHours)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ranking, err := s.analytics.DriverRanking(r.Context(), s.analytics.LastHours(hours))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultAnalysisHours, 1, maxWindowHours)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	systemCost, err := floatParam(r, "system_cost", s.opts.SystemCost)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.analytics.Dashboard(r.Context(), s.analytics.LastHours(hours), systemCost)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleROI(w http.ResponseWriter, r *http.Request) {
	systemCost, err := floatParam(r, "system_cost", s.opts.SystemCost)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	savings, err := floatParam(r, "monthly_savings", 0)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.analytics.ROI(systemCost, savings))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps service errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, r, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "device not found")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal error")
	}
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer", name)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s: must be between %d and %d", name, lo, hi)
	}
	return v, nil
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v, err := optionalFloatParam(r, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return def, nil
	}
	return *v, nil
}

func optionalFloatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s: not a number", name)
	}
	if v < 0 {
		return nil, fmt.Errorf("%s: must not be negative", name)
	}
	return &v, nil
}
