// Package api exposes the pipeline over HTTP: live state from the
// aggregator, computed KPIs, stored rollups, and the alert ledger.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/retailsense/venueflow/internal/httputil"
	"github.com/retailsense/venueflow/internal/kpi"
	"github.com/retailsense/venueflow/internal/report"
	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/timeutil"
	"github.com/retailsense/venueflow/internal/track"
	"github.com/retailsense/venueflow/internal/version"
	"github.com/retailsense/venueflow/internal/zones"
)

// Server serves the HTTP API.
type Server struct {
	db       *store.Store
	registry *zones.Registry
	agg      *track.Aggregator
	calc     *kpi.Calculator
	reports  *report.Generator
	clock    timeutil.Clock
}

// NewServer wires the API over the live aggregator and the store.
func NewServer(db *store.Store, registry *zones.Registry, agg *track.Aggregator, calc *kpi.Calculator, clock timeutil.Clock) *Server {
	return &Server{
		db:       db,
		registry: registry,
		agg:      agg,
		calc:     calc,
		reports:  report.New(calc),
		clock:    clock,
	}
}

// Router returns the API routes without middleware or admin surfaces,
// which is what tests want.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	api.HandleFunc("/zones/refresh", s.handleZoneRefresh).Methods(http.MethodPost)
	api.HandleFunc("/occupancy", s.handleOccupancy).Methods(http.MethodGet)
	api.HandleFunc("/tracks", s.handleTracks).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/kpis", s.handleZoneKPIs).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/occupancy_series", s.handleOccupancySeries).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/report", s.handleZoneReport).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/rollups/hourly", s.handleHourlyRollups).Methods(http.MethodGet)
	api.HandleFunc("/zones/{id}/rollups/daily", s.handleDailyRollups).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/ack", s.handleAckAlert).Methods(http.MethodPost)
	return r
}

// Handler returns the full HTTP surface: the API routes plus the admin
// debug/backup endpoints, with request logging and panic recovery.
func (s *Server) Handler() (http.Handler, error) {
	root := http.NewServeMux()
	if err := s.db.AttachAdminRoutes(root); err != nil {
		return nil, fmt.Errorf("attach admin routes: %w", err)
	}
	root.Handle("/", s.Router())
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, root)), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, map[string]any{
		"status":       "ok",
		"version":      version.String(),
		"zone_version": s.registry.Snapshot().Version,
		"live_tracks":  s.agg.TrackCount(),
	})
}

// zoneView is the wire shape of a zone definition.
type zoneView struct {
	ID                  string      `json:"id"`
	VenueID             string      `json:"venue_id"`
	Name                string      `json:"name"`
	Vertices            []geoVertex `json:"vertices"`
	DwellThresholdMs    int64       `json:"dwell_threshold_ms"`
	EngagementMs        int64       `json:"engagement_threshold_ms"`
	IsQueue             bool        `json:"is_queue"`
	LinkedServiceZoneID string      `json:"linked_service_zone_id,omitempty"`
	LaneOpen            bool        `json:"lane_open"`
	AlertsEnabled       bool        `json:"alerts_enabled"`
	AlertRules          []ruleView  `json:"alert_rules,omitempty"`
}

type geoVertex struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

type ruleView struct {
	ID        string  `json:"id"`
	Metric    string  `json:"metric"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
	Enabled   bool    `json:"enabled"`
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	out := make([]zoneView, 0, len(snap.All()))
	for _, z := range snap.All() {
		v := zoneView{
			ID:                  z.ID,
			VenueID:             z.VenueID,
			Name:                z.Name,
			DwellThresholdMs:    z.DwellThreshold.Milliseconds(),
			EngagementMs:        z.EngagementThreshold.Milliseconds(),
			IsQueue:             z.IsQueue(),
			LinkedServiceZoneID: z.LinkedServiceZoneID,
			LaneOpen:            !z.IsQueue() || snap.Gating.IsOpen(z.ID),
			AlertsEnabled:       z.AlertsEnabled,
		}
		for _, vx := range z.Vertices {
			v.Vertices = append(v.Vertices, geoVertex{X: vx.X, Z: vx.Z})
		}
		for _, rule := range z.AlertRules {
			v.AlertRules = append(v.AlertRules, ruleView(rule))
		}
		out = append(out, v)
	}
	httputil.WriteJSON(w, out)
}

func (s *Server) handleZoneRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Refresh(r.Context()); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, map[string]any{
		"status":       "refreshed",
		"zone_version": s.registry.Snapshot().Version,
	})
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, map[string]any{
		"timestamp_ms": store.TimeMs(s.clock.Now()),
		"zones":        s.agg.OccupancyByZone(),
	})
}

type trackView struct {
	Key        string  `json:"key"`
	X          float64 `json:"x"`
	Z          float64 `json:"z"`
	Velocity   float64 `json:"velocity"`
	ObjectType string  `json:"object_type"`
	TrailLen   int     `json:"trail_len"`
	AgeMs      int64   `json:"age_ms"`
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	live := s.agg.LiveTracks()
	out := make([]trackView, 0, len(live))
	for _, t := range live {
		out = append(out, trackView{
			Key:        t.Key,
			X:          t.Position.X,
			Z:          t.Position.Z,
			Velocity:   t.Velocity,
			ObjectType: t.ObjectType,
			TrailLen:   len(t.Trail),
			AgeMs:      now.Sub(t.FirstSeen).Milliseconds(),
		})
	}
	httputil.WriteJSON(w, out)
}

// parseWindow reads from/to unix-millisecond query params. Missing params
// default to the trailing hour.
func (s *Server) parseWindow(r *http.Request) (kpi.Window, error) {
	now := s.clock.Now()
	win := kpi.Window{Start: now.Add(-time.Hour), End: now}
	if v := r.URL.Query().Get("from"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return win, fmt.Errorf("bad from: %q", v)
		}
		win.Start = store.MsTime(ms)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return win, fmt.Errorf("bad to: %q", v)
		}
		win.End = store.MsTime(ms)
	}
	if !win.End.After(win.Start) {
		return win, fmt.Errorf("empty window")
	}
	return win, nil
}

func (s *Server) handleZoneKPIs(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["id"]
	win, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rep, err := s.calc.ZoneReport(zoneID, win)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, rep)
}

func (s *Server) handleOccupancySeries(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["id"]
	win, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	interval := time.Minute
	if v := r.URL.Query().Get("interval"); v != "" {
		interval, err = time.ParseDuration(v)
		if err != nil || interval <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("bad interval: %q", v))
			return
		}
	}
	series, err := s.calc.OccupancySeries(zoneID, win, interval)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, series)
}

func (s *Server) handleZoneReport(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["id"]
	win, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.reports.WriteZoneReport(w, zoneID, win); err != nil {
		httputil.InternalServerError(w, err.Error())
	}
}

// parseDays reads from_day/to_day query params as YYYY-MM-DD, defaulting
// to the trailing seven days.
func (s *Server) parseDays(r *http.Request) (string, string, error) {
	now := s.clock.Now().UTC()
	from := now.AddDate(0, 0, -7).Format("2006-01-02")
	to := now.Format("2006-01-02")
	if v := r.URL.Query().Get("from_day"); v != "" {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return "", "", fmt.Errorf("bad from_day: %q", v)
		}
		from = v
	}
	if v := r.URL.Query().Get("to_day"); v != "" {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return "", "", fmt.Errorf("bad to_day: %q", v)
		}
		to = v
	}
	return from, to, nil
}

func (s *Server) handleHourlyRollups(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["id"]
	from, to, err := s.parseDays(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rows, err := s.db.HourlyKPIs(zoneID, from, to)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, rows)
}

func (s *Server) handleDailyRollups(w http.ResponseWriter, r *http.Request) {
	zoneID := mux.Vars(r)["id"]
	from, to, err := s.parseDays(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rows, err := s.db.DailyKPIs(zoneID, from, to)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, rows)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, fmt.Sprintf("bad limit: %q", v))
			return
		}
		limit = n
	}
	entries, err := s.db.LedgerEntries(q.Get("zone"), q.Get("unacked") == "true", limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, entries)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["id"]
	if err := s.db.AcknowledgeLedgerEntry(entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, map[string]string{"status": "acknowledged", "entry_id": entryID})
}
