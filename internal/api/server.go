// Package api provides the REST management interface: alert rules,
// history, settings, and reporting.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"adsb_tracker/internal/notify"
	"adsb_tracker/internal/routecache"
	"adsb_tracker/internal/storage"
)

// Server serves the management API.
type Server struct {
	store  storage.Store
	pusher notify.Pusher
	log    *slog.Logger
	loc    *time.Location

	addr    string
	apiKeys map[string]bool // Simple API key auth (when non-empty).
}

// Config holds configuration for the management API server.
type Config struct {
	Addr    string
	APIKeys []string // Empty list disables authentication.
}

// NewServer creates a management API server.
func NewServer(store storage.Store, pusher notify.Pusher, log *slog.Logger, loc *time.Location, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	return &Server{
		store:   store,
		pusher:  pusher,
		log:     log,
		loc:     loc,
		addr:    cfg.Addr,
		apiKeys: keys,
	}
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	s.log.Info("management API starting", "addr", s.addr, "auth", len(s.apiKeys) > 0)
	return http.ListenAndServe(s.addr, s.Router())
}

// Router builds the chi router, exported so tests can drive it directly.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for browser access.
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required).
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if len(s.apiKeys) > 0 {
				r.Use(s.authMiddleware)
			}

			r.Get("/alert-rules", s.handleListRules)
			r.Post("/alert-rules", s.handleCreateRule)
			r.Put("/alert-rules/{id}", s.handleUpdateRule)
			r.Delete("/alert-rules/{id}", s.handleDeleteRule)

			r.Get("/alert-history", s.handleAlertHistory)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/test-alert", s.handleTestAlert)

			r.Get("/sightings/{date}", s.handleSightingsByDate)
			r.Get("/aircraft/live", s.handleLiveAircraft)
			r.Get("/routes/{callsign}", s.handleRoute)
			r.Get("/track/{callsign}", s.handleTrack)

			r.Get("/reports/daily", s.handleDailyReport)
			r.Get("/reports/airlines", s.handleAirlineReport)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RuleResponse is the JSON shape of one alert rule.
type RuleResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
}

func ruleToResponse(r storage.AlertRule) RuleResponse {
	return RuleResponse{
		ID:        r.ID,
		Name:      r.Name,
		Type:      string(r.Type),
		Value:     r.Value,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, ruleToResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RuleRequest is the request body for creating or updating a rule.
type RuleRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" || req.Type == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	ruleType, err := storage.ParseRuleType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	id, err := s.store.CreateRule(r.Context(), storage.AlertRule{
		Name:      req.Name,
		Type:      ruleType,
		Value:     req.Value,
		Enabled:   enabled,
		CreatedAt: time.Now().In(s.loc),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"message": "Alert rule created",
	})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule ID")
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	// Partial update over the stored rule.
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var existing *storage.AlertRule
	for i := range rules {
		if rules[i].ID == id {
			existing = &rules[i]
			break
		}
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Alert rule not found")
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Type != "" {
		ruleType, err := storage.ParseRuleType(req.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		existing.Type = ruleType
	}
	if req.Value != "" {
		existing.Value = req.Value
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := s.store.UpdateRule(r.Context(), *existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alert rule updated"})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule ID")
		return
	}
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alert rule deleted"})
}

// HistoryResponse is the JSON shape of one alert history record.
type HistoryResponse struct {
	ID           int64    `json:"id"`
	RuleID       int64    `json:"rule_id"`
	ICAOHex      string   `json:"icao_hex"`
	Callsign     string   `json:"callsign"`
	AircraftType string   `json:"aircraft_type,omitempty"`
	Squawk       string   `json:"squawk,omitempty"`
	Altitude     *int     `json:"altitude,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
	TriggeredAt  string   `json:"triggered_at"`
	SentPush     bool     `json:"sent_push"`
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := s.store.ListAlertHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, HistoryResponse{
			ID:           rec.ID,
			RuleID:       rec.RuleID,
			ICAOHex:      rec.ICAOHex,
			Callsign:     rec.Callsign,
			AircraftType: rec.AircraftType,
			Squawk:       rec.Squawk,
			Altitude:     rec.Altitude,
			Lat:          rec.Lat,
			Lon:          rec.Lon,
			TriggeredAt:  rec.TriggeredAt.Format(time.RFC3339),
			SentPush:     rec.SentPush,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	result := map[string]string{}
	for _, key := range []string{
		storage.SettingPushoverUserKey,
		storage.SettingPushoverAPIToken,
		storage.SettingAlertsEnabled,
	} {
		value, err := s.store.GetSetting(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Mask credentials, show only first/last 4 chars.
		if strings.Contains(key, "token") || strings.Contains(key, "key") {
			if len(value) > 8 {
				value = value[:4] + "****" + value[len(value)-4:]
			}
		}
		result[key] = value
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var data map[string]string
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	for key, value := range data {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings updated"})
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.NotifierSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !settings.Enabled || !settings.Configured() {
		writeError(w, http.StatusBadRequest, "Notifier not enabled and configured")
		return
	}

	msg := notify.Message{
		Title: "🧪 Test Alert",
		Body: fmt.Sprintf("This is a test notification from your ADSB Alert System.\n\nTime: %s",
			time.Now().In(s.loc).Format("15:04:05")),
	}
	if err := s.pusher.Push(r.Context(), settings, msg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to send test alert: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test alert sent successfully"})
}

// SightingResponse is the JSON shape of one sighting row.
type SightingResponse struct {
	Date          string   `json:"date"`
	ICAOHex       string   `json:"icao_hex"`
	Callsign      string   `json:"callsign"`
	Airline       *string  `json:"airline,omitempty"`
	AircraftType  string   `json:"aircraft_type,omitempty"`
	FirstSeen     string   `json:"first_seen"`
	LastSeen      string   `json:"last_seen"`
	MinAltitude   *int     `json:"min_altitude,omitempty"`
	MaxAltitude   *int     `json:"max_altitude,omitempty"`
	MaxDistanceNM *float64 `json:"distance_nm,omitempty"`
	Squawk        *string  `json:"squawk,omitempty"`
}

func sightingToResponse(s storage.Sighting) SightingResponse {
	return SightingResponse{
		Date:          s.Date,
		ICAOHex:       s.ICAOHex,
		Callsign:      s.Callsign,
		Airline:       s.Airline,
		AircraftType:  s.AircraftType,
		FirstSeen:     s.FirstSeen.Format(time.RFC3339),
		LastSeen:      s.LastSeen.Format(time.RFC3339),
		MinAltitude:   s.MinAltitude,
		MaxAltitude:   s.MaxAltitude,
		MaxDistanceNM: s.MaxDistanceNM,
		Squawk:        s.Squawk,
	}
}

func (s *Server) handleSightingsByDate(w http.ResponseWriter, r *http.Request) {
	dateStr := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}

	sightings, err := s.store.ListSightingsByDate(r.Context(), dateStr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]SightingResponse, 0, len(sightings))
	for _, sg := range sightings {
		resp = append(resp, sightingToResponse(sg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLiveAircraft returns today's sightings seen within the last five
// minutes, the "currently overhead" view.
func (s *Server) handleLiveAircraft(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	sightings, err := s.store.ListSightingsByDate(r.Context(), now.Format("2006-01-02"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cutoff := now.Add(-5 * time.Minute)
	resp := make([]SightingResponse, 0)
	for _, sg := range sightings {
		if sg.LastSeen.After(cutoff) {
			resp = append(resp, sightingToResponse(sg))
		}
		if len(resp) == 100 {
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RouteResponse is the JSON shape of a cached route.
type RouteResponse struct {
	Callsign    string              `json:"callsign"`
	Known       bool                `json:"known"`
	Origin      *routecache.Airport `json:"origin,omitempty"`
	Destination *routecache.Airport `json:"destination,omitempty"`
	LastUpdated string              `json:"last_updated"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	callsign := strings.ToUpper(chi.URLParam(r, "callsign"))

	entry, err := s.store.GetRoute(r.Context(), callsign)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "No cached route for callsign")
		return
	}

	resp := RouteResponse{
		Callsign:    entry.Callsign,
		Known:       entry.Success,
		LastUpdated: entry.LastUpdated.Format(time.RFC3339),
	}
	if entry.Success {
		resp.Origin = airportFromEntry(entry.OriginIATA, entry.OriginICAO, entry.OriginName, entry.OriginCountry, entry.OriginLat, entry.OriginLon)
		resp.Destination = airportFromEntry(entry.DestinationIATA, entry.DestinationICAO, entry.DestinationName, entry.DestinationCountry, entry.DestinationLat, entry.DestinationLon)
	}
	writeJSON(w, http.StatusOK, resp)
}

func airportFromEntry(iata, icao, name, country *string, lat, lon *float64) *routecache.Airport {
	a := &routecache.Airport{}
	if iata != nil {
		a.IATA = *iata
	}
	if icao != nil {
		a.ICAO = *icao
	}
	if name != nil {
		a.Name = *name
	}
	if country != nil {
		a.Country = *country
	}
	if lat != nil {
		a.Lat = *lat
	}
	if lon != nil {
		a.Lon = *lon
	}
	return a
}

// TrackPointResponse is the JSON shape of one position fix.
type TrackPointResponse struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Altitude    *int     `json:"altitude,omitempty"`
	Track       *float64 `json:"track,omitempty"`
	GroundSpeed *float64 `json:"ground_speed,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	callsign := strings.ToUpper(chi.URLParam(r, "callsign"))

	since := time.Now().Add(-2 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		since = t
	}

	fixes, err := s.store.ListTrack(r.Context(), callsign, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]TrackPointResponse, 0, len(fixes))
	for _, fix := range fixes {
		resp = append(resp, TrackPointResponse{
			Lat:         fix.Lat,
			Lon:         fix.Lon,
			Altitude:    fix.Altitude,
			Track:       fix.Track,
			GroundSpeed: fix.GroundSpeed,
			Timestamp:   fix.Timestamp.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days")
			return
		}
		days = n
	}

	stats, err := s.store.DailySummary(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAirlineReport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(s.loc).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}

	counts, err := s.store.CountSightingsByAirline(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
