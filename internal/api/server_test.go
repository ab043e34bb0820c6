package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"adsb_tracker/internal/notify"
	"adsb_tracker/internal/storage"
)

type fakePusher struct {
	calls []notify.Message
	err   error
}

func (f *fakePusher) Push(_ context.Context, _ storage.NotifySettings, msg notify.Message) error {
	f.calls = append(f.calls, msg)
	return f.err
}

func newTestServer(t *testing.T, cfg Config) (*Server, storage.Store, *fakePusher) {
	t.Helper()
	db, err := storage.OpenSQLite(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateSchema(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pusher := &fakePusher{}
	srv := NewServer(db, pusher, slog.New(slog.DiscardHandler), time.UTC, cfg)
	return srv, db, pusher
}

func doRequest(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Addr: ":0"})
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %q", resp["status"])
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Addr: ":0"})

	// Create.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/alert-rules",
		`{"name": "Emergency", "type": "squawk", "value": "7700"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("no rule ID returned")
	}

	// List.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/alert-rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var rules []RuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rules) != 1 || rules[0].Type != "squawk" || !rules[0].Enabled {
		t.Fatalf("rules = %+v", rules)
	}

	// Partial update: disable only.
	rec = doRequest(t, srv, http.MethodPut, "/api/v1/alert-rules/1", `{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/alert-rules", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rules[0].Enabled || rules[0].Value != "7700" {
		t.Errorf("after update: %+v", rules[0])
	}

	// Delete.
	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/alert-rules/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/alert-rules", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("rules after delete = %+v", rules)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Addr: ":0"})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/alert-rules", `{"name": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/alert-rules",
		`{"name": "x", "type": "registration", "value": "y"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPut, "/api/v1/alert-rules/999", `{"enabled": false}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing rule status = %d", rec.Code)
	}
}

func TestSettingsMasking(t *testing.T) {
	srv, db, _ := newTestServer(t, Config{Addr: ":0"})
	ctx := context.Background()
	db.SetSetting(ctx, storage.SettingPushoverAPIToken, "abcd1234efgh5678")
	db.SetSetting(ctx, storage.SettingAlertsEnabled, "1")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp[storage.SettingPushoverAPIToken] != "abcd****5678" {
		t.Errorf("token = %q, want masked", resp[storage.SettingPushoverAPIToken])
	}
	if resp[storage.SettingAlertsEnabled] != "1" {
		t.Errorf("enabled = %q", resp[storage.SettingAlertsEnabled])
	}

	// Update round-trips through the store unmasked.
	rec = doRequest(t, srv, http.MethodPut, "/api/v1/settings", `{"alerts_enabled": "0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	v, err := db.GetSetting(ctx, storage.SettingAlertsEnabled)
	if err != nil || v != "0" {
		t.Errorf("stored value = %q, %v", v, err)
	}
}

func TestTestAlert(t *testing.T) {
	srv, db, pusher := newTestServer(t, Config{Addr: ":0"})
	ctx := context.Background()

	// Unconfigured: refuses.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/test-alert", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unconfigured status = %d", rec.Code)
	}

	db.SetSetting(ctx, storage.SettingPushoverUserKey, "ukey")
	db.SetSetting(ctx, storage.SettingPushoverAPIToken, "tok")
	db.SetSetting(ctx, storage.SettingAlertsEnabled, "1")

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/test-alert", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(pusher.calls) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pusher.calls))
	}
	if pusher.calls[0].Priority != 0 {
		t.Errorf("test alert priority = %d, want 0", pusher.calls[0].Priority)
	}
	if !strings.Contains(pusher.calls[0].Title, "Test Alert") {
		t.Errorf("title = %q", pusher.calls[0].Title)
	}
}

func TestSightingsAndReports(t *testing.T) {
	srv, db, _ := newTestServer(t, Config{Addr: ":0"})
	ctx := context.Background()
	now := time.Now().UTC()
	airline := "DLH"
	alt := 30000

	s := storage.Sighting{
		Date:        now.Format("2006-01-02"),
		ICAOHex:     "3c6444",
		Callsign:    "DLH400",
		Airline:     &airline,
		FirstSeen:   now.Add(-10 * time.Minute),
		LastSeen:    now.Add(-time.Minute),
		MaxAltitude: &alt,
	}
	if err := db.UpsertSighting(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sightings/"+s.Date, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sightings status = %d", rec.Code)
	}
	var sightings []SightingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sightings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sightings) != 1 || sightings[0].Callsign != "DLH400" {
		t.Fatalf("sightings = %+v", sightings)
	}

	// Seen a minute ago: shows as live.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/aircraft/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sightings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sightings) != 1 {
		t.Errorf("live = %+v, want the recent sighting", sightings)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/reports/daily?days=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("daily report status = %d", rec.Code)
	}
	var daily []storage.DailyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(daily) != 1 || daily[0].Sightings != 1 {
		t.Errorf("daily = %+v", daily)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/reports/airlines?date="+s.Date, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("airline report status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sightings/not-a-date", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}
}

func TestRouteEndpoint(t *testing.T) {
	srv, db, _ := newTestServer(t, Config{Addr: ":0"})
	ctx := context.Background()

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/routes/DLH400", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing route status = %d", rec.Code)
	}

	icao := "EDDF"
	if err := db.PutRoute(ctx, storage.RouteCacheEntry{
		Callsign:    "DLH400",
		OriginICAO:  &icao,
		LastUpdated: time.Now(),
		Success:     true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/routes/DLH400", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RouteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Known || resp.Origin == nil || resp.Origin.ICAO != "EDDF" {
		t.Errorf("route = %+v", resp)
	}
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Addr: ":0", APIKeys: []string{"sekrit"}})

	// Health stays open.
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	// Everything else requires a key.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/alert-rules", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alert-rules", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alert-rules", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer key status = %d", w.Code)
	}
}
