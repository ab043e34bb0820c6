package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateSchema(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }
func floatPtr(f float64) *float64 { return &f }

func TestSightingUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s := Sighting{
		Date:          "2025-03-14",
		ICAOHex:       "3c6444",
		Callsign:      "DLH400",
		Airline:       strPtr("DLH"),
		AircraftType:  "B744",
		FirstSeen:     now,
		LastSeen:      now,
		MinAltitude:   intPtr(30000),
		MaxAltitude:   intPtr(30000),
		MaxDistanceNM: floatPtr(12.5),
		Squawk:        strPtr("1000"),
	}
	if err := db.UpsertSighting(ctx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := db.GetSighting(ctx, "DLH400", "2025-03-14")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected sighting, got nil")
	}
	if got.ICAOHex != "3c6444" || *got.MinAltitude != 30000 || *got.Squawk != "1000" {
		t.Errorf("unexpected sighting: %+v", got)
	}

	// Second upsert for the same (callsign, date) replaces the row.
	s.LastSeen = now.Add(5 * time.Minute)
	s.MaxAltitude = intPtr(31000)
	s.Squawk = nil
	if err := db.UpsertSighting(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = db.GetSighting(ctx, "DLH400", "2025-03-14")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if *got.MaxAltitude != 31000 {
		t.Errorf("max altitude = %d, want 31000", *got.MaxAltitude)
	}
	if got.Squawk != nil {
		t.Errorf("squawk = %q, want cleared", *got.Squawk)
	}
	if !got.LastSeen.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("last seen = %v, want %v", got.LastSeen, now.Add(5*time.Minute))
	}

	// Same callsign on a different date is a separate row.
	s.Date = "2025-03-15"
	if err := db.UpsertSighting(ctx, s); err != nil {
		t.Fatalf("insert next day: %v", err)
	}
	list, err := db.ListSightingsByDate(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("sightings on 2025-03-14 = %d, want 1", len(list))
	}
}

func TestGetSightingMissing(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetSighting(context.Background(), "NOSUCH1", "2025-03-14")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing sighting, got %+v", got)
	}
}

func TestCountSightingsByAirline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []struct {
		callsign string
		airline  *string
	}{
		{"DLH400", strPtr("DLH")},
		{"DLH9K", strPtr("DLH")},
		{"BAW117", strPtr("BAW")},
		{"N123AB", nil}, // no airline prefix, excluded from counts
	}
	for _, r := range rows {
		s := Sighting{Date: "2025-03-14", Callsign: r.callsign, Airline: r.airline, FirstSeen: now, LastSeen: now}
		if err := db.UpsertSighting(ctx, s); err != nil {
			t.Fatalf("insert %s: %v", r.callsign, err)
		}
	}

	counts, err := db.CountSightingsByAirline(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("airline groups = %d, want 2", len(counts))
	}
	if counts[0].Airline != "DLH" || counts[0].Count != 2 {
		t.Errorf("top airline = %+v, want DLH x2", counts[0])
	}
}

func TestRouteCacheRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	got, err := db.GetRoute(ctx, "DLH400")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing route")
	}

	updated := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	e := RouteCacheEntry{
		Callsign:        "DLH400",
		OriginIATA:      strPtr("FRA"),
		OriginICAO:      strPtr("EDDF"),
		OriginName:      strPtr("Frankfurt am Main"),
		OriginCountry:   strPtr("Germany"),
		OriginLat:       floatPtr(50.0333),
		OriginLon:       floatPtr(8.5706),
		DestinationIATA: strPtr("JFK"),
		DestinationICAO: strPtr("KJFK"),
		LastUpdated:     updated,
		Success:         true,
	}
	if err := db.PutRoute(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err = db.GetRoute(ctx, "DLH400")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected route, got nil")
	}
	if *got.OriginICAO != "EDDF" || *got.DestinationIATA != "JFK" || !got.Success {
		t.Errorf("unexpected entry: %+v", got)
	}
	if !got.LastUpdated.Equal(updated) {
		t.Errorf("last updated = %v, want %v", got.LastUpdated, updated)
	}

	// Negative result overwrites the positive one.
	neg := RouteCacheEntry{Callsign: "DLH400", LastUpdated: updated.Add(time.Hour), Success: false}
	if err := db.PutRoute(ctx, neg); err != nil {
		t.Fatalf("put negative: %v", err)
	}
	got, err = db.GetRoute(ctx, "DLH400")
	if err != nil {
		t.Fatalf("get negative: %v", err)
	}
	if got.Success {
		t.Error("expected negative entry after overwrite")
	}
	if got.OriginICAO != nil {
		t.Errorf("origin ICAO = %q, want cleared", *got.OriginICAO)
	}
}

func TestRuleCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.CreateRule(ctx, AlertRule{
		Name:      "Emergency squawk",
		Type:      RuleSquawk,
		Value:     "7700",
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero rule ID")
	}

	_, err = db.CreateRule(ctx, AlertRule{
		Name:      "Lufthansa",
		Type:      RuleCallsign,
		Value:     "DLH",
		Enabled:   false,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	all, err := db.ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("rules = %d, want 2", len(all))
	}

	enabled, err := db.ListEnabledRules(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != id {
		t.Fatalf("enabled rules = %+v, want only %d", enabled, id)
	}

	rule := enabled[0]
	rule.Enabled = false
	if err := db.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("update: %v", err)
	}
	enabled, err = db.ListEnabledRules(ctx)
	if err != nil {
		t.Fatalf("list after update: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("enabled rules after disable = %d, want 0", len(enabled))
	}

	if err := db.DeleteRule(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = db.ListRules(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("rules after delete = %d, want 1", len(all))
	}
}

func TestWasRecentlyTriggered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	id, err := db.CreateRule(ctx, AlertRule{Name: "r", Type: RuleSquawk, Value: "7700", Enabled: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rec := AlertHistoryRecord{
		RuleID:      id,
		ICAOHex:     "3c6444",
		Callsign:    "DLH400",
		TriggeredAt: now.Add(-10 * time.Minute),
		SentPush:    true,
	}
	if err := db.InsertAlertHistory(ctx, rec); err != nil {
		t.Fatalf("insert history: %v", err)
	}

	// Record at T-10m is inside a 30-minute window.
	hit, err := db.WasRecentlyTriggered(ctx, id, "3c6444", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !hit {
		t.Error("expected recent trigger inside window")
	}

	// Same rule, different aircraft: no hit.
	hit, err = db.WasRecentlyTriggered(ctx, id, "abcdef", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("check other aircraft: %v", err)
	}
	if hit {
		t.Error("unexpected hit for different aircraft")
	}

	// Cutoff after the record: no hit.
	hit, err = db.WasRecentlyTriggered(ctx, id, "3c6444", now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("check stale: %v", err)
	}
	if hit {
		t.Error("unexpected hit outside window")
	}
}

func TestAlertHistoryList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := db.CreateRule(ctx, AlertRule{Name: "r", Type: RuleCallsign, Value: "DLH", Enabled: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := AlertHistoryRecord{
			RuleID:      id,
			ICAOHex:     "3c6444",
			Callsign:    "DLH400",
			Altitude:    intPtr(30000 + i),
			TriggeredAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := db.InsertAlertHistory(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	records, err := db.ListAlertHistory(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Newest first.
	if *records[0].Altitude != 30002 {
		t.Errorf("first record altitude = %d, want 30002", *records[0].Altitude)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Schema creation seeds the known keys with empty values.
	v, err := db.GetSetting(ctx, SettingPushoverUserKey)
	if err != nil {
		t.Fatalf("get seeded: %v", err)
	}
	if v != "" {
		t.Errorf("seeded value = %q, want empty", v)
	}

	if err := db.SetSetting(ctx, SettingPushoverUserKey, "ukey"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetSetting(ctx, SettingPushoverAPIToken, "tok"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetSetting(ctx, SettingAlertsEnabled, "1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	s, err := db.NotifierSettings(ctx)
	if err != nil {
		t.Fatalf("notifier settings: %v", err)
	}
	if s.UserKey != "ukey" || s.APIToken != "tok" || !s.Enabled {
		t.Errorf("unexpected settings: %+v", s)
	}
	if !s.Configured() {
		t.Error("expected Configured() with both credentials set")
	}

	// Unknown key reads as empty, not an error.
	v, err = db.GetSetting(ctx, "no_such_key")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if v != "" {
		t.Errorf("unknown key value = %q, want empty", v)
	}
}

func TestPositionHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	fixes := []PositionFix{
		{Callsign: "DLH400", ICAOHex: "3c6444", Lat: 50.1, Lon: 8.6, Altitude: intPtr(30000), Timestamp: now.Add(-3 * time.Hour)},
		{Callsign: "DLH400", ICAOHex: "3c6444", Lat: 50.2, Lon: 8.7, Altitude: intPtr(31000), Timestamp: now.Add(-time.Hour)},
		{Callsign: "BAW117", ICAOHex: "400abc", Lat: 51.5, Lon: -0.4, Timestamp: now.Add(-30 * time.Minute)},
	}
	for _, p := range fixes {
		if err := db.InsertPosition(ctx, p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	track, err := db.ListTrack(ctx, "DLH400", now.Add(-4*time.Hour))
	if err != nil {
		t.Fatalf("list track: %v", err)
	}
	if len(track) != 2 {
		t.Fatalf("track points = %d, want 2", len(track))
	}
	if track[0].Lat != 50.1 {
		t.Errorf("track not in chronological order: %+v", track)
	}

	pruned, err := db.PrunePositions(ctx, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	track, err = db.ListTrack(ctx, "DLH400", now.Add(-4*time.Hour))
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(track) != 1 {
		t.Errorf("track points after prune = %d, want 1", len(track))
	}
}

func TestDailySummary(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, r := range []struct{ date, callsign, airline string }{
		{"2025-03-13", "DLH400", "DLH"},
		{"2025-03-14", "DLH400", "DLH"},
		{"2025-03-14", "BAW117", "BAW"},
	} {
		s := Sighting{Date: r.date, Callsign: r.callsign, Airline: strPtr(r.airline), FirstSeen: now, LastSeen: now}
		if err := db.UpsertSighting(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stats, err := db.DailySummary(ctx, 7)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("days = %d, want 2", len(stats))
	}
	if stats[0].Date != "2025-03-14" || stats[0].Sightings != 2 || stats[0].Airlines != 2 {
		t.Errorf("latest day = %+v, want 2 sightings across 2 airlines", stats[0])
	}
}

func TestRouteCacheState(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		entry   *RouteCacheEntry
		want    CacheState
	}{
		{"nil entry", nil, CacheStale},
		{"fresh positive", &RouteCacheEntry{LastUpdated: now.Add(-time.Hour), Success: true}, CacheFreshPositive},
		{"fresh negative", &RouteCacheEntry{LastUpdated: now.Add(-time.Hour), Success: false}, CacheFreshNegative},
		{"just inside window", &RouteCacheEntry{LastUpdated: now.Add(-7*24*time.Hour + time.Second), Success: true}, CacheFreshPositive},
		{"exactly at window", &RouteCacheEntry{LastUpdated: now.Add(-7 * 24 * time.Hour), Success: true}, CacheStale},
		{"well past window", &RouteCacheEntry{LastUpdated: now.Add(-30 * 24 * time.Hour), Success: true}, CacheStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.entry.State(now, 7)
			if got != tt.want {
				t.Errorf("State() = %v, want %v", got, tt.want)
			}
		})
	}
}
