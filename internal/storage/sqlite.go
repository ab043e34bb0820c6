package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB implements Store on a local SQLite database.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
// If path is empty, an in-memory database is used.
func OpenSQLite(path string) (*SQLiteDB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// A single connection serializes writes and avoids SQLITE_BUSY races
	// between the pipeline and API writers.
	db.SetMaxOpenConns(1)

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// CreateSchema creates all tables and indices, and seeds default settings.
func (d *SQLiteDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft_sightings (
		date           TEXT NOT NULL,
		icao_hex       TEXT,
		callsign       TEXT NOT NULL,
		airline        TEXT,
		aircraft_type  TEXT,
		first_seen     TIMESTAMP NOT NULL,
		last_seen      TIMESTAMP NOT NULL,
		min_altitude   INTEGER,
		max_altitude   INTEGER,
		distance_nm    REAL,
		squawk         TEXT,
		UNIQUE(callsign, date)
	);

	CREATE INDEX IF NOT EXISTS idx_sightings_date ON aircraft_sightings(date);
	CREATE INDEX IF NOT EXISTS idx_sightings_airline ON aircraft_sightings(airline);

	CREATE TABLE IF NOT EXISTS route_cache (
		callsign            TEXT PRIMARY KEY,
		origin_iata         TEXT,
		origin_icao         TEXT,
		origin_name         TEXT,
		origin_country      TEXT,
		origin_lat          REAL,
		origin_lon          REAL,
		destination_iata    TEXT,
		destination_icao    TEXT,
		destination_name    TEXT,
		destination_country TEXT,
		destination_lat     REAL,
		destination_lon     REAL,
		last_updated        TIMESTAMP NOT NULL,
		api_success         INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		value       TEXT NOT NULL,
		enabled     INTEGER NOT NULL DEFAULT 1,
		created_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alert_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id       INTEGER NOT NULL REFERENCES alert_rules(id),
		icao_hex      TEXT,
		callsign      TEXT,
		aircraft_type TEXT,
		squawk        TEXT,
		altitude      INTEGER,
		lat           REAL,
		lon           REAL,
		triggered_at  TIMESTAMP NOT NULL,
		sent_push     INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_history_dedup ON alert_history(rule_id, icao_hex, triggered_at);

	CREATE TABLE IF NOT EXISTS settings (
		key    TEXT PRIMARY KEY,
		value  TEXT
	);

	CREATE TABLE IF NOT EXISTS position_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		callsign      TEXT NOT NULL,
		icao_hex      TEXT,
		lat           REAL NOT NULL,
		lon           REAL NOT NULL,
		altitude      INTEGER,
		track         REAL,
		ground_speed  REAL,
		timestamp     TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_callsign ON position_history(callsign, timestamp);
	CREATE INDEX IF NOT EXISTS idx_positions_timestamp ON position_history(timestamp);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Seed default settings rows so the management API can UPDATE in place.
	seeds := []string{SettingPushoverUserKey, SettingPushoverAPIToken, SettingAlertsEnabled}
	for _, key := range seeds {
		if _, err := d.db.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, '') ON CONFLICT(key) DO NOTHING`, key); err != nil {
			return err
		}
	}
	return nil
}

// GetSighting retrieves the sighting for (callsign, date), or nil if none.
func (d *SQLiteDB) GetSighting(ctx context.Context, callsign, date string) (*Sighting, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT date, icao_hex, callsign, airline, aircraft_type, first_seen, last_seen,
		       min_altitude, max_altitude, distance_nm, squawk
		FROM aircraft_sightings WHERE callsign = ? AND date = ?
	`, callsign, date)

	s, err := scanSighting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (*Sighting, error) {
	var s Sighting
	var icaoHex, airline, acType, squawk sql.NullString
	var minAlt, maxAlt sql.NullInt64
	var dist sql.NullFloat64

	err := row.Scan(&s.Date, &icaoHex, &s.Callsign, &airline, &acType,
		&s.FirstSeen, &s.LastSeen, &minAlt, &maxAlt, &dist, &squawk)
	if err != nil {
		return nil, err
	}

	s.ICAOHex = icaoHex.String
	s.AircraftType = acType.String
	if airline.Valid {
		s.Airline = &airline.String
	}
	if minAlt.Valid {
		v := int(minAlt.Int64)
		s.MinAltitude = &v
	}
	if maxAlt.Valid {
		v := int(maxAlt.Int64)
		s.MaxAltitude = &v
	}
	if dist.Valid {
		s.MaxDistanceNM = &dist.Float64
	}
	if squawk.Valid {
		s.Squawk = &squawk.String
	}
	return &s, nil
}

// UpsertSighting writes the full merged sighting row atomically.
// Merge semantics are applied by the caller; every field is overwritten.
func (d *SQLiteDB) UpsertSighting(ctx context.Context, s Sighting) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO aircraft_sightings
		(date, icao_hex, callsign, airline, aircraft_type, first_seen, last_seen,
		 min_altitude, max_altitude, distance_nm, squawk)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(callsign, date) DO UPDATE SET
			icao_hex = excluded.icao_hex,
			airline = excluded.airline,
			aircraft_type = excluded.aircraft_type,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			min_altitude = excluded.min_altitude,
			max_altitude = excluded.max_altitude,
			distance_nm = excluded.distance_nm,
			squawk = excluded.squawk
	`, s.Date, s.ICAOHex, s.Callsign, s.Airline, s.AircraftType, s.FirstSeen, s.LastSeen,
		s.MinAltitude, s.MaxAltitude, s.MaxDistanceNM, s.Squawk)
	if err != nil {
		return fmt.Errorf("upsert sighting: %w", err)
	}
	return nil
}

// ListSightingsByDate retrieves all sightings for a calendar date.
func (d *SQLiteDB) ListSightingsByDate(ctx context.Context, date string) ([]Sighting, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT date, icao_hex, callsign, airline, aircraft_type, first_seen, last_seen,
		       min_altitude, max_altitude, distance_nm, squawk
		FROM aircraft_sightings WHERE date = ? ORDER BY last_seen DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sightings []Sighting
	for rows.Next() {
		s, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, *s)
	}
	return sightings, rows.Err()
}

// CountSightingsByAirline aggregates sighting counts per airline for a date.
func (d *SQLiteDB) CountSightingsByAirline(ctx context.Context, date string) ([]AirlineCount, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT airline, COUNT(*) FROM aircraft_sightings
		WHERE date = ? AND airline IS NOT NULL
		GROUP BY airline ORDER BY COUNT(*) DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var counts []AirlineCount
	for rows.Next() {
		var c AirlineCount
		if err := rows.Scan(&c.Airline, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailySummary returns per-date sighting totals for the most recent days.
func (d *SQLiteDB) DailySummary(ctx context.Context, days int) ([]DailyStats, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT date, COUNT(*), COUNT(DISTINCT airline)
		FROM aircraft_sightings
		GROUP BY date ORDER BY date DESC LIMIT ?
	`, days)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []DailyStats
	for rows.Next() {
		var s DailyStats
		if err := rows.Scan(&s.Date, &s.Sightings, &s.Airlines); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetRoute retrieves the cached route entry for a callsign, or nil if none.
func (d *SQLiteDB) GetRoute(ctx context.Context, callsign string) (*RouteCacheEntry, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT callsign, origin_iata, origin_icao, origin_name, origin_country, origin_lat, origin_lon,
		       destination_iata, destination_icao, destination_name, destination_country,
		       destination_lat, destination_lon, last_updated, api_success
		FROM route_cache WHERE callsign = ?
	`, callsign)

	var e RouteCacheEntry
	var oIATA, oICAO, oName, oCountry, dIATA, dICAO, dName, dCountry sql.NullString
	var oLat, oLon, dLat, dLon sql.NullFloat64
	var success int

	err := row.Scan(&e.Callsign, &oIATA, &oICAO, &oName, &oCountry, &oLat, &oLon,
		&dIATA, &dICAO, &dName, &dCountry, &dLat, &dLon, &e.LastUpdated, &success)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.OriginIATA = nullStr(oIATA)
	e.OriginICAO = nullStr(oICAO)
	e.OriginName = nullStr(oName)
	e.OriginCountry = nullStr(oCountry)
	e.OriginLat = nullFloat(oLat)
	e.OriginLon = nullFloat(oLon)
	e.DestinationIATA = nullStr(dIATA)
	e.DestinationICAO = nullStr(dICAO)
	e.DestinationName = nullStr(dName)
	e.DestinationCountry = nullStr(dCountry)
	e.DestinationLat = nullFloat(dLat)
	e.DestinationLon = nullFloat(dLon)
	e.Success = success == 1
	return &e, nil
}

// PutRoute overwrites the cache entry for a callsign. Entries never merge.
func (d *SQLiteDB) PutRoute(ctx context.Context, e RouteCacheEntry) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO route_cache
		(callsign, origin_iata, origin_icao, origin_name, origin_country, origin_lat, origin_lon,
		 destination_iata, destination_icao, destination_name, destination_country,
		 destination_lat, destination_lon, last_updated, api_success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Callsign, e.OriginIATA, e.OriginICAO, e.OriginName, e.OriginCountry, e.OriginLat, e.OriginLon,
		e.DestinationIATA, e.DestinationICAO, e.DestinationName, e.DestinationCountry,
		e.DestinationLat, e.DestinationLon, e.LastUpdated, success)
	if err != nil {
		return fmt.Errorf("put route: %w", err)
	}
	return nil
}

// ListRules retrieves all alert rules, newest first.
func (d *SQLiteDB) ListRules(ctx context.Context) ([]AlertRule, error) {
	return d.queryRules(ctx, `
		SELECT id, name, type, value, enabled, created_at
		FROM alert_rules ORDER BY created_at DESC
	`)
}

// ListEnabledRules retrieves enabled rules only, for pipeline evaluation.
func (d *SQLiteDB) ListEnabledRules(ctx context.Context) ([]AlertRule, error) {
	return d.queryRules(ctx, `
		SELECT id, name, type, value, enabled, created_at
		FROM alert_rules WHERE enabled = 1
	`)
}

func (d *SQLiteDB) queryRules(ctx context.Context, query string) ([]AlertRule, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []AlertRule
	for rows.Next() {
		var r AlertRule
		var typ string
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &typ, &r.Value, &enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		rt, err := ParseRuleType(typ)
		if err != nil {
			// Unknown type from a hand-edited database; skip rather than fail.
			continue
		}
		r.Type = rt
		r.Enabled = enabled == 1
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateRule inserts a new alert rule and returns its ID.
func (d *SQLiteDB) CreateRule(ctx context.Context, r AlertRule) (int64, error) {
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO alert_rules (name, type, value, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.Name, string(r.Type), r.Value, enabled, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRule updates an existing alert rule.
func (d *SQLiteDB) UpdateRule(ctx context.Context, r AlertRule) error {
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE alert_rules SET name = ?, type = ?, value = ?, enabled = ? WHERE id = ?
	`, r.Name, string(r.Type), r.Value, enabled, r.ID)
	return err
}

// DeleteRule removes an alert rule.
func (d *SQLiteDB) DeleteRule(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	return err
}

// InsertAlertHistory appends one audit record.
func (d *SQLiteDB) InsertAlertHistory(ctx context.Context, rec AlertHistoryRecord) error {
	sentPush := 0
	if rec.SentPush {
		sentPush = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO alert_history
		(rule_id, icao_hex, callsign, aircraft_type, squawk, altitude, lat, lon, triggered_at, sent_push)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RuleID, rec.ICAOHex, rec.Callsign, rec.AircraftType, rec.Squawk,
		rec.Altitude, rec.Lat, rec.Lon, rec.TriggeredAt, sentPush)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

// WasRecentlyTriggered reports whether the (rule, aircraft) pair has a
// history record after the cutoff. Delivery outcome is deliberately ignored.
func (d *SQLiteDB) WasRecentlyTriggered(ctx context.Context, ruleID int64, icaoHex string, cutoff time.Time) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_history
		WHERE rule_id = ? AND icao_hex = ? AND triggered_at > ?
	`, ruleID, icaoHex, cutoff).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAlertHistory retrieves the most recent alert records.
func (d *SQLiteDB) ListAlertHistory(ctx context.Context, limit int) ([]AlertHistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, rule_id, icao_hex, callsign, aircraft_type, squawk, altitude, lat, lon, triggered_at, sent_push
		FROM alert_history ORDER BY triggered_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []AlertHistoryRecord
	for rows.Next() {
		var rec AlertHistoryRecord
		var icaoHex, callsign, acType, squawk sql.NullString
		var altitude sql.NullInt64
		var lat, lon sql.NullFloat64
		var sentPush int

		err := rows.Scan(&rec.ID, &rec.RuleID, &icaoHex, &callsign, &acType, &squawk,
			&altitude, &lat, &lon, &rec.TriggeredAt, &sentPush)
		if err != nil {
			return nil, err
		}
		rec.ICAOHex = icaoHex.String
		rec.Callsign = callsign.String
		rec.AircraftType = acType.String
		rec.Squawk = squawk.String
		if altitude.Valid {
			v := int(altitude.Int64)
			rec.Altitude = &v
		}
		rec.Lat = nullFloat(lat)
		rec.Lon = nullFloat(lon)
		rec.SentPush = sentPush == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetSetting returns the value for a key, or "" when unset.
func (d *SQLiteDB) GetSetting(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// SetSetting stores a key/value setting.
func (d *SQLiteDB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// NotifierSettings loads push credentials and the enabled flag.
func (d *SQLiteDB) NotifierSettings(ctx context.Context) (NotifySettings, error) {
	var s NotifySettings
	var err error
	if s.UserKey, err = d.GetSetting(ctx, SettingPushoverUserKey); err != nil {
		return s, err
	}
	if s.APIToken, err = d.GetSetting(ctx, SettingPushoverAPIToken); err != nil {
		return s, err
	}
	enabled, err := d.GetSetting(ctx, SettingAlertsEnabled)
	if err != nil {
		return s, err
	}
	s.Enabled = enabled == "1"
	return s, nil
}

// InsertPosition appends one track point.
func (d *SQLiteDB) InsertPosition(ctx context.Context, p PositionFix) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO position_history (callsign, icao_hex, lat, lon, altitude, track, ground_speed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Callsign, p.ICAOHex, p.Lat, p.Lon, p.Altitude, p.Track, p.GroundSpeed, p.Timestamp)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// PrunePositions deletes track points older than the cutoff and returns the
// number removed.
func (d *SQLiteDB) PrunePositions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM position_history WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListTrack retrieves track points for a callsign since the given time.
func (d *SQLiteDB) ListTrack(ctx context.Context, callsign string, since time.Time) ([]PositionFix, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, callsign, icao_hex, lat, lon, altitude, track, ground_speed, timestamp
		FROM position_history
		WHERE callsign = ? AND timestamp >= ?
		ORDER BY timestamp
	`, callsign, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fixes []PositionFix
	for rows.Next() {
		var p PositionFix
		var icaoHex sql.NullString
		var altitude sql.NullInt64
		var track, gs sql.NullFloat64

		err := rows.Scan(&p.ID, &p.Callsign, &icaoHex, &p.Lat, &p.Lon, &altitude, &track, &gs, &p.Timestamp)
		if err != nil {
			return nil, err
		}
		p.ICAOHex = icaoHex.String
		if altitude.Valid {
			v := int(altitude.Int64)
			p.Altitude = &v
		}
		p.Track = nullFloat(track)
		p.GroundSpeed = nullFloat(gs)
		fixes = append(fixes, p)
	}
	return fixes, rows.Err()
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
