package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB implements Store on a PostgreSQL connection pool, for
// deployments where the tracker shares a database with other consumers.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresDB) Close() error {
	d.pool.Close()
	return nil
}

// CreateSchema creates all tables and indices, and seeds default settings.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft_sightings (
		date           TEXT NOT NULL,
		icao_hex       TEXT,
		callsign       TEXT NOT NULL,
		airline        TEXT,
		aircraft_type  TEXT,
		first_seen     TIMESTAMPTZ NOT NULL,
		last_seen      TIMESTAMPTZ NOT NULL,
		min_altitude   INTEGER,
		max_altitude   INTEGER,
		distance_nm    DOUBLE PRECISION,
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
		origin_lat          DOUBLE PRECISION,
		origin_lon          DOUBLE PRECISION,
		destination_iata    TEXT,
		destination_icao    TEXT,
		destination_name    TEXT,
		destination_country TEXT,
		destination_lat     DOUBLE PRECISION,
		destination_lon     DOUBLE PRECISION,
		last_updated        TIMESTAMPTZ NOT NULL,
		api_success         BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		value       TEXT NOT NULL,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alert_history (
		id            BIGSERIAL PRIMARY KEY,
		rule_id       BIGINT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
		icao_hex      TEXT,
		callsign      TEXT,
		aircraft_type TEXT,
		squawk        TEXT,
		altitude      INTEGER,
		lat           DOUBLE PRECISION,
		lon           DOUBLE PRECISION,
		triggered_at  TIMESTAMPTZ NOT NULL,
		sent_push     BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_history_dedup ON alert_history(rule_id, icao_hex, triggered_at);

	CREATE TABLE IF NOT EXISTS settings (
		key    TEXT PRIMARY KEY,
		value  TEXT
	);

	CREATE TABLE IF NOT EXISTS position_history (
		id            BIGSERIAL PRIMARY KEY,
		callsign      TEXT NOT NULL,
		icao_hex      TEXT,
		lat           DOUBLE PRECISION NOT NULL,
		lon           DOUBLE PRECISION NOT NULL,
		altitude      INTEGER,
		track         DOUBLE PRECISION,
		ground_speed  DOUBLE PRECISION,
		timestamp     TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_callsign ON position_history(callsign, timestamp);
	CREATE INDEX IF NOT EXISTS idx_positions_timestamp ON position_history(timestamp);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	seeds := []string{SettingPushoverUserKey, SettingPushoverAPIToken, SettingAlertsEnabled}
	for _, key := range seeds {
		if _, err := d.pool.Exec(ctx,
			`INSERT INTO settings (key, value) VALUES ($1, '') ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return err
		}
	}
	return nil
}

// GetSighting retrieves the sighting for (callsign, date), or nil if none.
func (d *PostgresDB) GetSighting(ctx context.Context, callsign, date string) (*Sighting, error) {
	var s Sighting
	err := d.pool.QueryRow(ctx, `
		SELECT date, COALESCE(icao_hex, ''), callsign, airline, COALESCE(aircraft_type, ''),
		       first_seen, last_seen, min_altitude, max_altitude, distance_nm, squawk
		FROM aircraft_sightings WHERE callsign = $1 AND date = $2
	`, callsign, date).Scan(&s.Date, &s.ICAOHex, &s.Callsign, &s.Airline, &s.AircraftType,
		&s.FirstSeen, &s.LastSeen, &s.MinAltitude, &s.MaxAltitude, &s.MaxDistanceNM, &s.Squawk)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSighting writes the full merged sighting row atomically.
func (d *PostgresDB) UpsertSighting(ctx context.Context, s Sighting) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO aircraft_sightings
		(date, icao_hex, callsign, airline, aircraft_type, first_seen, last_seen,
		 min_altitude, max_altitude, distance_nm, squawk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (callsign, date) DO UPDATE SET
			icao_hex = EXCLUDED.icao_hex,
			airline = EXCLUDED.airline,
			aircraft_type = EXCLUDED.aircraft_type,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			min_altitude = EXCLUDED.min_altitude,
			max_altitude = EXCLUDED.max_altitude,
			distance_nm = EXCLUDED.distance_nm,
			squawk = EXCLUDED.squawk
	`, s.Date, s.ICAOHex, s.Callsign, s.Airline, s.AircraftType, s.FirstSeen, s.LastSeen,
		s.MinAltitude, s.MaxAltitude, s.MaxDistanceNM, s.Squawk)
	if err != nil {
		return fmt.Errorf("upsert sighting: %w", err)
	}
	return nil
}

// ListSightingsByDate retrieves all sightings for a calendar date.
func (d *PostgresDB) ListSightingsByDate(ctx context.Context, date string) ([]Sighting, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT date, COALESCE(icao_hex, ''), callsign, airline, COALESCE(aircraft_type, ''),
		       first_seen, last_seen, min_altitude, max_altitude, distance_nm, squawk
		FROM aircraft_sightings WHERE date = $1 ORDER BY last_seen DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var s Sighting
		err := rows.Scan(&s.Date, &s.ICAOHex, &s.Callsign, &s.Airline, &s.AircraftType,
			&s.FirstSeen, &s.LastSeen, &s.MinAltitude, &s.MaxAltitude, &s.MaxDistanceNM, &s.Squawk)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, s)
	}
	return sightings, rows.Err()
}

// CountSightingsByAirline aggregates sighting counts per airline for a date.
func (d *PostgresDB) CountSightingsByAirline(ctx context.Context, date string) ([]AirlineCount, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT airline, COUNT(*) FROM aircraft_sightings
		WHERE date = $1 AND airline IS NOT NULL
		GROUP BY airline ORDER BY COUNT(*) DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
func (d *PostgresDB) DailySummary(ctx context.Context, days int) ([]DailyStats, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT date, COUNT(*), COUNT(DISTINCT airline)
		FROM aircraft_sightings
		GROUP BY date ORDER BY date DESC LIMIT $1
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
func (d *PostgresDB) GetRoute(ctx context.Context, callsign string) (*RouteCacheEntry, error) {
	var e RouteCacheEntry
	err := d.pool.QueryRow(ctx, `
		SELECT callsign, origin_iata, origin_icao, origin_name, origin_country, origin_lat, origin_lon,
		       destination_iata, destination_icao, destination_name, destination_country,
		       destination_lat, destination_lon, last_updated, api_success
		FROM route_cache WHERE callsign = $1
	`, callsign).Scan(&e.Callsign, &e.OriginIATA, &e.OriginICAO, &e.OriginName, &e.OriginCountry,
		&e.OriginLat, &e.OriginLon, &e.DestinationIATA, &e.DestinationICAO, &e.DestinationName,
		&e.DestinationCountry, &e.DestinationLat, &e.DestinationLon, &e.LastUpdated, &e.Success)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PutRoute overwrites the cache entry for a callsign.
func (d *PostgresDB) PutRoute(ctx context.Context, e RouteCacheEntry) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO route_cache
		(callsign, origin_iata, origin_icao, origin_name, origin_country, origin_lat, origin_lon,
		 destination_iata, destination_icao, destination_name, destination_country,
		 destination_lat, destination_lon, last_updated, api_success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (callsign) DO UPDATE SET
			origin_iata = EXCLUDED.origin_iata,
			origin_icao = EXCLUDED.origin_icao,
			origin_name = EXCLUDED.origin_name,
			origin_country = EXCLUDED.origin_country,
			origin_lat = EXCLUDED.origin_lat,
			origin_lon = EXCLUDED.origin_lon,
			destination_iata = EXCLUDED.destination_iata,
			destination_icao = EXCLUDED.destination_icao,
			destination_name = EXCLUDED.destination_name,
			destination_country = EXCLUDED.destination_country,
			destination_lat = EXCLUDED.destination_lat,
			destination_lon = EXCLUDED.destination_lon,
			last_updated = EXCLUDED.last_updated,
			api_success = EXCLUDED.api_success
	`, e.Callsign, e.OriginIATA, e.OriginICAO, e.OriginName, e.OriginCountry, e.OriginLat, e.OriginLon,
		e.DestinationIATA, e.DestinationICAO, e.DestinationName, e.DestinationCountry,
		e.DestinationLat, e.DestinationLon, e.LastUpdated, e.Success)
	if err != nil {
		return fmt.Errorf("put route: %w", err)
	}
	return nil
}

// ListRules retrieves all alert rules, newest first.
func (d *PostgresDB) ListRules(ctx context.Context) ([]AlertRule, error) {
	return d.queryRules(ctx, `
		SELECT id, name, type, value, enabled, created_at
		FROM alert_rules ORDER BY created_at DESC
	`)
}

// ListEnabledRules retrieves enabled rules only.
func (d *PostgresDB) ListEnabledRules(ctx context.Context) ([]AlertRule, error) {
	return d.queryRules(ctx, `
		SELECT id, name, type, value, enabled, created_at
		FROM alert_rules WHERE enabled
	`)
}

func (d *PostgresDB) queryRules(ctx context.Context, query string) ([]AlertRule, error) {
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []AlertRule
	for rows.Next() {
		var r AlertRule
		var typ string
		if err := rows.Scan(&r.ID, &r.Name, &typ, &r.Value, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		rt, err := ParseRuleType(typ)
		if err != nil {
			continue
		}
		r.Type = rt
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// CreateRule inserts a new alert rule and returns its ID.
func (d *PostgresDB) CreateRule(ctx context.Context, r AlertRule) (int64, error) {
	var id int64
	err := d.pool.QueryRow(ctx, `
		INSERT INTO alert_rules (name, type, value, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.Name, string(r.Type), r.Value, r.Enabled, r.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return id, nil
}

// UpdateRule updates an existing alert rule.
func (d *PostgresDB) UpdateRule(ctx context.Context, r AlertRule) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE alert_rules SET name = $1, type = $2, value = $3, enabled = $4 WHERE id = $5
	`, r.Name, string(r.Type), r.Value, r.Enabled, r.ID)
	return err
}

// DeleteRule removes an alert rule.
func (d *PostgresDB) DeleteRule(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	return err
}

// InsertAlertHistory appends one audit record.
func (d *PostgresDB) InsertAlertHistory(ctx context.Context, rec AlertHistoryRecord) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO alert_history
		(rule_id, icao_hex, callsign, aircraft_type, squawk, altitude, lat, lon, triggered_at, sent_push)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.RuleID, rec.ICAOHex, rec.Callsign, rec.AircraftType, rec.Squawk,
		rec.Altitude, rec.Lat, rec.Lon, rec.TriggeredAt, rec.SentPush)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

// WasRecentlyTriggered reports whether the (rule, aircraft) pair has a
// history record after the cutoff.
func (d *PostgresDB) WasRecentlyTriggered(ctx context.Context, ruleID int64, icaoHex string, cutoff time.Time) (bool, error) {
	var count int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM alert_history
		WHERE rule_id = $1 AND icao_hex = $2 AND triggered_at > $3
	`, ruleID, icaoHex, cutoff).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAlertHistory retrieves the most recent alert records.
func (d *PostgresDB) ListAlertHistory(ctx context.Context, limit int) ([]AlertHistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, rule_id, COALESCE(icao_hex, ''), COALESCE(callsign, ''), COALESCE(aircraft_type, ''),
		       COALESCE(squawk, ''), altitude, lat, lon, triggered_at, sent_push
		FROM alert_history ORDER BY triggered_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AlertHistoryRecord
	for rows.Next() {
		var rec AlertHistoryRecord
		err := rows.Scan(&rec.ID, &rec.RuleID, &rec.ICAOHex, &rec.Callsign, &rec.AircraftType,
			&rec.Squawk, &rec.Altitude, &rec.Lat, &rec.Lon, &rec.TriggeredAt, &rec.SentPush)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetSetting returns the value for a key, or "" when unset.
func (d *PostgresDB) GetSetting(ctx context.Context, key string) (string, error) {
	var value *string
	err := d.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// SetSetting stores a key/value setting.
func (d *PostgresDB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

// NotifierSettings loads push credentials and the enabled flag.
func (d *PostgresDB) NotifierSettings(ctx context.Context) (NotifySettings, error) {
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
func (d *PostgresDB) InsertPosition(ctx context.Context, p PositionFix) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO position_history (callsign, icao_hex, lat, lon, altitude, track, ground_speed, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.Callsign, p.ICAOHex, p.Lat, p.Lon, p.Altitude, p.Track, p.GroundSpeed, p.Timestamp)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// PrunePositions deletes track points older than the cutoff.
func (d *PostgresDB) PrunePositions(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM position_history WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListTrack retrieves track points for a callsign since the given time.
func (d *PostgresDB) ListTrack(ctx context.Context, callsign string, since time.Time) ([]PositionFix, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, callsign, COALESCE(icao_hex, ''), lat, lon, altitude, track, ground_speed, timestamp
		FROM position_history
		WHERE callsign = $1 AND timestamp >= $2
		ORDER BY timestamp
	`, callsign, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fixes []PositionFix
	for rows.Next() {
		var p PositionFix
		err := rows.Scan(&p.ID, &p.Callsign, &p.ICAOHex, &p.Lat, &p.Lon,
			&p.Altitude, &p.Track, &p.GroundSpeed, &p.Timestamp)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, p)
	}
	return fixes, rows.Err()
}
