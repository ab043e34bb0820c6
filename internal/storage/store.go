// Package storage provides persistent storage for sightings, the route
// cache, alert rules and history, settings, and position history.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is the persistence surface consumed by the pipeline and the
// management API. SQLite is the default backend; PostgreSQL is the
// alternative for shared deployments.
type Store interface {
	Close() error
	CreateSchema(ctx context.Context) error

	// Sightings, unique on (callsign, date).
	GetSighting(ctx context.Context, callsign, date string) (*Sighting, error)
	UpsertSighting(ctx context.Context, s Sighting) error
	ListSightingsByDate(ctx context.Context, date string) ([]Sighting, error)
	CountSightingsByAirline(ctx context.Context, date string) ([]AirlineCount, error)
	DailySummary(ctx context.Context, days int) ([]DailyStats, error)

	// Route cache, unique on callsign.
	GetRoute(ctx context.Context, callsign string) (*RouteCacheEntry, error)
	PutRoute(ctx context.Context, e RouteCacheEntry) error

	// Alert rules, mutated only via the management API.
	ListRules(ctx context.Context) ([]AlertRule, error)
	ListEnabledRules(ctx context.Context) ([]AlertRule, error)
	CreateRule(ctx context.Context, r AlertRule) (int64, error)
	UpdateRule(ctx context.Context, r AlertRule) error
	DeleteRule(ctx context.Context, id int64) error

	// Alert history, append-only.
	InsertAlertHistory(ctx context.Context, rec AlertHistoryRecord) error
	WasRecentlyTriggered(ctx context.Context, ruleID int64, icaoHex string, cutoff time.Time) (bool, error)
	ListAlertHistory(ctx context.Context, limit int) ([]AlertHistoryRecord, error)

	// Key/value settings.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	NotifierSettings(ctx context.Context) (NotifySettings, error)

	// Position history, short-retention track points.
	InsertPosition(ctx context.Context, p PositionFix) error
	PrunePositions(ctx context.Context, olderThan time.Time) (int64, error)
	ListTrack(ctx context.Context, callsign string, since time.Time) ([]PositionFix, error)
}

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures the backing store.
type Config struct {
	Backend    string // "sqlite" or "postgres".
	SQLitePath string // File path, or ":memory:".
	Postgres   PostgresConfig
}

// DefaultConfig returns a local-first SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendSQLite,
		SQLitePath: "adsb.db",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "adsb_tracker",
			User:     "adsb",
			Password: "adsb",
		},
	}
}

// Open opens the configured backend and creates the schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case BackendSQLite, "":
		store, err = OpenSQLite(cfg.SQLitePath)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.CreateSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return store, nil
}
