// Package config provides configuration parsing and validation for the
// tracker. Everything is environment-driven; main loads a .env file first
// so a receiver host needs only one file to configure a deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"adsb_tracker/internal/storage"
)

// Feed modes.
const (
	FeedFile = "file"
	FeedHTTP = "http"
	FeedNATS = "nats"
)

// Config holds all configuration parameters for the tracker.
type Config struct {
	// Receiver location, the origin for distance calculations. Optional;
	// when unset, max distance is never computed.
	ReceiverLat *float64
	ReceiverLon *float64

	// Timezone is the IANA zone used for day windows and notification
	// timestamps. Location is the parsed form.
	Timezone string
	Location *time.Location

	// Feed selection.
	FeedMode    string
	FeedPath    string // file mode: path to aircraft.json
	FeedURL     string // http mode: URL of aircraft.json
	NATSURL     string
	NATSSubject string

	Storage storage.Config

	// Optional ClickHouse archive for position history.
	ClickHouseEnabled bool
	ClickHouse        storage.ClickHouseConfig

	// Management API.
	APIAddr string
	APIKey  string // empty disables authentication

	LogLevel string
}

// FromEnv builds a Config from environment variables, applying defaults
// that work for a single-host sdr receiver with a local SQLite database.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Timezone:    getEnv("ADSB_TIMEZONE", "Europe/Berlin"),
		FeedMode:    getEnv("ADSB_FEED_MODE", FeedFile),
		FeedPath:    getEnv("ADSB_FEED_PATH", "/run/readsb/aircraft.json"),
		FeedURL:     os.Getenv("ADSB_FEED_URL"),
		NATSURL:     getEnv("ADSB_NATS_URL", "nats://localhost:4222"),
		NATSSubject: getEnv("ADSB_NATS_SUBJECT", "adsb.snapshot"),
		APIAddr:     getEnv("ADSB_API_ADDR", ":8080"),
		APIKey:      os.Getenv("ADSB_API_KEY"),
		LogLevel:    getEnv("ADSB_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.ReceiverLat, err = getEnvFloatPtr("ADSB_RECEIVER_LAT"); err != nil {
		return nil, err
	}
	if cfg.ReceiverLon, err = getEnvFloatPtr("ADSB_RECEIVER_LON"); err != nil {
		return nil, err
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	cfg.Storage = storage.Config{
		Backend:    getEnv("ADSB_DB_BACKEND", storage.BackendSQLite),
		SQLitePath: getEnv("ADSB_SQLITE_PATH", "adsb.db"),
	}
	if cfg.Storage.Backend == storage.BackendPostgres {
		port, err := getEnvInt("ADSB_POSTGRES_PORT", 5432)
		if err != nil {
			return nil, err
		}
		cfg.Storage.Postgres = storage.PostgresConfig{
			Host:     getEnv("ADSB_POSTGRES_HOST", "localhost"),
			Port:     port,
			Database: getEnv("ADSB_POSTGRES_DB", "adsb"),
			User:     getEnv("ADSB_POSTGRES_USER", "adsb"),
			Password: os.Getenv("ADSB_POSTGRES_PASSWORD"),
		}
	}

	if os.Getenv("ADSB_CLICKHOUSE_HOST") != "" {
		port, err := getEnvInt("ADSB_CLICKHOUSE_PORT", 9000)
		if err != nil {
			return nil, err
		}
		cfg.ClickHouseEnabled = true
		cfg.ClickHouse = storage.ClickHouseConfig{
			Host:     os.Getenv("ADSB_CLICKHOUSE_HOST"),
			Port:     port,
			Database: getEnv("ADSB_CLICKHOUSE_DB", "adsb"),
			User:     getEnv("ADSB_CLICKHOUSE_USER", "default"),
			Password: os.Getenv("ADSB_CLICKHOUSE_PASSWORD"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *Config) Validate() error {
	if (c.ReceiverLat == nil) != (c.ReceiverLon == nil) {
		return fmt.Errorf("receiver latitude and longitude must be set together")
	}
	if c.ReceiverLat != nil && (*c.ReceiverLat < -90 || *c.ReceiverLat > 90) {
		return fmt.Errorf("receiver latitude %f out of range", *c.ReceiverLat)
	}
	if c.ReceiverLon != nil && (*c.ReceiverLon < -180 || *c.ReceiverLon > 180) {
		return fmt.Errorf("receiver longitude %f out of range", *c.ReceiverLon)
	}
	if c.Location == nil {
		return fmt.Errorf("timezone not loaded")
	}

	switch c.FeedMode {
	case FeedFile:
		if c.FeedPath == "" {
			return fmt.Errorf("feed path cannot be empty in file mode")
		}
	case FeedHTTP:
		if c.FeedURL == "" {
			return fmt.Errorf("feed URL cannot be empty in http mode")
		}
	case FeedNATS:
		if c.NATSURL == "" || c.NATSSubject == "" {
			return fmt.Errorf("nats URL and subject cannot be empty in nats mode")
		}
	default:
		return fmt.Errorf("unknown feed mode %q", c.FeedMode)
	}

	switch c.Storage.Backend {
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	case storage.BackendPostgres:
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database cannot be empty")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloatPtr(key string) (*float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return &f, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return i, nil
}
