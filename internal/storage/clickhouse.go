package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PositionArchive is an optional long-term sink for track points. The
// relational position_history table keeps only a short window; the archive
// keeps everything for after-the-fact analysis.
type PositionArchive struct {
	conn driver.Conn
}

// OpenPositionArchive opens a connection to ClickHouse.
func OpenPositionArchive(ctx context.Context, cfg ClickHouseConfig) (*PositionArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &PositionArchive{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (a *PositionArchive) Close() error {
	return a.conn.Close()
}

// CreateSchema creates the archive table.
func (a *PositionArchive) CreateSchema(ctx context.Context) error {
	err := a.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS positions (
			callsign      LowCardinality(String),
			icao_hex      LowCardinality(String),
			lat           Float64,
			lon           Float64,
			altitude      Nullable(Int32),
			track         Nullable(Float64),
			ground_speed  Nullable(Float64),
			timestamp     DateTime64(3),
			recorded_at   DateTime64(3) DEFAULT now64(3)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (callsign, timestamp)
		SETTINGS index_granularity = 8192`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ArchiveBatch stores a batch of track points.
func (a *PositionArchive) ArchiveBatch(ctx context.Context, fixes []PositionFix) error {
	if len(fixes) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO positions (callsign, icao_hex, lat, lon, altitude, track, ground_speed, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range fixes {
		var alt *int32
		if p.Altitude != nil {
			v := int32(*p.Altitude)
			alt = &v
		}
		err = batch.Append(p.Callsign, p.ICAOHex, p.Lat, p.Lon, alt, p.Track, p.GroundSpeed, p.Timestamp)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountPositions returns the total number of archived points, optionally
// filtered by callsign.
func (a *PositionArchive) CountPositions(ctx context.Context, callsign string) (uint64, error) {
	var count uint64
	var err error
	if callsign != "" {
		row := a.conn.QueryRow(ctx, "SELECT count() FROM positions WHERE callsign = ?", callsign)
		err = row.Scan(&count)
	} else {
		row := a.conn.QueryRow(ctx, "SELECT count() FROM positions")
		err = row.Scan(&count)
	}
	return count, err
}
