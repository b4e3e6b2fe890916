// Package measure implements the structured sink: a SQLite measurement
// store queryable by sensor and time.
package measure

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"sensorlog/internal/catalog"
	"sensorlog/internal/logging"
	"sensorlog/internal/reading"
	"sensorlog/internal/sink"
)

// timeFormat keeps nanosecond fidelity with a fixed-width fraction, so
// UTC values sort lexicographically. RFC3339Nano would trim trailing
// zeros and break that ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Config holds measurement store construction parameters.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	Path   string
	Logger *slog.Logger
}

// Store writes flushed batches into the measurements table, one
// transaction per batch.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ sink.Sink = (*Store)(nil)

// New opens (creating if needed) the measurement database and applies
// pending schema migrations.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc's sqlite allows one writer; a single pooled connection
	// also keeps the per-batch transactions strictly ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger := logging.Default(cfg.Logger).With(logging.Key, "store")
	logger.Info("measurement store open", "path", cfg.Path)

	return &Store{db: db, path: cfg.Path, logger: logger}, nil
}

// Name identifies the store in logs and sink errors.
func (s *Store) Name() string { return "store" }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteBatch inserts every reading of the batch inside one transaction:
// either the whole batch becomes visible or none of it does, which is
// what makes a later retry safe.
func (s *Store) WriteBatch(ctx context.Context, b *reading.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (sensor_id, timestamp, value, quality_flag)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range b.Readings {
		v := &b.Readings[i]
		if _, err := stmt.ExecContext(ctx, v.SensorID, v.Timestamp.UTC().Format(timeFormat), sqlValue(v.Value), string(v.Quality)); err != nil {
			return fmt.Errorf("insert reading %d of batch %s: %w", i, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", b.ID, err)
	}
	return nil
}

// sqlValue maps non-finite values to NULL: SQLite REAL cannot hold NaN
// or infinities. The quality flag and the raw log keep the whole story.
func sqlValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// SeedSensors upserts sensor metadata into the sensors table, making the
// database usable as a catalog source.
func (s *Store) SeedSensors(ctx context.Context, entries []catalog.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensors (sensor_id, location, sensor_type, unit, min_value, max_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sensor_id) DO UPDATE SET
			location = excluded.location,
			sensor_type = excluded.sensor_type,
			unit = excluded.unit,
			min_value = excluded.min_value,
			max_value = excluded.max_value
	`)
	if err != nil {
		return fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	for _, m := range entries {
		if _, err := stmt.ExecContext(ctx, m.SensorID, m.Location, m.Type, m.Unit, m.MinValue, m.MaxValue); err != nil {
			return fmt.Errorf("seed sensor %q: %w", m.SensorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info("seeded sensors", "count", len(entries))
	return nil
}

// LoadCatalog reads the sensors table into a catalog snapshot over the
// store's own connection.
func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	return catalog.LoadDB(ctx, s.db)
}
