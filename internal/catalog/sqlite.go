package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// LoadSQLite reads sensor metadata from the sensors table of a SQLite
// database, typically the same database the measurement store writes to.
// The snapshot is taken once; later table changes are not observed.
func LoadSQLite(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sensor database: %w", err)
	}
	defer db.Close()

	return LoadDB(ctx, db)
}

// LoadDB reads sensor metadata from the sensors table over an existing
// connection.
func LoadDB(ctx context.Context, db *sql.DB) (*Catalog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sensor_id, location, sensor_type, unit, min_value, max_value
		FROM sensors
	`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var entries []Metadata
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.SensorID, &m.Location, &m.Type, &m.Unit, &m.MinValue, &m.MaxValue); err != nil {
			return nil, fmt.Errorf("scan sensor row: %w", err)
		}
		entries = append(entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensor rows: %w", err)
	}

	return New(entries)
}
