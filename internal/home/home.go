// Package home manages the sensorlog data directory layout.
//
// The data directory owns all persistent state the default configuration
// points at: the structured store, the raw log, and the collector's
// identity file.
//
// Layout:
//
//	<root>/
//	  config.json     (optional configuration file)
//	  sensorlog.db    (structured store, SQLite)
//	  rawlog/         (day-partitioned raw reading files)
//	  collector_id    (persistent collector identity)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a sensorlog data directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/sensorlog
//   - macOS:   ~/Library/Application Support/sensorlog
//   - Windows: %APPDATA%/sensorlog
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "sensorlog")}, nil
}

// Root returns the data directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path of the optional configuration file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.json")
}

// StorePath returns the path of the structured store database.
func (d Dir) StorePath() string {
	return filepath.Join(d.root, "sensorlog.db")
}

// RawLogDir returns the directory holding the day-partitioned raw log.
func (d Dir) RawLogDir() string {
	return filepath.Join(d.root, "rawlog")
}

// EnsureExists creates the data directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create data directory %s: %w", d.root, err)
	}
	return nil
}

// CollectorID reads the persistent collector identity from
// <root>/collector_id. If the file doesn't exist, a new UUIDv7 is
// generated and written.
func (d Dir) CollectorID() (string, error) {
	return d.readOrCreate("collector_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is constructed from trusted data dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: identity file is not secret, 0640 is intentional
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
