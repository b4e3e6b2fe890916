package rawlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"sensorlog/internal/logging"
)

// MaintenanceConfig holds sweep parameters.
type MaintenanceConfig struct {
	// Dir is the raw log directory the writer appends to.
	Dir string
	// CompressAfterDays compresses plain day files at least this many
	// days old. Zero disables compression.
	CompressAfterDays int
	// RetentionDays deletes day files (plain or compressed) more than
	// this many days old. Zero disables expiry.
	RetentionDays int
	// Now decides what "today" is. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Maintenance compresses and expires closed day files. The current day's
// live file is never touched.
type Maintenance struct {
	dir           string
	compressAfter int
	retention     int
	now           func() time.Time
	logger        *slog.Logger
	enc           *zstd.Encoder
}

// NewMaintenance validates the config and prepares the zstd encoder.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Dir == "" {
		return nil, ErrMissingDir
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var enc *zstd.Encoder
	if cfg.CompressAfterDays > 0 {
		var err error
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd encoder: %w", err)
		}
	}

	return &Maintenance{
		dir:           cfg.Dir,
		compressAfter: cfg.CompressAfterDays,
		retention:     cfg.RetentionDays,
		now:           now,
		logger:        logging.Default(cfg.Logger).With(logging.Key, "rawlog-sweep"),
		enc:           enc,
	}, nil
}

// Sweep makes one pass over the day files: expiry first, then
// compression. Files for today or any future day are left alone, as are
// names that do not look like day files. Per-file failures are collected
// so one bad file does not stop the pass.
func (m *Maintenance) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read raw log dir: %w", err)
	}

	now := m.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		day, compressed, ok := parseDayFile(e.Name())
		if !ok {
			continue
		}
		fileDay, err := time.Parse(dayFormat, day)
		if err != nil {
			continue
		}

		age := int(today.Sub(fileDay) / (24 * time.Hour))
		if age <= 0 {
			continue
		}

		path := filepath.Join(m.dir, e.Name())
		switch {
		case m.retention > 0 && age > m.retention:
			if err := os.Remove(path); err != nil {
				errs = append(errs, fmt.Errorf("expire %s: %w", e.Name(), err))
				continue
			}
			m.logger.Info("expired day file", "file", e.Name(), "age_days", age)
		case !compressed && m.compressAfter > 0 && age >= m.compressAfter:
			if err := m.compress(path); err != nil {
				errs = append(errs, fmt.Errorf("compress %s: %w", e.Name(), err))
				continue
			}
			m.logger.Info("compressed day file", "file", e.Name(), "age_days", age)
		}
	}
	return errors.Join(errs...)
}

// parseDayFile extracts the day from a day file name, reporting whether
// the file is already compressed.
func parseDayFile(name string) (day string, compressed bool, ok bool) {
	if !strings.HasPrefix(name, filePrefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(name, filePrefix)
	switch {
	case strings.HasSuffix(rest, zstSuffix):
		day = strings.TrimSuffix(rest, zstSuffix)
		compressed = true
	case strings.HasSuffix(rest, fileSuffix):
		day = strings.TrimSuffix(rest, fileSuffix)
	default:
		return "", false, false
	}
	if len(day) != len(dayFormat) {
		return "", false, false
	}
	return day, compressed, true
}

// compress replaces a plain day file with its zstd form via
// temp-file-then-rename, removing the source only after the rename.
// A crash in between leaves both files; the next sweep converges.
func (m *Maintenance) compress(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, ".sweep-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	m.enc.Reset(tmp)
	if _, err := io.Copy(m.enc, src); err != nil {
		cleanup()
		return err
	}
	if err := m.enc.Close(); err != nil {
		cleanup()
		return err
	}

	if err := tmp.Chmod(info.Mode()); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path+".zst"); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Remove(path)
}
