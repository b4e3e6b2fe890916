// Package rawlog implements the append-only raw sink: one JSONL file per
// UTC calendar day, plus the maintenance sweep that compresses and expires
// closed days.
package rawlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sensorlog/internal/logging"
	"sensorlog/internal/reading"
	"sensorlog/internal/sink"
)

// Day file naming: raw_20250601.jsonl, raw_20250601.jsonl.zst once swept.
const (
	filePrefix = "raw_"
	fileSuffix = ".jsonl"
	zstSuffix  = ".jsonl.zst"
	dayFormat  = "20060102"
)

var (
	// ErrMissingDir marks a writer configured without a directory.
	ErrMissingDir = errors.New("raw log dir is required")
	// ErrWriterClosed marks a write after Close.
	ErrWriterClosed = errors.New("raw log writer is closed")
)

// Config holds raw log writer construction parameters.
type Config struct {
	// Dir receives the day files. Created if missing.
	Dir string
	// FileMode for created day files. Defaults to 0644.
	FileMode os.FileMode
	// Now is the clock that decides which UTC day a write lands in.
	// Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Writer appends validated readings to the current UTC day's file.
//
// The day is the UTC day of the write, not of the reading timestamps, so
// late-arriving readings land in the file being written when they arrive.
// A batch is encoded up front and appended with a single write followed
// by fsync; the batch is not acknowledged before the data is on disk.
type Writer struct {
	mu     sync.Mutex
	dir    string
	mode   os.FileMode
	now    func() time.Time
	logger *slog.Logger

	file   *os.File
	day    string
	closed bool
}

var _ sink.Sink = (*Writer)(nil)

// NewWriter creates the directory if needed and returns a writer. The
// current day's file is opened lazily on first write.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, ErrMissingDir
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create raw log directory: %w", err)
	}
	mode := cfg.FileMode
	if mode == 0 {
		mode = 0644
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		dir:    cfg.Dir,
		mode:   mode,
		now:    now,
		logger: logging.Default(cfg.Logger).With(logging.Key, "rawlog"),
	}, nil
}

// Name identifies the raw log in logs and sink errors.
func (w *Writer) Name() string { return "rawlog" }

// WriteBatch appends every reading of the batch to the current day file
// and fsyncs before returning. The whole batch is encoded first so the
// file sees one append.
func (w *Writer) WriteBatch(ctx context.Context, b *reading.Batch) error {
	var buf bytes.Buffer
	for i := range b.Readings {
		if err := EncodeRecord(&buf, b.Readings[i]); err != nil {
			return fmt.Errorf("encode reading %d of batch %s: %w", i, b.ID, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := w.currentFile()
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append batch %s: %w", b.ID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync day file: %w", err)
	}
	return nil
}

// currentFile returns the open file for the current UTC day, rolling
// over from the previous day's file when the day has changed.
// Caller holds w.mu.
func (w *Writer) currentFile() (*os.File, error) {
	day := w.now().UTC().Format(dayFormat)
	if w.file != nil && w.day == day {
		return w.file, nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warn("close day file", "day", w.day, "error", err)
		}
		w.logger.Info("day rollover", "from", w.day, "to", day)
		w.file = nil
	}

	path := filepath.Join(w.dir, filePrefix+day+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, w.mode)
	if err != nil {
		return nil, fmt.Errorf("open day file %s: %w", path, err)
	}
	w.logger.Info("day file open", "path", path)

	w.file = f
	w.day = day
	return f, nil
}

// Close closes the current day file. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
