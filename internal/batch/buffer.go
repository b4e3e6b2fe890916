// Package batch implements the accumulation buffer between validation
// and the sinks.
//
// The buffer is the only mutable meeting point of the ingest path and the
// flush path, so it is deliberately small: a lock-guarded slice with an
// atomic swap. Flush triggering (count and age) belongs to the collector;
// the buffer only reports the facts the triggers need.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sensorlog/internal/reading"
)

// Config holds buffer construction parameters.
type Config struct {
	// Capacity presizes the backing slice to the expected flush size.
	// Zero means no presizing.
	Capacity int
	// Now is the clock used to stamp batch open times. Defaults to time.Now.
	Now func() time.Time
}

// Buffer accumulates validated readings in arrival order until swapped.
type Buffer struct {
	mu       sync.Mutex
	readings []reading.Validated
	openedAt time.Time
	capacity int
	now      func() time.Time
}

// New creates an empty buffer.
func New(cfg Config) *Buffer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		readings: newBacking(cfg.Capacity),
		capacity: cfg.Capacity,
		now:      now,
	}
}

func newBacking(capacity int) []reading.Validated {
	if capacity <= 0 {
		return nil
	}
	return make([]reading.Validated, 0, capacity)
}

// Add appends a reading, reporting the new length and whether the buffer
// was empty before the append. The first append stamps the open time the
// age trigger counts from.
func (b *Buffer) Add(v reading.Validated) (n int, first bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first = len(b.readings) == 0
	if first {
		b.openedAt = b.now()
	}
	b.readings = append(b.readings, v)
	return len(b.readings), first
}

// Len reports the number of buffered readings.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Swap cuts the buffered readings into a batch and installs a fresh
// backing slice, all under one lock hold. Returns nil when the buffer is
// empty: an age trigger firing on an empty buffer must not produce a
// zero-reading write.
//
// Ownership of the returned batch transfers to the caller; the buffer
// never touches it again.
func (b *Buffer) Swap() *reading.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) == 0 {
		return nil
	}

	batch := &reading.Batch{
		ID:        uuid.Must(uuid.NewV7()),
		Readings:  b.readings,
		OpenedAt:  b.openedAt,
		FlushedAt: b.now(),
	}
	b.readings = newBacking(b.capacity)
	b.openedAt = time.Time{}
	return batch
}
