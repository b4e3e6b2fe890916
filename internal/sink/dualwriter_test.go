package sink_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sensorlog/internal/reading"
	"sensorlog/internal/retry"
	"sensorlog/internal/sink"
)

// fakeSink records batches and can be told to fail its first N calls.
type fakeSink struct {
	name     string
	failures int

	mu      sync.Mutex
	calls   int
	batches []*reading.Batch
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) WriteBatch(_ context.Context, b *reading.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("%s: transient failure %d", f.name, f.calls)
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeSink) snapshot() (calls int, batches []*reading.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]*reading.Batch(nil), f.batches...)
}

func makeBatch(t *testing.T, n int) *reading.Batch {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &reading.Batch{ID: uuid.Must(uuid.NewV7()), OpenedAt: base, FlushedAt: base.Add(time.Second)}
	for i := 0; i < n; i++ {
		b.Readings = append(b.Readings, reading.Validated{
			Reading: reading.Reading{SensorID: "temp_001", Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)},
			Quality: reading.QualityValid,
		})
	}
	return b
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWriteBatchBothSinks(t *testing.T) {
	store := &fakeSink{name: "store"}
	raw := &fakeSink{name: "rawlog"}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw, Retry: fastRetry(3)})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	b := makeBatch(t, 4)
	if err := w.WriteBatch(context.Background(), b); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	for _, f := range []*fakeSink{store, raw} {
		calls, batches := f.snapshot()
		if calls != 1 {
			t.Errorf("%s calls = %d, want 1", f.name, calls)
		}
		if len(batches) != 1 || batches[0].ID != b.ID {
			t.Errorf("%s did not receive the batch", f.name)
		}
	}

	stats := w.Stats()
	if stats.Batches != 1 {
		t.Errorf("Stats.Batches = %d, want 1", stats.Batches)
	}
	if stats.StructuredReadings != 4 || stats.RawReadings != 4 {
		t.Errorf("Stats readings = (%d, %d), want (4, 4)", stats.StructuredReadings, stats.RawReadings)
	}
	if stats.FailedAttempts != 0 {
		t.Errorf("Stats.FailedAttempts = %d, want 0", stats.FailedAttempts)
	}
}

func TestWriteBatchRetriesOnlyFailingSink(t *testing.T) {
	// The raw log fails twice then recovers; the store succeeds first try.
	// Both must end up with the batch exactly once.
	store := &fakeSink{name: "store"}
	raw := &fakeSink{name: "rawlog", failures: 2}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw, Retry: fastRetry(5)})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	b := makeBatch(t, 2)
	if err := w.WriteBatch(context.Background(), b); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	storeCalls, storeBatches := store.snapshot()
	if storeCalls != 1 || len(storeBatches) != 1 {
		t.Errorf("store: calls = %d, batches = %d; want 1, 1 (no duplicate writes)", storeCalls, len(storeBatches))
	}

	rawCalls, rawBatches := raw.snapshot()
	if rawCalls != 3 {
		t.Errorf("rawlog calls = %d, want 3 (two failures plus success)", rawCalls)
	}
	if len(rawBatches) != 1 {
		t.Errorf("rawlog batches = %d, want 1", len(rawBatches))
	}

	if got := w.Stats().FailedAttempts; got != 2 {
		t.Errorf("Stats.FailedAttempts = %d, want 2", got)
	}
}

func TestWriteBatchEscalatesAfterCeiling(t *testing.T) {
	store := &fakeSink{name: "store"}
	raw := &fakeSink{name: "rawlog", failures: 100}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw, Retry: fastRetry(3)})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	b := makeBatch(t, 5)
	err = w.WriteBatch(context.Background(), b)
	if err == nil {
		t.Fatal("WriteBatch() = nil, want sink error")
	}

	var sinkErr *sink.SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("error %v is not a *SinkError", err)
	}
	if sinkErr.Sink != "rawlog" {
		t.Errorf("SinkError.Sink = %q, want rawlog", sinkErr.Sink)
	}
	if sinkErr.BatchID != b.ID {
		t.Errorf("SinkError.BatchID = %v, want %v", sinkErr.BatchID, b.ID)
	}
	if sinkErr.Readings != 5 {
		t.Errorf("SinkError.Readings = %d, want 5", sinkErr.Readings)
	}
	if sinkErr.Attempts != 3 {
		t.Errorf("SinkError.Attempts = %d, want 3", sinkErr.Attempts)
	}
	first, last := b.Span()
	if !sinkErr.First.Equal(first) || !sinkErr.Last.Equal(last) {
		t.Errorf("SinkError span = (%v, %v), want (%v, %v)", sinkErr.First, sinkErr.Last, first, last)
	}

	// The store's successful write stands even though the raw log failed.
	storeCalls, storeBatches := store.snapshot()
	if storeCalls != 1 || len(storeBatches) != 1 {
		t.Errorf("store: calls = %d, batches = %d; want 1, 1", storeCalls, len(storeBatches))
	}

	// The batch never counts as fully written.
	if got := w.Stats().Batches; got != 0 {
		t.Errorf("Stats.Batches = %d, want 0", got)
	}
	if got := w.Stats().StructuredReadings; got != 5 {
		t.Errorf("Stats.StructuredReadings = %d, want 5", got)
	}
	if got := w.Stats().RawReadings; got != 0 {
		t.Errorf("Stats.RawReadings = %d, want 0", got)
	}
}

func TestWriteBatchBothSinksFail(t *testing.T) {
	store := &fakeSink{name: "store", failures: 100}
	raw := &fakeSink{name: "rawlog", failures: 100}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw, Retry: fastRetry(2)})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	err = w.WriteBatch(context.Background(), makeBatch(t, 1))
	if err == nil {
		t.Fatal("WriteBatch() = nil, want joined sink errors")
	}

	// Both sink failures must surface, not just the first.
	msg := err.Error()
	if !strings.Contains(msg, "store") || !strings.Contains(msg, "rawlog") {
		t.Errorf("joined error missing a sink: %v", msg)
	}
}

func TestWriteBatchSequentialOrder(t *testing.T) {
	store := &fakeSink{name: "store"}
	raw := &fakeSink{name: "rawlog"}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		b := makeBatch(t, 1)
		ids = append(ids, b.ID)
		if err := w.WriteBatch(context.Background(), b); err != nil {
			t.Fatalf("WriteBatch(%d) error: %v", i, err)
		}
	}

	for _, f := range []*fakeSink{store, raw} {
		_, batches := f.snapshot()
		if len(batches) != 5 {
			t.Fatalf("%s received %d batches, want 5", f.name, len(batches))
		}
		for i, b := range batches {
			if b.ID != ids[i] {
				t.Errorf("%s batch[%d] = %v, want %v (order violated)", f.name, i, b.ID, ids[i])
			}
		}
	}
}

func TestWriteBatchCancelledIsNotSinkFailure(t *testing.T) {
	// An aborted write (drain timeout cancelling the context) must not
	// look like a sink that exhausted its retries.
	store := &fakeSink{name: "store", failures: 100}
	raw := &fakeSink{name: "rawlog", failures: 100}
	w, err := sink.NewDualWriter(sink.Config{Structured: store, Raw: raw, Retry: fastRetry(5)})
	if err != nil {
		t.Fatalf("NewDualWriter() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = w.WriteBatch(ctx, makeBatch(t, 1))
	if err == nil {
		t.Fatal("WriteBatch() = nil, want abort error")
	}
	var sinkErr *sink.SinkError
	if errors.As(err, &sinkErr) {
		t.Fatalf("cancelled write reported as permanent sink failure: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled wrapped in", err)
	}
}

func TestNewDualWriterValidation(t *testing.T) {
	s := &fakeSink{name: "store"}

	if _, err := sink.NewDualWriter(sink.Config{Raw: s}); !errors.Is(err, sink.ErrNoStructuredSink) {
		t.Errorf("missing structured sink: error = %v, want ErrNoStructuredSink", err)
	}
	if _, err := sink.NewDualWriter(sink.Config{Structured: s}); !errors.Is(err, sink.ErrNoRawSink) {
		t.Errorf("missing raw sink: error = %v, want ErrNoRawSink", err)
	}
}
