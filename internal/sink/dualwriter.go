package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"sensorlog/internal/logging"
	"sensorlog/internal/reading"
	"sensorlog/internal/retry"
)

var (
	// ErrNoStructuredSink marks a dual writer configured without a
	// structured sink.
	ErrNoStructuredSink = errors.New("dual writer: structured sink is required")
	// ErrNoRawSink marks a dual writer configured without a raw sink.
	ErrNoRawSink = errors.New("dual writer: raw sink is required")
)

// Config holds dual writer construction parameters.
type Config struct {
	// Structured receives batches for the queryable store.
	Structured Sink
	// Raw receives batches for the append-only raw log.
	Raw Sink
	// Retry bounds per-sink write retries. Zero value uses defaults.
	Retry  retry.Policy
	Logger *slog.Logger
}

// DualWriter persists each batch to the structured store and the raw log.
//
// The two writes for one batch run concurrently and fail independently:
// a failing sink is retried alone with exponential backoff while the
// other sink's outcome stands, so a retry can never duplicate data on
// the sink that already acknowledged. Batches keep their flush order
// because callers hand them over one at a time.
type DualWriter struct {
	structured Sink
	raw        Sink
	policy     retry.Policy
	logger     *slog.Logger

	batches        atomic.Uint64
	failedAttempts atomic.Uint64
	structuredAck  atomic.Uint64
	rawAck         atomic.Uint64
}

// Stats is a snapshot of dual writer counters.
type Stats struct {
	// Batches acknowledged by both sinks.
	Batches uint64
	// FailedAttempts counts individual sink write attempts that errored,
	// whether or not a later retry recovered them.
	FailedAttempts uint64
	// StructuredReadings and RawReadings count readings acknowledged per sink.
	StructuredReadings uint64
	RawReadings        uint64
}

// NewDualWriter validates the sink pair and builds the writer.
func NewDualWriter(cfg Config) (*DualWriter, error) {
	if cfg.Structured == nil {
		return nil, ErrNoStructuredSink
	}
	if cfg.Raw == nil {
		return nil, ErrNoRawSink
	}
	return &DualWriter{
		structured: cfg.Structured,
		raw:        cfg.Raw,
		policy:     cfg.Retry,
		logger:     logging.Default(cfg.Logger).With(logging.Key, "dualwriter"),
	}, nil
}

// WriteBatch persists b to both sinks and returns nil only when both
// acknowledged. When a sink exhausts its retries the returned error
// wraps a *SinkError per failed sink; the successful sink's write is
// kept (over-retention beats data loss, duplicates are reconcilable).
// A write cut short by ctx cancellation returns the cancellation
// without a *SinkError.
func (w *DualWriter) WriteBatch(ctx context.Context, b *reading.Batch) error {
	var wg sync.WaitGroup
	var structuredErr, rawErr error

	wg.Go(func() {
		structuredErr = w.writeOne(ctx, w.structured, b, &w.structuredAck)
	})
	wg.Go(func() {
		rawErr = w.writeOne(ctx, w.raw, b, &w.rawAck)
	})
	wg.Wait()

	if err := errors.Join(structuredErr, rawErr); err != nil {
		return err
	}
	w.batches.Add(1)
	return nil
}

func (w *DualWriter) writeOne(ctx context.Context, s Sink, b *reading.Batch, acked *atomic.Uint64) error {
	attempts := 0
	err := retry.Do(ctx, w.policy, func() error {
		attempts++
		err := s.WriteBatch(ctx, b)
		if err != nil {
			w.failedAttempts.Add(1)
			w.logger.Warn("sink write failed",
				"sink", s.Name(),
				"batch", b.ID,
				"readings", b.Len(),
				"attempt", attempts,
				"error", err)
		}
		return err
	})
	if err != nil {
		// A cancelled write is an abort, not a sink giving up: it must
		// stay distinguishable from a retry-ceiling breach, so it is
		// not wrapped in a *SinkError.
		if ctx.Err() != nil {
			return fmt.Errorf("%s write aborted: %w", s.Name(), err)
		}
		first, last := b.Span()
		return &SinkError{
			Sink:     s.Name(),
			BatchID:  b.ID,
			Readings: b.Len(),
			First:    first,
			Last:     last,
			Attempts: attempts,
			Err:      err,
		}
	}

	acked.Add(uint64(b.Len()))
	if attempts > 1 {
		w.logger.Info("sink write recovered",
			"sink", s.Name(),
			"batch", b.ID,
			"attempts", attempts)
	}
	return nil
}

// Stats returns a point-in-time snapshot of the writer's counters.
func (w *DualWriter) Stats() Stats {
	return Stats{
		Batches:            w.batches.Load(),
		FailedAttempts:     w.failedAttempts.Load(),
		StructuredReadings: w.structuredAck.Load(),
		RawReadings:        w.rawAck.Load(),
	}
}
