// Package sink defines the persistence targets for flushed batches and
// the dual writer that coordinates them.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sensorlog/internal/reading"
)

// Sink persists whole batches. Implementations must not acknowledge
// partial writes: a nil return means every reading in the batch is
// durable. WriteBatch is only ever re-invoked for a batch after a
// non-nil return, never after success.
type Sink interface {
	// Name identifies the sink in logs and errors.
	Name() string
	// WriteBatch persists the batch. It must honor ctx cancellation at
	// its suspension points.
	WriteBatch(ctx context.Context, b *reading.Batch) error
}

// SinkError reports a batch that one sink could not persist within the
// retry ceiling. It carries enough to find the affected readings again.
type SinkError struct {
	Sink     string
	BatchID  uuid.UUID
	Readings int
	// First and Last bound the reading timestamps in the batch.
	First, Last time.Time
	Attempts    int
	Err         error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: batch %s (%d readings spanning %s to %s) failed after %d attempts: %v",
		e.Sink, e.BatchID, e.Readings,
		e.First.Format(time.RFC3339), e.Last.Format(time.RFC3339),
		e.Attempts, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
