package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sensorlog/internal/reading"
	"sensorlog/internal/sink"
	"sensorlog/internal/source"
)

// Flush reasons, for logs and stats.
const (
	flushCount = "count"
	flushAge   = "age"
	flushDrain = "drain"
)

// Run executes the pipeline until ctx is cancelled or a fatal error stops
// it. Shutdown is ordered: sources are cancelled first, the message
// channel is drained, the partial batch is force-flushed, then in-flight
// writes get up to the drain timeout to finish. Returns nil on clean
// shutdown.
func (c *Collector) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	c.cancelRun = cancelRun

	// Writes outlive runCtx so draining can finish them; only the drain
	// timeout and fatal sink errors cut them short.
	writeCtx, cancelWrite := context.WithCancel(context.Background())
	defer cancelWrite()
	c.cancelWrite = cancelWrite

	c.logger.Info("collector starting",
		"sources", len(c.runners),
		"batch_size", c.maxBatch,
		"batch_age", c.maxAge,
	)

	if c.scheduler != nil {
		c.scheduler.Start()
	}

	srcGroup, srcCtx := errgroup.WithContext(runCtx)
	for _, r := range c.runners {
		srcGroup.Go(func() error {
			c.logger.Info("source starting", "id", r.id, "type", r.typ)
			if err := r.src.Run(srcCtx, c.msgCh); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("source %s: %w", r.id, err)
			}
			return nil
		})
	}

	// The message channel closes only after every source has exited, so
	// the drain in collectLoop sees everything the sources emitted.
	go func() {
		if err := srcGroup.Wait(); err != nil {
			c.logger.Error("source failed", "error", err)
			c.fatal(err)
		}
		close(c.msgCh)
	}()

	var writeWg sync.WaitGroup
	writeWg.Go(func() { c.writeLoop(writeCtx) })

	c.collectLoop(runCtx)

	writeDone := make(chan struct{})
	go func() {
		writeWg.Wait()
		close(writeDone)
	}()
	select {
	case <-writeDone:
	case <-time.After(c.drainTimeout):
		c.logger.Warn("drain timeout exceeded, aborting in-flight writes",
			"timeout", c.drainTimeout)
		cancelWrite()
		<-writeDone
	}

	if c.scheduler != nil {
		if err := c.scheduler.Shutdown(); err != nil {
			c.logger.Warn("sweep scheduler shutdown", "error", err)
		}
	}

	c.state.Store(int32(StateStopped))

	stats := c.Stats()
	c.logger.Info("collector stopped",
		"received", stats.Received,
		"decode_errors", stats.DecodeErrors,
		"batches", stats.BatchesFlushed,
		"store_readings", stats.StoreReadings,
		"raw_readings", stats.RawReadings,
	)
	return c.fatalErr
}

// collectLoop owns the buffer and the flush timer. It exits once the
// message channel is closed and everything left has been flushed, closing
// the flush channel behind it.
func (c *Collector) collectLoop(ctx context.Context) {
	defer close(c.flushCh)

	for {
		select {
		case <-ctx.Done():
			c.drainMessages()
			return
		case <-c.timer.C:
			c.flush(flushAge)
		case msg, ok := <-c.msgCh:
			if !ok {
				c.state.Store(int32(StateDraining))
				c.logger.Info("collector draining", "reason", "sources exited")
				c.flush(flushDrain)
				return
			}
			c.ingest(msg)
		}
	}
}

// drainMessages consumes whatever the sources emitted before exiting,
// then force-flushes the partial batch.
func (c *Collector) drainMessages() {
	c.state.Store(int32(StateDraining))
	c.logger.Info("collector draining", "reason", "shutdown")

	for msg := range c.msgCh {
		c.ingest(msg)
	}
	c.flush(flushDrain)
}

// ingest decodes, classifies, and buffers one transport message. Decode
// failures are counted and logged at a bounded rate; they never stop the
// loop.
func (c *Collector) ingest(msg source.Message) {
	c.stats.received.Add(1)

	decode := c.decoders[msg.SourceID]
	if decode == nil {
		decode = reading.DecodeJSON
	}
	r, err := decode(msg.Payload)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		if c.decodeLog.Allow() {
			c.logger.Warn("payload decode failed",
				"source", msg.SourceID,
				"topic", msg.Topic,
				"error", err,
			)
		}
		return
	}
	c.stats.decoded.Add(1)

	v := c.validator.Classify(r)
	switch v.Quality {
	case reading.QualityValid:
		c.stats.valid.Add(1)
	case reading.QualityOutOfRange:
		c.stats.outOfRange.Add(1)
	case reading.QualityUnknownSensor:
		c.stats.unknownSensor.Add(1)
	}

	n, first := c.buffer.Add(v)
	if first {
		c.timer.Reset(c.maxAge)
	}
	if n >= c.maxBatch {
		c.flush(flushCount)
	}
}

// flush swaps the buffer and hands the batch to the write loop. An empty
// buffer flushes to nothing and leaves the timer disarmed.
func (c *Collector) flush(reason string) {
	b := c.buffer.Swap()
	if b == nil {
		return
	}
	c.timer.Stop()

	c.stats.batches.Add(1)
	if reason == flushDrain {
		c.stats.forcedFlushes.Add(1)
	}
	c.logger.Debug("batch flushed",
		"reason", reason,
		"batch", b.ID,
		"readings", b.Len(),
	)
	c.flushCh <- b
}

// writeLoop persists batches in flush order. A write that fails past the
// retry ceiling stops the collector; batches already flushed are still
// attempted so the healthy sink retains as much as possible.
func (c *Collector) writeLoop(ctx context.Context) {
	for b := range c.flushCh {
		err := c.writer.WriteBatch(ctx, b)
		if err == nil {
			continue
		}

		var sinkErr *sink.SinkError
		if errors.As(err, &sinkErr) {
			c.logger.Error("sink write failed permanently",
				"sink", sinkErr.Sink,
				"batch", sinkErr.BatchID,
				"readings", sinkErr.Readings,
				"attempts", sinkErr.Attempts,
				"error", sinkErr.Err,
			)
			c.fatal(err)
			c.cancelWrite()
			continue
		}
		c.logger.Warn("batch write aborted", "batch", b.ID, "error", err)
	}
}

// fatal records the first unrecoverable error and stops intake. Write
// cancellation is the caller's call: sink failures abort retries, source
// failures drain with the full retry budget.
func (c *Collector) fatal(err error) {
	c.fatalOnce.Do(func() {
		c.fatalErr = err
		c.cancelRun()
	})
}

// runSweep is the scheduled raw log maintenance task.
func (c *Collector) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if err := c.maintenance.Sweep(ctx); err != nil {
		c.logger.Warn("raw log sweep failed", "error", err)
	}
}
