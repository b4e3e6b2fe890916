// Package collector wires sources, decoding, validation, batching, and
// the dual writer into one running pipeline.
package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"

	"sensorlog/internal/batch"
	"sensorlog/internal/catalog"
	"sensorlog/internal/logging"
	"sensorlog/internal/reading"
	"sensorlog/internal/sink"
	"sensorlog/internal/sink/rawlog"
	"sensorlog/internal/source"
	"sensorlog/internal/validate"
)

// State is the collector lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	DefaultBatchSize    = 100
	DefaultBatchAge     = 5 * time.Second
	DefaultDrainTimeout = 10 * time.Second
	DefaultQueueSize    = 256

	// DefaultSweepSchedule runs the raw log sweep daily at 03:00.
	DefaultSweepSchedule = "0 0 3 * * *"

	flushBacklog = 4
	sweepTimeout = 10 * time.Minute
)

var (
	ErrNoCatalog      = errors.New("catalog is required")
	ErrNoWriter       = errors.New("dual writer is required")
	ErrNoSources      = errors.New("at least one source is required")
	ErrAlreadyStarted = errors.New("collector already started")
)

// SourceSpec declares one transport subscription.
type SourceSpec struct {
	// ID names the source in logs and stats. Defaults to "<type>-<n>".
	ID string
	// Type selects the factory: "mqtt", "kafka", "simulate".
	Type string
	// Encoding selects the payload decoder. Empty means JSON.
	Encoding string
	Params   map[string]string
}

// Config holds collector construction parameters.
type Config struct {
	Catalog   *catalog.Catalog
	Writer    *sink.DualWriter
	Sources   []SourceSpec
	Factories map[string]source.Factory

	// BatchSize flushes the buffer when it reaches this many readings.
	BatchSize int
	// BatchAge flushes a non-empty buffer this long after its first
	// reading arrived.
	BatchAge time.Duration
	// DrainTimeout bounds how long shutdown waits for in-flight writes.
	DrainTimeout time.Duration
	// QueueSize is the transport message channel capacity.
	QueueSize int

	// Maintenance, when set, is swept on SweepSchedule.
	Maintenance   *rawlog.Maintenance
	SweepSchedule string

	// Now is the batch clock. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type runner struct {
	id  string
	typ string
	src source.Source
}

type counters struct {
	received      atomic.Uint64
	decoded       atomic.Uint64
	decodeErrors  atomic.Uint64
	valid         atomic.Uint64
	outOfRange    atomic.Uint64
	unknownSensor atomic.Uint64
	batches       atomic.Uint64
	forcedFlushes atomic.Uint64
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Received      uint64
	Decoded       uint64
	DecodeErrors  uint64
	Valid         uint64
	OutOfRange    uint64
	UnknownSensor uint64
	// BatchesFlushed counts batches handed to the write loop;
	// BatchesWritten counts batches both sinks acknowledged.
	BatchesFlushed uint64
	BatchesWritten uint64
	ForcedFlushes  uint64
	// SinkRetries counts individual failed write attempts.
	SinkRetries   uint64
	StoreReadings uint64
	RawReadings   uint64
}

// Collector owns the pipeline. A Collector runs once: construct, Run,
// discard.
type Collector struct {
	validator *validate.Validator
	writer    *sink.DualWriter
	runners   []runner
	decoders  map[string]reading.DecodeFunc

	buffer       *batch.Buffer
	maxBatch     int
	maxAge       time.Duration
	drainTimeout time.Duration

	msgCh   chan source.Message
	flushCh chan *reading.Batch
	timer   *time.Timer

	maintenance *rawlog.Maintenance
	scheduler   gocron.Scheduler

	state     atomic.Int32
	stats     counters
	decodeLog *rate.Limiter

	cancelRun   func()
	cancelWrite func()
	fatalOnce   sync.Once
	fatalErr    error

	logger *slog.Logger
}

// New validates the config, constructs every source via its factory, and
// returns a collector ready to Run. Unknown source types and bad source
// params fail here, before anything is subscribed.
func New(cfg Config) (*Collector, error) {
	if cfg.Catalog == nil {
		return nil, ErrNoCatalog
	}
	if cfg.Writer == nil {
		return nil, ErrNoWriter
	}
	if len(cfg.Sources) == 0 {
		return nil, ErrNoSources
	}

	maxBatch := cfg.BatchSize
	if maxBatch <= 0 {
		maxBatch = DefaultBatchSize
	}
	maxAge := cfg.BatchAge
	if maxAge <= 0 {
		maxAge = DefaultBatchAge
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	c := &Collector{
		validator:    validate.New(cfg.Catalog),
		writer:       cfg.Writer,
		decoders:     make(map[string]reading.DecodeFunc, len(cfg.Sources)),
		buffer:       batch.New(batch.Config{Capacity: maxBatch, Now: cfg.Now}),
		maxBatch:     maxBatch,
		maxAge:       maxAge,
		drainTimeout: drainTimeout,
		msgCh:        make(chan source.Message, queueSize),
		flushCh:      make(chan *reading.Batch, flushBacklog),
		timer:        timer,
		maintenance:  cfg.Maintenance,
		decodeLog:    rate.NewLimiter(rate.Every(time.Second), 5),
		logger:       logging.Default(cfg.Logger).With(logging.Key, "collector"),
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, spec := range cfg.Sources {
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", spec.Type, i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate source id %q", id)
		}
		seen[id] = true

		factory, ok := cfg.Factories[spec.Type]
		if !ok {
			return nil, fmt.Errorf("unknown source type %q", spec.Type)
		}
		decode, err := reading.DecoderFor(spec.Encoding)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		src, err := factory(id, spec.Params, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}

		c.runners = append(c.runners, runner{id: id, typ: spec.Type, src: src})
		c.decoders[id] = decode
	}

	if cfg.Maintenance != nil {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return nil, fmt.Errorf("create sweep scheduler: %w", err)
		}
		schedule := cfg.SweepSchedule
		if schedule == "" {
			schedule = DefaultSweepSchedule
		}
		if _, err := scheduler.NewJob(
			gocron.CronJob(schedule, true),
			gocron.NewTask(c.runSweep),
			gocron.WithName("rawlog-sweep"),
		); err != nil {
			return nil, fmt.Errorf("schedule raw log sweep: %w", err)
		}
		c.scheduler = scheduler
	}

	return c, nil
}

// State reports the lifecycle phase.
func (c *Collector) State() State {
	return State(c.state.Load())
}

// Stats snapshots the pipeline counters, merging in the dual writer's.
func (c *Collector) Stats() Stats {
	w := c.writer.Stats()
	return Stats{
		Received:       c.stats.received.Load(),
		Decoded:        c.stats.decoded.Load(),
		DecodeErrors:   c.stats.decodeErrors.Load(),
		Valid:          c.stats.valid.Load(),
		OutOfRange:     c.stats.outOfRange.Load(),
		UnknownSensor:  c.stats.unknownSensor.Load(),
		BatchesFlushed: c.stats.batches.Load(),
		BatchesWritten: w.Batches,
		ForcedFlushes:  c.stats.forcedFlushes.Load(),
		SinkRetries:    w.FailedAttempts,
		StoreReadings:  w.StructuredReadings,
		RawReadings:    w.RawReadings,
	}
}
