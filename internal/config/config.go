// Package config loads and validates the collector configuration.
//
// The configuration is declarative JSON describing the desired pipeline
// shape: where readings come from, how they are batched, and where they
// are persisted. It is read once at startup; there is no live reload.
//
// Sections carry durations as Go duration strings ("5s", "200ms") and
// leave type-specific source settings as opaque params, parsed by the
// factory that consumes them.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	"sensorlog/internal/catalog"
	"sensorlog/internal/collector"
	"sensorlog/internal/reading"
	"sensorlog/internal/retry"
)

// Catalog source types.
const (
	CatalogFile   = "file"
	CatalogSQLite = "sqlite"
	CatalogStatic = "static"
)

// Raw log maintenance defaults: compress after two whole days, keep
// ninety days of history.
const (
	DefaultCompressAfterDays = 2
	DefaultRetentionDays     = 90
)

// ErrUnknownCatalogType marks a catalog section with an unrecognized type.
var ErrUnknownCatalogType = errors.New("unknown catalog type")

// knownSourceTypes lists the source implementations the collector can
// instantiate. A typo fails at load, not mid-run.
var knownSourceTypes = map[string]bool{
	"mqtt":     true,
	"kafka":    true,
	"simulate": true,
}

// Config describes the desired collector shape.
type Config struct {
	Batch   BatchConfig    `json:"batch"`
	Retry   RetryConfig    `json:"retry"`
	Catalog CatalogConfig  `json:"catalog"`
	Store   StoreConfig    `json:"store"`
	RawLog  RawLogConfig   `json:"rawLog"`
	Sources []SourceConfig `json:"sources"`
}

// BatchConfig bounds the in-memory buffer between flushes. Zero fields
// fall back to the collector defaults.
type BatchConfig struct {
	// Size flushes the buffer when it holds this many readings.
	Size int `json:"size,omitempty"`

	// MaxAge flushes a non-empty buffer this long after its first
	// reading arrived. Go duration format (e.g. "5s").
	MaxAge string `json:"maxAge,omitempty"`

	// DrainTimeout bounds how long shutdown waits for in-flight writes.
	DrainTimeout string `json:"drainTimeout,omitempty"`

	// QueueSize is the transport message channel capacity.
	QueueSize int `json:"queueSize,omitempty"`
}

// RetryConfig bounds per-sink write retries. Zero fields fall back to
// the retry package defaults.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per sink, including the
	// first.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// InitialDelay is the pause after the first failure. Go duration
	// format (e.g. "200ms").
	InitialDelay string `json:"initialDelay,omitempty"`

	// MaxDelay caps the growing pause.
	MaxDelay string `json:"maxDelay,omitempty"`

	// Multiplier grows the pause after each failure.
	Multiplier float64 `json:"multiplier,omitempty"`

	// Jitter spreads concurrent retriers by up to a quarter of the pause.
	Jitter bool `json:"jitter,omitempty"`
}

// CatalogConfig selects where sensor metadata comes from.
type CatalogConfig struct {
	// Type is "file" (sensors JSON document), "sqlite" (the sensors
	// table in the store database), or "static" (inline Sensors).
	Type string `json:"type"`

	// Path locates the sensors file for type "file". Type "sqlite"
	// reads from the store path instead.
	Path string `json:"path,omitempty"`

	// Sensors holds inline metadata for type "static".
	Sensors []SensorConfig `json:"sensors,omitempty"`
}

// SensorConfig is one inline catalog entry. Min and Max bound the
// sensor's expected readings, inclusive on both ends.
type SensorConfig struct {
	ID       string  `json:"id"`
	Location string  `json:"location,omitempty"`
	Type     string  `json:"type,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Metadata converts the entry to its catalog form.
func (s SensorConfig) Metadata() catalog.Metadata {
	return catalog.Metadata{
		SensorID: s.ID,
		Location: s.Location,
		Type:     s.Type,
		Unit:     s.Unit,
		MinValue: s.Min,
		MaxValue: s.Max,
	}
}

// StoreConfig locates the structured store.
type StoreConfig struct {
	// Path is the SQLite database file. Created on first run.
	Path string `json:"path"`
}

// RawLogConfig shapes the append-only raw log.
type RawLogConfig struct {
	// Dir holds the day-partitioned JSONL files.
	Dir string `json:"dir"`

	// CompressAfterDays compresses day files older than this many whole
	// UTC days. Zero disables compression.
	CompressAfterDays int `json:"compressAfterDays,omitempty"`

	// RetentionDays deletes day files older than this many whole UTC
	// days. Zero keeps them forever.
	RetentionDays int `json:"retentionDays,omitempty"`

	// SweepSchedule is the cron schedule for the maintenance sweep,
	// with a leading seconds field (e.g. "0 0 3 * * *" for 03:00 daily).
	SweepSchedule string `json:"sweepSchedule,omitempty"`
}

// SourceConfig describes a source to instantiate.
type SourceConfig struct {
	// ID is a unique identifier for this source. Empty defaults to
	// "<type>-<n>".
	ID string `json:"id,omitempty"`

	// Type identifies the source implementation: "mqtt", "kafka", or
	// "simulate".
	Type string `json:"type"`

	// Encoding selects the payload decoder ("json", "msgpack"). Empty
	// means JSON.
	Encoding string `json:"encoding,omitempty"`

	// Params contains type-specific settings as opaque string key-value
	// pairs. Parsing and validation are the responsibility of the
	// factory that consumes them.
	Params map[string]string `json:"params,omitempty"`
}

// Default returns the first-run configuration: a simulated sensor fleet
// batched and persisted under dataDir.
func Default(dataDir string) *Config {
	rp := retry.DefaultPolicy()
	return &Config{
		Batch: BatchConfig{
			Size:         collector.DefaultBatchSize,
			MaxAge:       collector.DefaultBatchAge.String(),
			DrainTimeout: collector.DefaultDrainTimeout.String(),
			QueueSize:    collector.DefaultQueueSize,
		},
		Retry: RetryConfig{
			MaxAttempts:  rp.MaxAttempts,
			InitialDelay: rp.InitialDelay.String(),
			MaxDelay:     rp.MaxDelay.String(),
			Multiplier:   rp.Multiplier,
			Jitter:       rp.Jitter,
		},
		Catalog: CatalogConfig{
			Type: CatalogStatic,
			Sensors: []SensorConfig{
				{ID: "temp-001", Location: "warehouse-a", Type: "temperature", Unit: "C", Min: 15, Max: 35},
				{ID: "hum-001", Location: "warehouse-a", Type: "humidity", Unit: "%", Min: 30, Max: 80},
				{ID: "press-001", Location: "warehouse-b", Type: "pressure", Unit: "hPa", Min: 950, Max: 1050},
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "sensorlog.db"),
		},
		RawLog: RawLogConfig{
			Dir:               filepath.Join(dataDir, "rawlog"),
			CompressAfterDays: DefaultCompressAfterDays,
			RetentionDays:     DefaultRetentionDays,
			SweepSchedule:     collector.DefaultSweepSchedule,
		},
		Sources: []SourceConfig{
			{
				ID:   "simulate-1",
				Type: "simulate",
				Params: map[string]string{
					"interval": "1s",
				},
			},
		},
	}
}

// Load reads and validates a configuration file. Unknown fields are
// rejected so typos surface at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration semantics and reports every problem
// found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Batch.Size < 0 {
		errs = append(errs, fmt.Errorf("invalid batch.size: must not be negative"))
	}
	if c.Batch.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("invalid batch.queueSize: must not be negative"))
	}
	if c.Batch.MaxAge != "" {
		if _, err := parseDuration("batch.maxAge", c.Batch.MaxAge); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Batch.DrainTimeout != "" {
		if _, err := parseDuration("batch.drainTimeout", c.Batch.DrainTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("invalid retry.maxAttempts: must not be negative"))
	}
	if c.Retry.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("invalid retry.multiplier: must not be negative"))
	}
	if c.Retry.InitialDelay != "" {
		if _, err := parseDuration("retry.initialDelay", c.Retry.InitialDelay); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Retry.MaxDelay != "" {
		if _, err := parseDuration("retry.maxDelay", c.Retry.MaxDelay); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, c.validateCatalog()...)

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}

	if c.RawLog.Dir == "" {
		errs = append(errs, fmt.Errorf("rawLog.dir is required"))
	}
	if c.RawLog.CompressAfterDays < 0 {
		errs = append(errs, fmt.Errorf("invalid rawLog.compressAfterDays: must not be negative"))
	}
	if c.RawLog.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("invalid rawLog.retentionDays: must not be negative"))
	}
	if c.RawLog.SweepSchedule != "" {
		cr := gocron.NewDefaultCron(true)
		if err := cr.IsValid(c.RawLog.SweepSchedule, time.UTC, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("invalid rawLog.sweepSchedule: %w", err))
		}
	}

	errs = append(errs, c.validateSources()...)

	return errors.Join(errs...)
}

func (c *Config) validateCatalog() []error {
	var errs []error
	switch c.Catalog.Type {
	case CatalogFile:
		if c.Catalog.Path == "" {
			errs = append(errs, fmt.Errorf("catalog.path is required for type %q", CatalogFile))
		}
	case CatalogSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("catalog type %q needs store.path", CatalogSQLite))
		}
	case CatalogStatic:
		if len(c.Catalog.Sensors) == 0 {
			errs = append(errs, fmt.Errorf("catalog type %q needs at least one sensor", CatalogStatic))
		}
		for i, s := range c.Catalog.Sensors {
			if s.ID == "" {
				errs = append(errs, fmt.Errorf("catalog.sensors[%d]: id is required", i))
			}
			if s.Min > s.Max {
				errs = append(errs, fmt.Errorf("catalog.sensors[%d] %q: min %v > max %v", i, s.ID, s.Min, s.Max))
			}
		}
	case "":
		errs = append(errs, fmt.Errorf("catalog.type is required"))
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCatalogType, c.Catalog.Type))
	}
	return errs
}

func (c *Config) validateSources() []error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: type is required", i))
		} else if !knownSourceTypes[s.Type] {
			errs = append(errs, fmt.Errorf("sources[%d]: unknown source type %q", i, s.Type))
		}
		if s.ID != "" {
			if seen[s.ID] {
				errs = append(errs, fmt.Errorf("sources[%d]: duplicate source id %q", i, s.ID))
			}
			seen[s.ID] = true
		}
		if _, err := reading.DecoderFor(s.Encoding); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	return errs
}

// MaxAgeDuration parses the batch age field. Empty yields zero, letting
// the collector apply its default.
func (c BatchConfig) MaxAgeDuration() (time.Duration, error) {
	if c.MaxAge == "" {
		return 0, nil
	}
	return parseDuration("batch.maxAge", c.MaxAge)
}

// DrainTimeoutDuration parses the drain timeout field. Empty yields zero.
func (c BatchConfig) DrainTimeoutDuration() (time.Duration, error) {
	if c.DrainTimeout == "" {
		return 0, nil
	}
	return parseDuration("batch.drainTimeout", c.DrainTimeout)
}

// ToPolicy converts the retry section into a retry.Policy. Zero fields
// pass through and take the policy defaults.
func (c RetryConfig) ToPolicy() (retry.Policy, error) {
	p := retry.Policy{
		MaxAttempts: c.MaxAttempts,
		Multiplier:  c.Multiplier,
		Jitter:      c.Jitter,
	}
	if c.InitialDelay != "" {
		d, err := parseDuration("retry.initialDelay", c.InitialDelay)
		if err != nil {
			return retry.Policy{}, err
		}
		p.InitialDelay = d
	}
	if c.MaxDelay != "" {
		d, err := parseDuration("retry.maxDelay", c.MaxDelay)
		if err != nil {
			return retry.Policy{}, err
		}
		p.MaxDelay = d
	}
	return p, nil
}

// LoadCatalog builds the sensor catalog the configuration names. The
// sqlite variant reads from the store database, so the store schema must
// already exist when it runs.
func (c *Config) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	switch c.Catalog.Type {
	case CatalogFile:
		return catalog.LoadFile(c.Catalog.Path)
	case CatalogSQLite:
		return catalog.LoadSQLite(ctx, c.Store.Path)
	case CatalogStatic:
		entries := make([]catalog.Metadata, len(c.Catalog.Sensors))
		for i, s := range c.Catalog.Sensors {
			entries[i] = s.Metadata()
		}
		return catalog.New(entries)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalogType, c.Catalog.Type)
	}
}

// SourceSpecs converts the sources section to collector specs.
func (c *Config) SourceSpecs() []collector.SourceSpec {
	specs := make([]collector.SourceSpec, len(c.Sources))
	for i, s := range c.Sources {
		specs[i] = collector.SourceSpec{
			ID:       s.ID,
			Type:     s.Type,
			Encoding: s.Encoding,
			Params:   s.Params,
		}
	}
	return specs
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", field)
	}
	return d, nil
}
