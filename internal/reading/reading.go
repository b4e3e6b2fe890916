// Package reading defines the sensor reading domain types shared across
// the ingestion pipeline, along with the wire payload decoders.
package reading

import (
	"time"

	"github.com/google/uuid"
)

// Quality classifies a reading against its sensor's registered range.
type Quality string

const (
	// QualityValid means the sensor is known and the value lies within
	// its registered range, bounds inclusive.
	QualityValid Quality = "valid"
	// QualityOutOfRange means the sensor is known but the value falls
	// outside its registered range. NaN always classifies as out of range.
	QualityOutOfRange Quality = "out_of_range"
	// QualityUnknownSensor means the sensor id is not in the catalog.
	// The reading is retained, not dropped.
	QualityUnknownSensor Quality = "unknown_sensor"
)

// Reading is a single decoded measurement as received from a sensor.
// It carries no semantic guarantees beyond structural completeness;
// classification happens downstream.
type Reading struct {
	SensorID  string
	Timestamp time.Time
	Value     float64
}

// Validated is a reading plus its quality classification.
// Immutable once produced.
type Validated struct {
	Reading
	Quality Quality
}

// Batch is an ordered set of validated readings handed to the sinks
// as one persistence unit. Readings appear in arrival order.
type Batch struct {
	// ID correlates a batch across log lines and sink errors.
	ID       uuid.UUID
	Readings []Validated
	// OpenedAt is when the buffer went from empty to non-empty.
	OpenedAt time.Time
	// FlushedAt is when the batch was cut from the buffer.
	FlushedAt time.Time
}

// Len reports the number of readings in the batch.
func (b *Batch) Len() int {
	return len(b.Readings)
}

// Span returns the earliest and latest reading timestamps in the batch.
// Readings may arrive out of timestamp order, so this scans rather than
// assuming the ends.
func (b *Batch) Span() (first, last time.Time) {
	for i, v := range b.Readings {
		if i == 0 || v.Timestamp.Before(first) {
			first = v.Timestamp
		}
		if i == 0 || v.Timestamp.After(last) {
			last = v.Timestamp
		}
	}
	return first, last
}
