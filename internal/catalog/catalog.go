// Package catalog loads and serves sensor metadata.
//
// The catalog is an immutable snapshot taken at startup: lookups are safe
// from any goroutine and there is no runtime mutation path. Registering a
// new sensor means restarting the collector.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateSensor marks two metadata entries sharing a sensor id.
	ErrDuplicateSensor = errors.New("duplicate sensor id")
	// ErrBadRange marks an entry whose min exceeds its max.
	ErrBadRange = errors.New("invalid sensor range")
)

// Metadata describes one registered sensor. MinValue and MaxValue bound
// the expected readings, inclusive on both ends.
type Metadata struct {
	SensorID string
	Location string
	Type     string
	Unit     string
	MinValue float64
	MaxValue float64
}

// Catalog is an immutable set of sensor metadata keyed by sensor id.
type Catalog struct {
	sensors map[string]Metadata
}

// New builds a catalog from metadata entries. Duplicate sensor ids and
// inverted ranges are configuration mistakes and fail loudly.
func New(entries []Metadata) (*Catalog, error) {
	sensors := make(map[string]Metadata, len(entries))
	for _, m := range entries {
		if m.SensorID == "" {
			return nil, errors.New("sensor entry with empty id")
		}
		if _, ok := sensors[m.SensorID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSensor, m.SensorID)
		}
		if m.MinValue > m.MaxValue {
			return nil, fmt.Errorf("%w: %q min %v > max %v", ErrBadRange, m.SensorID, m.MinValue, m.MaxValue)
		}
		sensors[m.SensorID] = m
	}
	return &Catalog{sensors: sensors}, nil
}

// Lookup returns the metadata for a sensor id.
func (c *Catalog) Lookup(sensorID string) (Metadata, bool) {
	m, ok := c.sensors[sensorID]
	return m, ok
}

// Len reports the number of registered sensors.
func (c *Catalog) Len() int {
	return len(c.sensors)
}

// IDs returns the registered sensor ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.sensors))
	for id := range c.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
