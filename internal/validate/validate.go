// Package validate classifies decoded readings against the sensor catalog.
//
// Classification is total: every structurally valid reading receives
// exactly one quality and is retained. Nothing here drops data or errors.
package validate

import (
	"sensorlog/internal/catalog"
	"sensorlog/internal/reading"
)

// Validator stamps readings with a quality flag.
type Validator struct {
	catalog *catalog.Catalog
}

// New returns a validator backed by the given catalog snapshot.
func New(cat *catalog.Catalog) *Validator {
	return &Validator{catalog: cat}
}

// Classify determines the quality of a reading:
//
//	unknown_sensor  sensor id not in the catalog
//	out_of_range    value outside [min, max]
//	valid           otherwise
//
// Bounds are inclusive. NaN compares false against both bounds, so it
// lands in out_of_range without any special casing; the same comparisons
// put +Inf and -Inf out of range for any finite bounds.
func (v *Validator) Classify(r reading.Reading) reading.Validated {
	m, ok := v.catalog.Lookup(r.SensorID)
	if !ok {
		return reading.Validated{Reading: r, Quality: reading.QualityUnknownSensor}
	}
	if r.Value >= m.MinValue && r.Value <= m.MaxValue {
		return reading.Validated{Reading: r, Quality: reading.QualityValid}
	}
	return reading.Validated{Reading: r, Quality: reading.QualityOutOfRange}
}
