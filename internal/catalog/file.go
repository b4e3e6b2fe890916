package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// sensorsFile is the on-disk registry document:
//
//	{
//	  "sensors": [
//	    {"id": "temp_001", "location": "warehouse_a", "type": "temperature",
//	     "unit": "C", "range": {"min": -20, "max": 60}}
//	  ]
//	}
type sensorsFile struct {
	Sensors []sensorEntry `json:"sensors"`
}

type sensorEntry struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Type     string `json:"type"`
	Unit     string `json:"unit"`
	Range    struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"range"`
}

// LoadFile reads sensor metadata from a JSON registry file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sensor registry: %w", err)
	}

	var doc sensorsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sensor registry %s: %w", path, err)
	}

	entries := make([]Metadata, 0, len(doc.Sensors))
	for _, s := range doc.Sensors {
		entries = append(entries, Metadata{
			SensorID: s.ID,
			Location: s.Location,
			Type:     s.Type,
			Unit:     s.Unit,
			MinValue: s.Range.Min,
			MaxValue: s.Range.Max,
		})
	}

	cat, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("sensor registry %s: %w", path, err)
	}
	return cat, nil
}
