package simulate

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"sensorlog/internal/catalog"
	"sensorlog/internal/logging"
	"sensorlog/internal/source"
)

const defaultInterval = time.Second

// NewFactory returns a Factory for simulation sources. The fleet is drawn
// from the given catalog, so simulated ids and ranges always agree with
// what the validator expects.
//
// Supported parameters:
//   - "interval": delay between emission rounds (default: "1s"); every
//     fleet sensor emits one reading per round
//   - "sensors": comma-separated catalog ids to simulate (default: all)
//   - "outOfRangeRatio": fraction of readings forced outside the sensor
//     range, 0..1 (default: 0)
//   - "unknownRatio": fraction of readings published under an
//     unregistered sensor id, 0..1 (default: 0)
func NewFactory(cat *catalog.Catalog) source.Factory {
	return func(id string, params map[string]string, logger *slog.Logger) (source.Source, error) {
		if cat == nil || cat.Len() == 0 {
			return nil, fmt.Errorf("simulate source: catalog has no sensors")
		}

		interval := defaultInterval
		if v, ok := params["interval"]; ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("simulate source: invalid interval %q: %w", v, err)
			}
			if parsed <= 0 {
				return nil, fmt.Errorf("simulate source: interval must be positive, got %v", parsed)
			}
			interval = parsed
		}

		outOfRange, err := ratioParam(params, "outOfRangeRatio")
		if err != nil {
			return nil, err
		}
		unknown, err := ratioParam(params, "unknownRatio")
		if err != nil {
			return nil, err
		}
		if outOfRange+unknown > 1 {
			return nil, fmt.Errorf("simulate source: outOfRangeRatio and unknownRatio sum to %v, must not exceed 1", outOfRange+unknown)
		}

		ids := cat.IDs()
		if v, ok := params["sensors"]; ok {
			ids = nil
			for _, raw := range strings.Split(v, ",") {
				name := strings.TrimSpace(raw)
				if name == "" {
					continue
				}
				if _, ok := cat.Lookup(name); !ok {
					return nil, fmt.Errorf("simulate source: sensor %q is not in the catalog", name)
				}
				ids = append(ids, name)
			}
			if len(ids) == 0 {
				return nil, fmt.Errorf("simulate source: sensors param selected nothing")
			}
		}

		rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

		walkers := make([]*walker, 0, len(ids))
		for _, sensorID := range ids {
			meta, _ := cat.Lookup(sensorID)
			walkers = append(walkers, &walker{
				meta:  meta,
				value: meta.MinValue + rng.Float64()*(meta.MaxValue-meta.MinValue),
			})
		}

		return &Source{
			id:              id,
			interval:        interval,
			outOfRangeRatio: outOfRange,
			unknownRatio:    unknown,
			rng:             rng,
			walkers:         walkers,
			logger: logging.Default(logger).With(
				logging.Key, "source",
				"type", "simulate",
			),
		}, nil
	}
}

func ratioParam(params map[string]string, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("simulate source: invalid %s %q: %w", key, v, err)
	}
	if parsed < 0 || parsed > 1 {
		return 0, fmt.Errorf("simulate source: %s must be between 0 and 1, got %v", key, parsed)
	}
	return parsed, nil
}
