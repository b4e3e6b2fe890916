// Package simulate provides a source that emits synthetic readings for a
// sensor fleet, exercising the full pipeline without a broker. Values
// follow a clamped random walk inside each sensor's range; out-of-range
// and unknown-sensor payloads can be mixed in at configurable ratios.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"sensorlog/internal/catalog"
	"sensorlog/internal/source"
)

// payload is the wire shape published for one reading. It matches what
// real field sensors publish, including the metadata fields the decoder
// ignores.
type payload struct {
	SensorID  string  `json:"sensor_id"`
	Type      string  `json:"type,omitempty"`
	Unit      string  `json:"unit,omitempty"`
	Location  string  `json:"location,omitempty"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// walker holds the random-walk state for one simulated sensor.
type walker struct {
	meta  catalog.Metadata
	value float64
}

// step advances the walk by up to 2% of the range and clamps to bounds.
func (w *walker) step(rng *rand.Rand) {
	span := w.meta.MaxValue - w.meta.MinValue
	w.value += (rng.Float64()*2 - 1) * 0.02 * span
	w.value = math.Max(w.meta.MinValue, math.Min(w.meta.MaxValue, w.value))
}

// beyond returns a value outside the sensor range on a random side. The
// excursion survives the two-decimal rounding applied on emit.
func (w *walker) beyond(rng *rand.Rand) float64 {
	span := w.meta.MaxValue - w.meta.MinValue
	bump := span * (0.05 + 0.1*rng.Float64())
	if bump < 0.01 {
		bump = 0.01
	}
	if rng.IntN(2) == 0 {
		return w.meta.MaxValue + bump
	}
	return w.meta.MinValue - bump
}

// Source emits one reading per fleet sensor every interval.
//
// Logging is intentionally sparse; nothing is logged in the emit loop.
type Source struct {
	id              string
	interval        time.Duration
	outOfRangeRatio float64
	unknownRatio    float64
	rng             *rand.Rand
	walkers         []*walker
	logger          *slog.Logger
}

// Run emits readings until ctx is cancelled. Returns nil on normal
// cancellation.
func (s *Source) Run(ctx context.Context, out chan<- source.Message) error {
	s.logger.Info("simulation started",
		"sensors", len(s.walkers),
		"interval", s.interval,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, w := range s.walkers {
			msg, err := s.emit(w)
			if err != nil {
				return fmt.Errorf("encode simulated reading: %w", err)
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// emit advances one walker and encodes its reading, substituting an
// unknown sensor id or an out-of-range value per the configured ratios.
func (s *Source) emit(w *walker) (source.Message, error) {
	w.step(s.rng)

	id := w.meta.SensorID
	value := w.value
	p := s.rng.Float64()
	switch {
	case p < s.unknownRatio:
		id = "rogue-" + id
	case p < s.unknownRatio+s.outOfRangeRatio:
		value = w.beyond(s.rng)
	}

	body, err := json.Marshal(payload{
		SensorID:  id,
		Type:      w.meta.Type,
		Unit:      w.meta.Unit,
		Location:  w.meta.Location,
		Value:     math.Round(value*100) / 100,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return source.Message{}, err
	}

	return source.Message{
		Topic:      "sensors/" + strings.ReplaceAll(id, " ", "_"),
		Payload:    body,
		ReceivedAt: time.Now(),
		SourceID:   s.id,
	}, nil
}
