package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire encodings accepted from sources.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var (
	// ErrMissingSensorID marks a payload without a sensor identifier.
	ErrMissingSensorID = errors.New("missing sensor id")
	// ErrMissingTimestamp marks a payload without a timestamp.
	ErrMissingTimestamp = errors.New("missing timestamp")
	// ErrMissingValue marks a payload without a numeric value.
	ErrMissingValue = errors.New("missing value")
	// ErrBadTimestamp marks a timestamp that is neither an RFC 3339 /
	// ISO 8601 string nor a finite Unix epoch number.
	ErrBadTimestamp = errors.New("unparseable timestamp")
	// ErrUnknownEncoding marks an encoding name with no registered decoder.
	ErrUnknownEncoding = errors.New("unknown payload encoding")
)

// DecodeError describes a payload that could not be turned into a Reading.
// A failed decode never yields a partial reading.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s reading: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeFunc turns one wire payload into a Reading. Implementations are
// pure: no I/O, no retained references to the payload.
type DecodeFunc func(payload []byte) (Reading, error)

// DecoderFor returns the decode function for a wire encoding name.
// An empty name selects JSON, the default encoding.
func DecoderFor(encoding string) (DecodeFunc, error) {
	switch encoding {
	case "", EncodingJSON:
		return DecodeJSON, nil
	case EncodingMsgpack:
		return DecodeMsgpack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// DecodeJSON decodes a JSON object payload:
//
//	{"sensor_id": "temp_001", "timestamp": "2025-06-01T12:00:00Z", "value": 21.5}
//
// The timestamp may also be a Unix epoch number, integral or fractional.
// Fields beyond the three required ones (unit, location, ...) are ignored.
func DecodeJSON(payload []byte) (Reading, error) {
	var p struct {
		SensorID  string          `json:"sensor_id"`
		Timestamp json.RawMessage `json:"timestamp"`
		Value     *float64        `json:"value"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return Reading{}, &DecodeError{Encoding: EncodingJSON, Err: err}
	}
	if p.SensorID == "" {
		return Reading{}, &DecodeError{Encoding: EncodingJSON, Err: ErrMissingSensorID}
	}
	ts, err := jsonTimestamp(p.Timestamp)
	if err != nil {
		return Reading{}, &DecodeError{Encoding: EncodingJSON, Err: err}
	}
	if p.Value == nil {
		return Reading{}, &DecodeError{Encoding: EncodingJSON, Err: ErrMissingValue}
	}
	return Reading{SensorID: p.SensorID, Timestamp: ts, Value: *p.Value}, nil
}

// DecodeMsgpack decodes a msgpack map payload with the same field contract
// as DecodeJSON. Timestamps may additionally arrive as the msgpack timestamp
// extension. Unlike JSON, msgpack can carry non-finite values; they decode
// successfully and are left to quality classification.
func DecodeMsgpack(payload []byte) (Reading, error) {
	var p struct {
		SensorID  string   `msgpack:"sensor_id"`
		Timestamp any      `msgpack:"timestamp"`
		Value     *float64 `msgpack:"value"`
	}
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return Reading{}, &DecodeError{Encoding: EncodingMsgpack, Err: err}
	}
	if p.SensorID == "" {
		return Reading{}, &DecodeError{Encoding: EncodingMsgpack, Err: ErrMissingSensorID}
	}
	ts, err := msgpackTimestamp(p.Timestamp)
	if err != nil {
		return Reading{}, &DecodeError{Encoding: EncodingMsgpack, Err: err}
	}
	if p.Value == nil {
		return Reading{}, &DecodeError{Encoding: EncodingMsgpack, Err: ErrMissingValue}
	}
	return Reading{SensorID: p.SensorID, Timestamp: ts, Value: *p.Value}, nil
}

func jsonTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, ErrMissingTimestamp
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
		}
		return timeFromString(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	return timeFromEpoch(f)
}

func msgpackTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, ErrMissingTimestamp
	case time.Time:
		return t, nil
	case string:
		return timeFromString(t)
	case int64:
		return time.Unix(t, 0), nil
	case uint64:
		return time.Unix(int64(t), 0), nil
	case float64:
		return timeFromEpoch(t)
	case float32:
		return timeFromEpoch(float64(t))
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrBadTimestamp, v)
	}
}

// timeLayouts lists the accepted string timestamp shapes. Publishers send
// both full RFC 3339 and zone-less ISO 8601; the latter is taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func timeFromString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

func timeFromEpoch(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: non-finite epoch", ErrBadTimestamp)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))), nil
}
