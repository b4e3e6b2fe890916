package rawlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"sensorlog/internal/reading"
)

// ErrBadRecord marks a raw log line that does not decode.
var ErrBadRecord = errors.New("malformed raw log record")

// Non-finite values have no JSON literal; they are stored as sentinels.
const (
	sentinelNaN    = "NaN"
	sentinelPosInf = "+Inf"
	sentinelNegInf = "-Inf"
)

// record is the wire shape of one raw log line.
type record struct {
	SensorID string `json:"sensor_id"`
	TS       string `json:"ts"`
	Value    any    `json:"value"`
	Quality  string `json:"quality"`
}

// EncodeRecord appends one JSONL line to buf. Finite values use JSON's
// shortest round-trip representation, so DecodeRecord recovers the exact
// float64 bits; timestamps are RFC 3339 nanosecond UTC.
func EncodeRecord(buf *bytes.Buffer, v reading.Validated) error {
	rec := record{
		SensorID: v.SensorID,
		TS:       v.Timestamp.UTC().Format(time.RFC3339Nano),
		Value:    encodeValue(v.Value),
		Quality:  string(v.Quality),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

// DecodeRecord is the exact inverse of EncodeRecord for one line.
func DecodeRecord(line []byte) (reading.Validated, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return reading.Validated{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if rec.SensorID == "" {
		return reading.Validated{}, fmt.Errorf("%w: missing sensor_id", ErrBadRecord)
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.TS)
	if err != nil {
		return reading.Validated{}, fmt.Errorf("%w: ts: %v", ErrBadRecord, err)
	}
	value, err := decodeValue(rec.Value)
	if err != nil {
		return reading.Validated{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return reading.Validated{
		Reading: reading.Reading{SensorID: rec.SensorID, Timestamp: ts, Value: value},
		Quality: reading.Quality(rec.Quality),
	}, nil
}

func encodeValue(f float64) any {
	switch {
	case math.IsNaN(f):
		return sentinelNaN
	case math.IsInf(f, 1):
		return sentinelPosInf
	case math.IsInf(f, -1):
		return sentinelNegInf
	default:
		return f
	}
}

func decodeValue(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		switch t {
		case sentinelNaN:
			return math.NaN(), nil
		case sentinelPosInf:
			return math.Inf(1), nil
		case sentinelNegInf:
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unknown value sentinel %q", t)
	case nil:
		return 0, errors.New("missing value")
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}

// ReadFile decodes every record in a day file, transparently handling
// swept (.zst) files. Intended for maintenance verification and tooling,
// not the ingest path.
func ReadFile(path string) ([]reading.Validated, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var out []reading.Validated
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		v, err := DecodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}
