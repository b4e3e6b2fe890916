package rawlog_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"sensorlog/internal/reading"
	"sensorlog/internal/sink/rawlog"
)

func validated(id string, ts time.Time, value float64, q reading.Quality) reading.Validated {
	return reading.Validated{
		Reading: reading.Reading{SensorID: id, Timestamp: ts, Value: value},
		Quality: q,
	}
}

// sameValue compares float64s with NaN equal to NaN and the zero sign
// significant.
func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if a == 0 && b == 0 {
		return math.Signbit(a) == math.Signbit(b)
	}
	return a == b
}

func TestRecordRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 15, 123456789, time.UTC)

	testCases := []struct {
		name  string
		in    reading.Validated
		value float64
	}{
		{"plain", validated("sensor-001", ts, 21.5, reading.QualityValid), 21.5},
		{"out of range", validated("sensor-001", ts, 99.9, reading.QualityOutOfRange), 99.9},
		{"unknown sensor", validated("ghost", ts, 1, reading.QualityUnknownSensor), 1},
		{"awkward fraction", validated("s", ts, 0.1, reading.QualityValid), 0.1},
		{"max float", validated("s", ts, math.MaxFloat64, reading.QualityValid), math.MaxFloat64},
		{"smallest denormal", validated("s", ts, 5e-324, reading.QualityValid), 5e-324},
		{"negative zero", validated("s", ts, math.Copysign(0, -1), reading.QualityValid), math.Copysign(0, -1)},
		{"nan", validated("s", ts, math.NaN(), reading.QualityOutOfRange), math.NaN()},
		{"positive infinity", validated("s", ts, math.Inf(1), reading.QualityOutOfRange), math.Inf(1)},
		{"negative infinity", validated("s", ts, math.Inf(-1), reading.QualityOutOfRange), math.Inf(-1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := rawlog.EncodeRecord(&buf, tc.in); err != nil {
				t.Fatalf("EncodeRecord: %v", err)
			}

			line := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			if bytes.ContainsRune(line, '\n') {
				t.Fatalf("encoded record spans multiple lines: %q", buf.String())
			}

			got, err := rawlog.DecodeRecord(line)
			if err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
			if got.SensorID != tc.in.SensorID {
				t.Errorf("sensor id: got %q, want %q", got.SensorID, tc.in.SensorID)
			}
			if !got.Timestamp.Equal(tc.in.Timestamp) {
				t.Errorf("timestamp: got %v, want %v", got.Timestamp, tc.in.Timestamp)
			}
			if !sameValue(got.Value, tc.value) {
				t.Errorf("value: got %v, want %v", got.Value, tc.value)
			}
			if got.Quality != tc.in.Quality {
				t.Errorf("quality: got %q, want %q", got.Quality, tc.in.Quality)
			}
		})
	}
}

func TestEncodeRecordShape(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 500000000, time.UTC)

	var buf bytes.Buffer
	err := rawlog.EncodeRecord(&buf, validated("sensor-001", ts, 21.5, reading.QualityValid))
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}

	want := map[string]any{
		"sensor_id": "sensor-001",
		"ts":        "2025-06-01T12:00:00.5Z",
		"value":     21.5,
		"quality":   "valid",
	}
	for key, wantVal := range want {
		if got := fields[key]; got != wantVal {
			t.Errorf("field %q: got %v, want %v", key, got, wantVal)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("field count: got %d, want %d", len(fields), len(want))
	}
}

func TestEncodeRecordNormalizesZone(t *testing.T) {
	zone := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2025, 6, 1, 14, 0, 0, 0, zone)

	var buf bytes.Buffer
	if err := rawlog.EncodeRecord(&buf, validated("s", ts, 1, reading.QualityValid)); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	got, err := rawlog.DecodeRecord(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, want)
	}
	if got.Timestamp.Location() != time.UTC {
		t.Errorf("location: got %v, want UTC", got.Timestamp.Location())
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"not json", "][ nope"},
		{"missing sensor id", `{"ts":"2025-06-01T12:00:00Z","value":1,"quality":"valid"}`},
		{"missing timestamp", `{"sensor_id":"s","value":1,"quality":"valid"}`},
		{"bad timestamp", `{"sensor_id":"s","ts":"yesterday","value":1,"quality":"valid"}`},
		{"missing value", `{"sensor_id":"s","ts":"2025-06-01T12:00:00Z","quality":"valid"}`},
		{"unknown sentinel", `{"sensor_id":"s","ts":"2025-06-01T12:00:00Z","value":"Infinity","quality":"valid"}`},
		{"bool value", `{"sensor_id":"s","ts":"2025-06-01T12:00:00Z","value":true,"quality":"valid"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rawlog.DecodeRecord([]byte(tc.line))
			if !errors.Is(err, rawlog.ErrBadRecord) {
				t.Fatalf("got %v, want ErrBadRecord", err)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	ts := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	want := []reading.Validated{
		validated("sensor-001", ts, 21.5, reading.QualityValid),
		validated("sensor-002", ts.Add(time.Second), math.NaN(), reading.QualityOutOfRange),
		validated("ghost", ts.Add(2*time.Second), 3, reading.QualityUnknownSensor),
	}

	var buf bytes.Buffer
	for _, v := range want {
		if err := rawlog.EncodeRecord(&buf, v); err != nil {
			t.Fatalf("EncodeRecord: %v", err)
		}
	}
	buf.WriteString("\n")

	dir := t.TempDir()
	plain := filepath.Join(dir, "raw_20250601.jsonl")
	if err := os.WriteFile(plain, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	swept := filepath.Join(dir, "raw_20250531.jsonl.zst")
	writeCompressed(t, swept, buf.Bytes())

	for _, path := range []string{plain, swept} {
		got, err := rawlog.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", filepath.Base(path), err)
		}
		if len(got) != len(want) {
			t.Fatalf("%s: got %d records, want %d", filepath.Base(path), len(got), len(want))
		}
		for i := range want {
			if got[i].SensorID != want[i].SensorID {
				t.Errorf("%s record %d: got sensor %q, want %q",
					filepath.Base(path), i, got[i].SensorID, want[i].SensorID)
			}
			if !sameValue(got[i].Value, want[i].Value) {
				t.Errorf("%s record %d: got value %v, want %v",
					filepath.Base(path), i, got[i].Value, want[i].Value)
			}
		}
	}
}

func TestReadFileBadLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw_20250601.jsonl")
	content := `{"sensor_id":"s","ts":"2025-06-01T12:00:00Z","value":1,"quality":"valid"}` + "\nnot a record\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err := rawlog.ReadFile(path)
	if !errors.Is(err, rawlog.ErrBadRecord) {
		t.Fatalf("got %v, want ErrBadRecord", err)
	}
}

func writeCompressed(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatalf("compress fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}
