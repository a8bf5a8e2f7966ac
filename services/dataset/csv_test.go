package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/text/encoding/unicode"

	"ensemble-backtest/services/engine"
)

const sample = `timestamp,open,high,low,close,volume
1704067260000,101,103,100,102,5
1704067200000,100,102,99,101,4
"1704067260000","999","999","999","999","999"
bad,1,2,3,4,5
1704067320000,102,104,101,"103",
`

func TestReadCSV(t *testing.T) {
	candles, err := ReadCSV(strings.NewReader(sample), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles: %+v", len(candles), candles)
	}
	if err := engine.ValidateSeries(candles); err != nil {
		t.Fatal(err)
	}
	if candles[0].Close != 101 || candles[1].Close != 102 || candles[2].Close != 103 {
		t.Fatalf("closes = %+v", candles)
	}
	if candles[2].Volume != 0 {
		t.Fatalf("empty volume should be 0, got %v", candles[2].Volume)
	}
	if !candles[0].OpenTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first open time = %v", candles[0].OpenTime)
	}
}

func TestReadCSVUTF16(t *testing.T) {
	enc, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(sample)
	if err != nil {
		t.Fatal(err)
	}
	candles, err := ReadCSV(strings.NewReader(enc), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles", len(candles))
	}
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close\n"), nil)
	if !errors.Is(err, engine.ErrDataUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	for _, in := range []string{"1704067260000000", "1704067260000", "1704067260", "2024-01-01T00:01:00Z", "2024-01-01 00:01:00"} {
		got, err := ParseTimestamp(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("%s: %v, %v", in, got, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteThenLoad(t *testing.T) {
	in, err := ReadCSV(strings.NewReader(sample), nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	var buf bytes.Buffer
	if err := WriteCSV(&buf, in); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := LoadCSV(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("rows %d != %d", len(out), len(in))
	}
	for i := range in {
		if !out[i].OpenTime.Equal(in[i].OpenTime) || out[i].Close != in[i].Close {
			t.Fatalf("row %d: %+v != %+v", i, out[i], in[i])
		}
	}
}

func TestResample(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []engine.Candle
	for i := 0; i < 6; i++ {
		p := float64(100 + i)
		bars = append(bars, engine.Candle{OpenTime: start.Add(time.Duration(i) * 5 * time.Minute), Open: p, High: p + 2, Low: p - 2, Close: p + 1, Volume: 1})
	}
	out, err := Resample(bars, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("buckets = %d", len(out))
	}
	b := out[1]
	if !b.OpenTime.Equal(start.Add(15*time.Minute)) || b.Open != 103 || b.High != 107 || b.Low != 101 || b.Close != 106 || b.Volume != 3 {
		t.Fatalf("bucket = %+v", b)
	}
	if _, err := Resample(bars, 90*time.Second); !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour, "5min": 5 * time.Minute, "30": 30 * time.Minute}
	for in, want := range cases {
		got, err := ParseInterval(in)
		if err != nil || got != want {
			t.Fatalf("%s: %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "m", "0m", "1y"} {
		if _, err := ParseInterval(bad); !errors.Is(err, engine.ErrInvalidParameter) {
			t.Fatalf("%q: err = %v", bad, err)
		}
	}
}
