// Package dataset reads and writes candle series as CSV
package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"ensemble-backtest/services/engine"
)

// LoadCSV reads timestamp,open,high,low,close[,volume] rows from path
func LoadCSV(path string, logger *zap.Logger) ([]engine.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	candles, err := ReadCSV(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// ReadCSV decodes UTF-8 or BOM-prefixed UTF-16 input. A header row, blank
// and malformed rows are skipped. The result is sorted by open time with
// duplicate timestamps dropped (first occurrence wins).
func ReadCSV(r io.Reader, logger *zap.Logger) ([]engine.Candle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := bufio.NewReader(r)
	if b, _ := br.Peek(2); len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		br = bufio.NewReader(transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var (
		out     []engine.Candle
		skipped int
		line    int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			skipped++
			continue
		}
		if len(rec) < 5 {
			skipped++
			continue
		}
		first := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		if line == 1 && isHeader(first) {
			continue
		}
		c, err := parseRow(first, rec[1:])
		if err != nil {
			logger.Debug("Skipping CSV row", zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, engine.ErrDataUnavailable.WithDetails("no candles parsed")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	deduped := out[:1]
	for _, c := range out[1:] {
		if c.OpenTime.Equal(deduped[len(deduped)-1].OpenTime) {
			skipped++
			continue
		}
		deduped = append(deduped, c)
	}
	logger.Info("Loaded candles from CSV", zap.Int("bars", len(deduped)), zap.Int("skipped", skipped))
	return deduped, nil
}

func isHeader(v string) bool {
	switch strings.ToLower(strings.Trim(v, `"`)) {
	case "timestamp", "timestamp_ms", "open_time", "open_time_ms", "time", "date":
		return true
	}
	return false
}

func parseRow(ts string, fields []string) (engine.Candle, error) {
	t, err := ParseTimestamp(ts)
	if err != nil {
		return engine.Candle{}, err
	}
	var vals [5]float64
	for i := 0; i < 5 && i < len(fields); i++ {
		s := strings.TrimSpace(strings.Trim(fields[i], `"`))
		if s == "" && i == 4 {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return engine.Candle{OpenTime: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// ParseTimestamp accepts epoch micro, milli or seconds, RFC 3339, or
// "2006-01-02 15:04:05" in UTC
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(strings.Trim(v, `"`))
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		switch {
		case n > 1e14:
			// spot archives switched to microseconds in 2025
			return time.UnixMicro(n).UTC(), nil
		case n > 1e11:
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", v)
}

// WriteCSV writes the series with a timestamp_ms header
func WriteCSV(w io.Writer, candles []engine.Candle) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("timestamp,open,high,low,close,volume\n"); err != nil {
		return err
	}
	for _, c := range candles {
		if _, err := fmt.Fprintf(bw, "%d,%.8f,%.8f,%.8f,%.8f,%.8f\n", c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}
	return bw.Flush()
}
