package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ensemble-backtest/services/engine"
)

func zipped(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestArchiveFetchMonth(t *testing.T) {
	klines := "1704067200000,42283.58,42298.62,42261.02,42298.61,35.92,1704067259999,1518978.3,1327,21.3,900723.2,0\n" +
		"1704067260000,42298.62,42320.00,42290.00,42310.00,21.10,1704067319999,892341.1,955,10.1,427195.6,0\n"
	payload := zipped(t, "BTCUSDT-1m-2024-01.csv", klines)
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	a := NewArchive(srv.URL, "", zaptest.NewLogger(t))
	candles, err := a.FetchMonth(context.Background(), "BTCUSDT", "1m", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if path != "/data/spot/monthly/klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.zip" {
		t.Fatalf("path = %s", path)
	}
	if len(candles) != 2 || candles[1].Close != 42310 || candles[0].Volume != 35.92 {
		t.Fatalf("candles = %+v", candles)
	}
}

func TestArchiveMissingMonth(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	a := NewArchive(srv.URL, "futures/um", nil)
	_, err := a.FetchMonth(context.Background(), "BTCUSDT", "5m", time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, engine.ErrDataUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestMonthRange(t *testing.T) {
	months, err := MonthRange("2024-11", "2025-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 4 || months[3].Month() != time.February || months[3].Year() != 2025 {
		t.Fatalf("months = %v", months)
	}
	if _, err := MonthRange("2025-02", "2024-11"); !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
}
