package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ensemble-backtest/services/engine"
)

// Resample aggregates a sorted series into buckets of width step aligned to
// the Unix epoch: open of the first bar, max high, min low, close of the
// last bar, summed volume
func Resample(candles []engine.Candle, step time.Duration) ([]engine.Candle, error) {
	if step <= 0 || step%time.Minute != 0 {
		return nil, engine.ErrInvalidParameter.WithDetails("resample step must be a positive whole number of minutes")
	}
	if err := engine.ValidateSeries(candles); err != nil {
		return nil, err
	}
	stepMs := step.Milliseconds()
	var out []engine.Candle
	for _, c := range candles {
		ms := c.OpenTime.UnixMilli()
		bucket := time.UnixMilli(ms - ms%stepMs).UTC()
		if n := len(out); n > 0 && out[n-1].OpenTime.Equal(bucket) {
			agg := &out[n-1]
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		c.OpenTime = bucket
		out = append(out, c)
	}
	return out, nil
}

// ParseInterval converts exchange interval notation (1m, 15m, 1h, 1d, 1w)
// or a plain number of minutes into a duration
func ParseInterval(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	units := map[string]time.Duration{"min": time.Minute, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour, "w": 7 * 24 * time.Hour}
	for _, suffix := range []string{"min", "m", "h", "d", "w"} {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil || n <= 0 {
				break
			}
			return time.Duration(n) * units[suffix], nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Minute, nil
	}
	return 0, engine.ErrInvalidParameter.WithDetails(fmt.Sprintf("unsupported interval %q", s))
}
