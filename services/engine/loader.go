package engine

import (
	"fmt"
	"time"
)

// ValidateSeries checks that candles are strictly ordered by open time
func ValidateSeries(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].OpenTime, candles[i].OpenTime
		if cur.Equal(prev) {
			return ErrInvalidParameter.WithDetails(fmt.Sprintf("duplicate candle at %s (index %d)", cur.UTC().Format(time.RFC3339), i))
		}
		if cur.Before(prev) {
			return ErrInvalidParameter.WithDetails(fmt.Sprintf("candle %d at %s is before %s", i, cur.UTC().Format(time.RFC3339), prev.UTC().Format(time.RFC3339)))
		}
	}
	return nil
}

// Gap is a hole in the series between two consecutive candles
type Gap struct {
	After   time.Time `json:"after"`
	Before  time.Time `json:"before"`
	Missing int       `json:"missing"`
}

// DetectGaps reports every place where consecutive open times are more than
// step apart
func DetectGaps(candles []Candle, step time.Duration) (gaps []Gap) {
	if step <= 0 {
		return nil
	}
	for i := 1; i < len(candles); i++ {
		d := candles[i].OpenTime.Sub(candles[i-1].OpenTime)
		if d > step {
			gaps = append(gaps, Gap{
				After:   candles[i-1].OpenTime,
				Before:  candles[i].OpenTime,
				Missing: int(d/step) - 1,
			})
		}
	}
	return gaps
}
