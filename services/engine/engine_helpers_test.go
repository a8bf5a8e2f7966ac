package engine

import (
	"math"
	"time"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candlesFromCloses(closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			OpenTime: testStart.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return out
}

func flatCandles(n int, price float64) []Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return candlesFromCloses(closes...)
}

// fixedStrategy always returns the same vote
type fixedStrategy struct {
	sig  Signal
	conf float64
}

func (f fixedStrategy) Name() string { return "fixed" }
func (f fixedStrategy) GenerateSignal([]Candle) Signal { return f.sig }
func (f fixedStrategy) Confidence([]Candle) float64 { return f.conf }

// scriptedStrategy emits the signal scripted for the index of the last bar
type scriptedStrategy map[int]Signal

func (s scriptedStrategy) Name() string { return "scripted" }

func (s scriptedStrategy) GenerateSignal(candles []Candle) Signal {
	if sig, ok := s[len(candles)-1]; ok {
		return sig
	}
	return SignalHold
}

func (s scriptedStrategy) Confidence([]Candle) float64 { return 1 }

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }
