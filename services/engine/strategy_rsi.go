package engine

import (
	"fmt"
	"math"
)

// RSIStrategy sells when RSI is overbought and buys when it is oversold
type RSIStrategy struct {
	Period     int
	Overbought float64
	Oversold   float64
}

// NewRSIStrategy creates an RSI threshold strategy
func NewRSIStrategy(period int, overbought, oversold float64) *RSIStrategy {
	return &RSIStrategy{Period: period, Overbought: overbought, Oversold: oversold}
}

func DefaultRSIStrategy() *RSIStrategy { return NewRSIStrategy(14, 70, 30) }

func newRSIFromParams(params map[string]float64) (Strategy, error) {
	period, err := intParam(params, "period", 14)
	if err != nil {
		return nil, err
	}
	ob := param(params, "overbought", 70)
	os := param(params, "oversold", 30)
	if os >= ob {
		return nil, ErrInvalidParameter.WithDetails(fmt.Sprintf("oversold %v must be below overbought %v", os, ob))
	}
	return NewRSIStrategy(period, ob, os), nil
}

func (s *RSIStrategy) Name() string { return "RSI" }

// Latest returns the RSI of the last bar, false when there is not enough history
func (s *RSIStrategy) Latest(candles []Candle) (float64, bool) {
	if len(candles) < s.Period {
		return 0, false
	}
	v := last(RSI(Closes(candles), s.Period))
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (s *RSIStrategy) GenerateSignal(candles []Candle) Signal {
	rsi, ok := s.Latest(candles)
	if !ok {
		return SignalHold
	}
	switch {
	case rsi > s.Overbought:
		return SignalSell
	case rsi < s.Oversold:
		return SignalBuy
	}
	return SignalHold
}

// Confidence scales linearly with the distance from the neutral 50
func (s *RSIStrategy) Confidence(candles []Candle) float64 {
	rsi, ok := s.Latest(candles)
	if !ok {
		return 0
	}
	return math.Abs(rsi-50) / 50
}
