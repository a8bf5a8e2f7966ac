package engine

import (
	"fmt"
	"math"
)

// macdConfidenceScale normalises |MACD - signal| into [0,1]. It is a fixed
// constant and does not adapt to the instrument's price scale.
const macdConfidenceScale = 10.0

// MACDStrategy trades MACD / signal line crossovers between the last two bars
type MACDStrategy struct {
	Fast   int
	Slow   int
	Signal int
}

// NewMACDStrategy creates a MACD crossover strategy
func NewMACDStrategy(fast, slow, signal int) *MACDStrategy {
	return &MACDStrategy{Fast: fast, Slow: slow, Signal: signal}
}

func DefaultMACDStrategy() *MACDStrategy { return NewMACDStrategy(12, 26, 9) }

func newMACDFromParams(params map[string]float64) (Strategy, error) {
	fast, err := intParam(params, "fast", 12)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow", 26)
	if err != nil {
		return nil, err
	}
	signal, err := intParam(params, "signal", 9)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, ErrInvalidParameter.WithDetails(fmt.Sprintf("fast %d must be below slow %d", fast, slow))
	}
	return NewMACDStrategy(fast, slow, signal), nil
}

func (s *MACDStrategy) Name() string { return "MACD" }

func (s *MACDStrategy) minBars() int {
	n := s.Fast
	if s.Slow > n {
		n = s.Slow
	}
	if s.Signal > n {
		n = s.Signal
	}
	return n + 1
}

type macdReading struct {
	prevMACD, prevSignal float64
	curMACD, curSignal   float64
}

func (s *MACDStrategy) read(candles []Candle) (macdReading, bool) {
	if len(candles) < s.minBars() {
		return macdReading{}, false
	}
	macdLine, signalLine := MACD(Closes(candles), s.Fast, s.Slow, s.Signal)
	n := len(candles)
	r := macdReading{
		prevMACD:   macdLine[n-2],
		prevSignal: signalLine[n-2],
		curMACD:    macdLine[n-1],
		curSignal:  signalLine[n-1],
	}
	for _, v := range []float64{r.prevMACD, r.prevSignal, r.curMACD, r.curSignal} {
		if math.IsNaN(v) {
			return macdReading{}, false
		}
	}
	return r, true
}

func (s *MACDStrategy) GenerateSignal(candles []Candle) Signal {
	r, ok := s.read(candles)
	if !ok {
		return SignalHold
	}
	if r.prevMACD <= r.prevSignal && r.curMACD > r.curSignal {
		return SignalBuy
	}
	if r.prevMACD >= r.prevSignal && r.curMACD < r.curSignal {
		return SignalSell
	}
	return SignalHold
}

func (s *MACDStrategy) Confidence(candles []Candle) float64 {
	r, ok := s.read(candles)
	if !ok {
		return 0
	}
	return math.Min(math.Abs(r.curMACD-r.curSignal)/macdConfidenceScale, 1.0)
}
