package engine

import (
	"fmt"
	"strings"
	"time"
)

// Candle represents a single OHLCV bar keyed by its open time
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Signal is the directional output of a strategy. The declaration order
// (Buy, Sell, Hold) is also the ensemble tie-break order.
type Signal int

const (
	SignalBuy Signal = iota
	SignalSell
	SignalHold
)

// Signals lists every signal in tie-break order
var Signals = []Signal{SignalBuy, SignalSell, SignalHold}

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	v, err := ParseSignal(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSignal maps BUY, SELL or HOLD to a Signal
func ParseSignal(v string) (Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SignalBuy, nil
	case "SELL":
		return SignalSell, nil
	case "HOLD", "":
		return SignalHold, nil
	}
	return SignalHold, fmt.Errorf("unknown signal %q", v)
}

// Side is the direction of an open position
type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "SHORT"
	}
	return "LONG"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LONG":
		*s = SideLong
	case "SHORT":
		*s = SideShort
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// Trade is an immutable record of a closed position
type Trade struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
}

// EquityPoint is one sample of the portfolio value
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"portfolio_value"`
}

// Closes extracts the close series
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
