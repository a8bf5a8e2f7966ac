package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// MinEnsembleVote is the floor a non-HOLD winner must reach. A vote exactly
// at the floor keeps its signal.
const MinEnsembleVote = 0.3

// EnsembleMember is one weighted sub-strategy
type EnsembleMember struct {
	Name     string
	Strategy Strategy
	Weight   float64
}

// StrategyVote is the per-strategy breakdown of one analysis
type StrategyVote struct {
	Name               string  `json:"name"`
	Signal             Signal  `json:"signal"`
	Confidence         float64 `json:"confidence"`
	Weight             float64 `json:"weight"`
	WeightedConfidence float64 `json:"weighted_confidence"`
}

// EnsembleAnalysis is the full result of a weighted vote
type EnsembleAnalysis struct {
	FinalSignal     Signal                  `json:"final_signal"`
	Breakdown       map[string]StrategyVote `json:"strategy_breakdown"`
	WeightedVotes   map[Signal]float64      `json:"weighted_votes"`
	TotalConfidence float64                 `json:"total_confidence"`
}

// Ensemble combines weighted strategies by confidence voting
type Ensemble struct {
	members []EnsembleMember
	logger  *zap.Logger
}

// NewEnsemble creates a weighted-vote ensemble over the given members
func NewEnsemble(logger *zap.Logger, members ...EnsembleMember) *Ensemble {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ensemble{members: members, logger: logger}
}

// DefaultEnsemble is RSI(14,70,30) weighted 0.6 and MACD(12,26,9) weighted 0.4
func DefaultEnsemble(logger *zap.Logger) *Ensemble {
	return NewEnsemble(logger,
		EnsembleMember{Name: "RSI", Strategy: DefaultRSIStrategy(), Weight: 0.6},
		EnsembleMember{Name: "MACD", Strategy: DefaultMACDStrategy(), Weight: 0.4},
	)
}

func newEnsembleFromParams(params map[string]float64) (Strategy, error) {
	rsi, err := newRSIFromParams(params)
	if err != nil {
		return nil, err
	}
	macd, err := newMACDFromParams(params)
	if err != nil {
		return nil, err
	}
	rw := param(params, "rsi_weight", 0.6)
	mw := param(params, "macd_weight", 0.4)
	if rw <= 0 || mw <= 0 {
		return nil, ErrInvalidParameter.WithDetails(fmt.Sprintf("ensemble weights must be positive, got rsi=%v macd=%v", rw, mw))
	}
	return NewEnsemble(nil,
		EnsembleMember{Name: "RSI", Strategy: rsi, Weight: rw},
		EnsembleMember{Name: "MACD", Strategy: macd, Weight: mw},
	), nil
}

// WithLogger swaps the analysis logger
func (e *Ensemble) WithLogger(logger *zap.Logger) *Ensemble {
	if logger != nil {
		e.logger = logger
	}
	return e
}

func (e *Ensemble) Members() []EnsembleMember {
	out := make([]EnsembleMember, len(e.members))
	copy(out, e.members)
	return out
}

// Analyze runs every member and votes. The winner is the signal with the
// largest accumulated weighted confidence; ties go to the first signal in
// Buy, Sell, Hold order.
func (e *Ensemble) Analyze(candles []Candle) EnsembleAnalysis {
	votes := map[Signal]float64{SignalBuy: 0, SignalSell: 0, SignalHold: 0}
	breakdown := make(map[string]StrategyVote, len(e.members))
	total := 0.0

	for _, m := range e.members {
		sig := m.Strategy.GenerateSignal(candles)
		conf := m.Strategy.Confidence(candles)
		weighted := conf * m.Weight
		breakdown[m.Name] = StrategyVote{
			Name:               m.Name,
			Signal:             sig,
			Confidence:         conf,
			Weight:             m.Weight,
			WeightedConfidence: weighted,
		}
		votes[sig] += weighted
		total += weighted
	}

	final := SignalBuy
	for _, s := range Signals[1:] {
		if votes[s] > votes[final] {
			final = s
		}
	}
	if final != SignalHold && votes[final] < MinEnsembleVote {
		final = SignalHold
	}

	analysis := EnsembleAnalysis{
		FinalSignal:     final,
		Breakdown:       breakdown,
		WeightedVotes:   votes,
		TotalConfidence: total,
	}

	e.logger.Debug("Ensemble analysis",
		zap.Stringer("signal", final),
		zap.Float64("total_confidence", total),
	)
	for _, m := range e.members {
		v := breakdown[m.Name]
		e.logger.Debug("Ensemble member",
			zap.String("strategy", v.Name),
			zap.Stringer("signal", v.Signal),
			zap.Float64("confidence", v.Confidence),
		)
	}
	return analysis
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) GenerateSignal(candles []Candle) Signal {
	return e.Analyze(candles).FinalSignal
}

// Confidence is the accumulated vote of the final signal
func (e *Ensemble) Confidence(candles []Candle) float64 {
	a := e.Analyze(candles)
	return a.WeightedVotes[a.FinalSignal]
}
