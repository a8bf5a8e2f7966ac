package live

import (
	"sync"
	"time"

	"ensemble-backtest/services/engine"
)

const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusWaiting  = "waiting for data"
	StatusHalted   = "halted: daily loss limit"
	StatusStopped  = "stopped"
)

// PnLPoint is one step of the cumulative realized P&L
type PnLPoint struct {
	Time          time.Time `json:"time"`
	CumulativePnL float64   `json:"cumulative_pnl"`
}

// Snapshot is what the dashboard publishes
type Snapshot struct {
	Status     string                   `json:"status"`
	Symbol     string                   `json:"symbol"`
	Price      float64                  `json:"price"`
	Position   engine.PositionStatus    `json:"position"`
	Analysis   *engine.EnsembleAnalysis `json:"analysis,omitempty"`
	Risk       engine.RiskSnapshot      `json:"risk"`
	PnLHistory []PnLPoint               `json:"pnl_history"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// SnapshotUpdate carries the fields to change; nil fields are left alone
type SnapshotUpdate struct {
	Status    *string
	Symbol    *string
	Price     *float64
	Position  *engine.PositionStatus
	Analysis  *engine.EnsembleAnalysis
	Risk      *engine.RiskSnapshot
	AppendPnL *PnLPoint
	At        time.Time
}

// StateStore serializes access to the shared snapshot between the trading
// loop and the publisher. Callers only ever see copies.
type StateStore struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewStateStore() *StateStore {
	return &StateStore{snap: Snapshot{Status: StatusStarting, PnLHistory: []PnLPoint{}}}
}

func (s *StateStore) ReadSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snap)
}

func (s *StateStore) WriteSnapshot(u SnapshotUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status != nil {
		s.snap.Status = *u.Status
	}
	if u.Symbol != nil {
		s.snap.Symbol = *u.Symbol
	}
	if u.Price != nil {
		s.snap.Price = *u.Price
	}
	if u.Position != nil {
		s.snap.Position = copyPosition(*u.Position)
	}
	if u.Analysis != nil {
		a := copyAnalysis(*u.Analysis)
		s.snap.Analysis = &a
	}
	if u.Risk != nil {
		s.snap.Risk = *u.Risk
	}
	if u.AppendPnL != nil {
		s.snap.PnLHistory = append(s.snap.PnLHistory, *u.AppendPnL)
	}
	if !u.At.IsZero() {
		s.snap.UpdatedAt = u.At
	}
}

func copySnapshot(in Snapshot) Snapshot {
	out := in
	out.Position = copyPosition(in.Position)
	if in.Analysis != nil {
		a := copyAnalysis(*in.Analysis)
		out.Analysis = &a
	}
	out.PnLHistory = append([]PnLPoint{}, in.PnLHistory...)
	return out
}

func copyPosition(in engine.PositionStatus) engine.PositionStatus {
	out := in
	out.TradeHistory = append([]engine.Trade{}, in.TradeHistory...)
	out.Side = copyPtr(in.Side)
	out.CurrentPrice = copyPtr(in.CurrentPrice)
	out.UnrealizedPnL = copyPtr(in.UnrealizedPnL)
	out.PnLPercentage = copyPtr(in.PnLPercentage)
	return out
}

func copyAnalysis(in engine.EnsembleAnalysis) engine.EnsembleAnalysis {
	out := in
	out.Breakdown = make(map[string]engine.StrategyVote, len(in.Breakdown))
	for k, v := range in.Breakdown {
		out.Breakdown[k] = v
	}
	out.WeightedVotes = make(map[engine.Signal]float64, len(in.WeightedVotes))
	for k, v := range in.WeightedVotes {
		out.WeightedVotes[k] = v
	}
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
