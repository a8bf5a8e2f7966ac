package live

import (
	"sync"
	"testing"
	"time"

	"ensemble-backtest/services/engine"
)

func TestSnapshotIsCopied(t *testing.T) {
	s := NewStateStore()
	side := engine.SideLong
	s.WriteSnapshot(SnapshotUpdate{
		Position: &engine.PositionStatus{InPosition: true, Side: &side, TradeHistory: []engine.Trade{{PnL: 1}}},
		Analysis: &engine.EnsembleAnalysis{
			FinalSignal:   engine.SignalBuy,
			Breakdown:     map[string]engine.StrategyVote{"RSI": {Name: "RSI"}},
			WeightedVotes: map[engine.Signal]float64{engine.SignalBuy: 0.5},
		},
		AppendPnL: &PnLPoint{CumulativePnL: 1},
	})

	snap := s.ReadSnapshot()
	snap.PnLHistory[0].CumulativePnL = 99
	snap.Position.TradeHistory[0].PnL = 99
	*snap.Position.Side = engine.SideShort
	snap.Analysis.WeightedVotes[engine.SignalBuy] = 99

	again := s.ReadSnapshot()
	if again.PnLHistory[0].CumulativePnL != 1 || again.Position.TradeHistory[0].PnL != 1 ||
		*again.Position.Side != engine.SideLong || again.Analysis.WeightedVotes[engine.SignalBuy] != 0.5 {
		t.Fatalf("snapshot mutated through a copy: %+v", again)
	}
}

func TestWriteSnapshotPartial(t *testing.T) {
	s := NewStateStore()
	status := StatusRunning
	price := 10.0
	at := time.Unix(100, 0)
	s.WriteSnapshot(SnapshotUpdate{Status: &status, At: at})
	s.WriteSnapshot(SnapshotUpdate{Price: &price})
	snap := s.ReadSnapshot()
	if snap.Status != StatusRunning || snap.Price != 10 || !snap.UpdatedAt.Equal(at) {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStateStoreConcurrentAccess(t *testing.T) {
	s := NewStateStore()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.WriteSnapshot(SnapshotUpdate{AppendPnL: &PnLPoint{CumulativePnL: float64(i)}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := s.ReadSnapshot()
			for j, p := range snap.PnLHistory {
				if p.CumulativePnL != float64(j) {
					t.Errorf("torn read at %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()
	if n := len(s.ReadSnapshot().PnLHistory); n != 500 {
		t.Fatalf("history length = %d", n)
	}
}
