package engine

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Position is the single open position slot
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// UnrealizedPnL is side-aware: LONG (price-entry)*size, SHORT (entry-price)*size
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Size
	}
	return (price - p.EntryPrice) * p.Size
}

// PnLPercentage is unrealized P&L relative to entry notional
func (p Position) PnLPercentage(price float64) float64 {
	notional := p.EntryPrice * p.Size
	if notional == 0 {
		return 0
	}
	return p.UnrealizedPnL(price) / notional * 100
}

// PositionStatus is a read-only projection of the manager
type PositionStatus struct {
	InPosition    bool     `json:"in_position"`
	Symbol        string   `json:"symbol,omitempty"`
	Side          *Side    `json:"side,omitempty"`
	Size          float64  `json:"size"`
	EntryPrice    float64  `json:"entry_price"`
	TotalPnL      float64  `json:"total_pnl"`
	TradeCount    int      `json:"trade_count"`
	TradeHistory  []Trade  `json:"trade_history"`
	CurrentPrice  *float64 `json:"current_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
	PnLPercentage *float64 `json:"pnl_percentage,omitempty"`
}

// PositionManager owns the open position and the append-only trade history.
// It is not safe for concurrent use; the live loop and the simulator each
// drive their own instance from one goroutine.
type PositionManager struct {
	logger   *zap.Logger
	current  *Position
	trades   []Trade
	totalPnL float64
}

// NewPositionManager creates a manager with no open position
func NewPositionManager(logger *zap.Logger) *PositionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionManager{logger: logger}
}

// OpenPosition fills the slot. It fails with DUPLICATE_POSITION_STATE and
// leaves the state unchanged when a position is already open.
func (m *PositionManager) OpenPosition(symbol string, side Side, size, price float64, at time.Time) error {
	if m.current != nil {
		m.logger.Warn("Position already open",
			zap.String("symbol", m.current.Symbol),
			zap.Stringer("side", m.current.Side),
		)
		return ErrDuplicatePositionState.WithDetails("position already open for " + m.current.Symbol)
	}
	size = math.Abs(size)
	if size == 0 || price <= 0 {
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("size %v and price %v must be positive", size, price))
	}
	m.current = &Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: price,
		EntryTime:  at,
	}
	m.logger.Info("Opened position",
		zap.String("symbol", symbol),
		zap.Stringer("side", side),
		zap.Float64("size", size),
		zap.Float64("price", price),
	)
	return nil
}

// ClosePosition realizes the P&L at exitPrice, appends one Trade and clears
// the slot. On a closed manager it returns 0 and DUPLICATE_POSITION_STATE.
func (m *PositionManager) ClosePosition(exitPrice float64, at time.Time) (float64, error) {
	if m.current == nil {
		m.logger.Warn("No position to close")
		return 0, ErrDuplicatePositionState.WithDetails("no open position")
	}
	p := *m.current
	realized := p.UnrealizedPnL(exitPrice)
	m.totalPnL += realized
	m.trades = append(m.trades, Trade{
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       p.Size,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		PnL:        realized,
	})
	m.current = nil
	m.logger.Info("Closed position",
		zap.String("symbol", p.Symbol),
		zap.Stringer("side", p.Side),
		zap.Float64("pnl", realized),
		zap.Float64("total_pnl", m.totalPnL),
	)
	return realized, nil
}

// Current returns a copy of the open position
func (m *PositionManager) Current() (Position, bool) {
	if m.current == nil {
		return Position{}, false
	}
	return *m.current, true
}

func (m *PositionManager) InPosition() bool { return m.current != nil }

func (m *PositionManager) TotalPnL() float64 { return m.totalPnL }

func (m *PositionManager) TradeCount() int { return len(m.trades) }

// Trades returns a copy of the trade history
func (m *PositionManager) Trades() []Trade {
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// Status projects the manager state. Price dependent fields are only set
// when a position is open and currentPrice > 0.
func (m *PositionManager) Status(currentPrice float64) PositionStatus {
	st := PositionStatus{
		InPosition:   m.current != nil,
		TotalPnL:     m.totalPnL,
		TradeCount:   len(m.trades),
		TradeHistory: m.Trades(),
	}
	if m.current == nil {
		return st
	}
	p := *m.current
	side := p.Side
	st.Symbol = p.Symbol
	st.Side = &side
	st.Size = p.Size
	st.EntryPrice = p.EntryPrice
	if currentPrice > 0 {
		upnl := p.UnrealizedPnL(currentPrice)
		pct := p.PnLPercentage(currentPrice)
		price := currentPrice
		st.CurrentPrice = &price
		st.UnrealizedPnL = &upnl
		st.PnLPercentage = &pct
	}
	return st
}
