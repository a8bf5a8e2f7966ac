package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/live"
)

// SymbolFilters are the exchange precision constraints for one symbol
type SymbolFilters struct {
	QtyStep     float64 `yaml:"qty_step" json:"qty_step"`
	PriceTick   float64 `yaml:"price_tick" json:"price_tick"`
	NotionalMin float64 `yaml:"notional_min" json:"notional_min"`
}

// floorStep rounds v down to a multiple of step in decimal arithmetic so
// 0.0039999 with step 0.001 gives 0.003 rather than a binary artefact
func floorStep(v, step float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s)
}

// roundStep rounds v to the nearest multiple of step
func roundStep(v, step float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Round(0).Mul(s)
}

// EnforceFilters validates req and rounds it to the symbol constraints. The
// returned decimals are what goes on the wire.
func EnforceFilters(f SymbolFilters, req live.OrderRequest, markPrice float64) (qty, price decimal.Decimal, err error) {
	if err := req.Validate(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	qty = floorStep(req.Quantity, f.QtyStep)
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, engine.ErrZeroQuantity.WithDetails(fmt.Sprintf("%v rounds to 0 with step %v", req.Quantity, f.QtyStep))
	}
	ref := markPrice
	if req.Type == live.OrderLimit {
		price = roundStep(req.Price, f.PriceTick)
		ref = price.InexactFloat64()
	}
	if f.NotionalMin > 0 && ref > 0 && qty.InexactFloat64()*ref < f.NotionalMin {
		return decimal.Zero, decimal.Zero, engine.ErrOrderRejected.WithDetails(fmt.Sprintf("notional %.2f below minimum %.2f", qty.InexactFloat64()*ref, f.NotionalMin))
	}
	return qty, price, nil
}
