package engine

// Fill costs applied by the simulator

type FeeModel interface {
	Compute(price, qty float64) float64
}

// RateFeeModel charges a fixed fraction of notional on every fill
type RateFeeModel struct{ Rate float64 }

func (m RateFeeModel) Compute(price, qty float64) float64 {
	return price * qty * m.Rate
}

type SlippageModel interface {
	Apply(sig Signal, price float64) float64
}

// PercentSlippage moves buys up and sells down by Pct percent. Hold is not
// filled and gets the raw price.
type PercentSlippage struct{ Pct float64 }

func (s PercentSlippage) Apply(sig Signal, price float64) float64 {
	switch sig {
	case SignalBuy:
		return price * (1 + s.Pct/100)
	case SignalSell:
		return price * (1 - s.Pct/100)
	}
	return price
}
