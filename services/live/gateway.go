package live

import (
	"context"
	"fmt"

	"ensemble-backtest/services/engine"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest is a single order. Price is only read for LIMIT orders.
type OrderRequest struct {
	Side     OrderSide `json:"side"`
	Type     OrderType `json:"type"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price,omitempty"`
}

// Validate rejects requests that must never reach the network
func (r OrderRequest) Validate() error {
	if r.Side != OrderBuy && r.Side != OrderSell {
		return engine.ErrInvalidParameter.WithDetails(fmt.Sprintf("unknown order side %q", r.Side))
	}
	switch r.Type {
	case OrderMarket:
	case OrderLimit:
		if r.Price <= 0 {
			return engine.ErrInvalidParameter.WithDetails("price is required for LIMIT orders")
		}
	default:
		return engine.ErrInvalidParameter.WithDetails(fmt.Sprintf("unknown order type %q", r.Type))
	}
	if r.Quantity <= 0 {
		return engine.ErrZeroQuantity.WithDetails(fmt.Sprintf("quantity %v", r.Quantity))
	}
	return nil
}

type OrderResult struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	OrigQty       float64 `json:"orig_qty"`
	ExecutedQty   float64 `json:"executed_qty"`
	AvgPrice      float64 `json:"avg_price"`
	Status        string  `json:"status"`
}

// Gateway is the exchange connectivity the trading loop depends on. Failures
// are *engine.Error values: DATA_UNAVAILABLE for market data,
// INVALID_PARAMETER / ZERO_QUANTITY / ORDER_REJECTED for orders.
type Gateway interface {
	HistoricalData(ctx context.Context, interval string, limit int) ([]engine.Candle, error)
	CurrentPrice(ctx context.Context) (float64, error)
	AccountBalance(ctx context.Context, asset string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
