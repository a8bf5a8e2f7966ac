package gateway

import (
	"errors"
	"testing"

	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/live"
)

func TestEnforceFilters(t *testing.T) {
	f := SymbolFilters{QtyStep: 0.001, PriceTick: 0.1, NotionalMin: 5}
	cases := []struct {
		name      string
		req       live.OrderRequest
		mark      float64
		wantQty   string
		wantPrice string
		wantErr   error
	}{
		{"floor", live.OrderRequest{Side: live.OrderBuy, Type: live.OrderMarket, Quantity: 0.0039999}, 50000, "0.003", "0", nil},
		{"limit tick", live.OrderRequest{Side: live.OrderSell, Type: live.OrderLimit, Quantity: 0.01, Price: 50000.06}, 0, "0.01", "50000.1", nil},
		{"dust", live.OrderRequest{Side: live.OrderBuy, Type: live.OrderMarket, Quantity: 0.0009}, 50000, "", "", engine.ErrZeroQuantity},
		{"no price", live.OrderRequest{Side: live.OrderBuy, Type: live.OrderLimit, Quantity: 1}, 0, "", "", engine.ErrInvalidParameter},
		{"notional", live.OrderRequest{Side: live.OrderBuy, Type: live.OrderMarket, Quantity: 0.001}, 1000, "", "", engine.ErrOrderRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			qty, price, err := EnforceFilters(f, tc.req, tc.mark)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if qty.String() != tc.wantQty || price.String() != tc.wantPrice {
				t.Fatalf("qty=%s price=%s", qty, price)
			}
		})
	}
}
