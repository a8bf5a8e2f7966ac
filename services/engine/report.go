package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RecentTradeCount is how many trades the report lists
const RecentTradeCount = 5

// RenderReport formats a result as plain text. Sections always appear in the
// order Summary, Risk Metrics, Trade Analysis, Recent Trades.
func RenderReport(r *BacktestResult) string {
	if r == nil {
		return "\nBACKTESTING REPORT\n" + strings.Repeat("=", 50) + "\n\nNo trades executed\n"
	}
	s, rm, ta := r.Summary, r.RiskMetrics, r.TradeAnalysis

	var b strings.Builder
	b.WriteString("\nBACKTESTING REPORT\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	b.WriteString("SUMMARY METRICS:\n")
	fmt.Fprintf(&b, "• Total Trades: %d\n", s.TotalTrades)
	fmt.Fprintf(&b, "• Win Rate: %s%%\n", round(s.WinRate, 2))
	fmt.Fprintf(&b, "• Total P&L: $%s\n", round(s.TotalPnL, 2))
	fmt.Fprintf(&b, "• Total Return: %s%%\n", round(s.TotalReturnPct, 2))
	fmt.Fprintf(&b, "• Final Balance: $%s\n\n", round(s.FinalBalance, 2))

	b.WriteString("RISK METRICS:\n")
	fmt.Fprintf(&b, "• Sharpe Ratio: %s\n", round(rm.SharpeRatio, 3))
	fmt.Fprintf(&b, "• Max Drawdown: %s%%\n", round(rm.MaxDrawdownPct, 2))
	fmt.Fprintf(&b, "• Volatility: %s%%\n\n", round(rm.Volatility, 2))

	b.WriteString("TRADE ANALYSIS:\n")
	fmt.Fprintf(&b, "• Average Win: $%s\n", round(ta.AvgWin, 2))
	fmt.Fprintf(&b, "• Average Loss: $%s\n", round(ta.AvgLoss, 2))
	fmt.Fprintf(&b, "• Profit Factor: %s\n", roundRatio(ta.ProfitFactor, 2))
	fmt.Fprintf(&b, "• Average Duration: %s minutes\n", round(ta.AvgDurationMinutes, 1))
	fmt.Fprintf(&b, "• Winning Trades: %d\n", ta.WinningTrades)
	fmt.Fprintf(&b, "• Losing Trades: %d\n\n", ta.LosingTrades)

	b.WriteString("RECENT TRADES:\n")
	recent := r.Trades
	if len(recent) > RecentTradeCount {
		recent = recent[len(recent)-RecentTradeCount:]
	}
	for _, t := range recent {
		sign := ""
		if t.PnL >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&b, "• %s @ $%s → $%s | P&L: %s$%s (%s%s%%)\n",
			t.Side, round(t.EntryPrice, 2), round(t.ExitPrice, 2),
			sign, round(t.PnL, 2), sign, round(t.PnLPct, 2))
	}
	return b.String()
}

// round is half away from zero at the given places
func round(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).StringFixed(places)
}

func roundRatio(r Ratio, places int32) string {
	if r.IsInf() {
		return "inf"
	}
	return round(float64(r), places)
}
