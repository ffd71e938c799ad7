package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeReport summarises closed positions.
type TradeReport struct {
	ClosedTrades int              `json:"closed_trades"`
	Wins         int              `json:"wins"`
	Losses       int              `json:"losses"`
	WinRate      decimal.Decimal  `json:"win_rate"` // percent
	TotalPnL     decimal.Decimal  `json:"total_pnl"`
	GrossProfit  decimal.Decimal  `json:"gross_profit"`
	GrossLoss    decimal.Decimal  `json:"gross_loss"`
	ProfitFactor *decimal.Decimal `json:"profit_factor"` // nil when there are no losses
}

// BuildTradeReport aggregates closed positions. Open positions are ignored.
// A zero P&L counts as neither win nor loss.
func BuildTradeReport(positions []*Position) TradeReport {
	var rep TradeReport
	for _, p := range positions {
		if p.Status != PositionClosed || p.PnL == nil {
			continue
		}
		rep.ClosedTrades++
		pnl := *p.PnL
		rep.TotalPnL = rep.TotalPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			rep.Wins++
			rep.GrossProfit = rep.GrossProfit.Add(pnl)
		case pnl.IsNegative():
			rep.Losses++
			rep.GrossLoss = rep.GrossLoss.Add(pnl.Neg())
		}
	}
	if rep.ClosedTrades > 0 {
		rep.WinRate = decimal.NewFromInt(int64(rep.Wins)).
			Div(decimal.NewFromInt(int64(rep.ClosedTrades))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}
	if rep.GrossLoss.IsPositive() {
		pf := rep.GrossProfit.Div(rep.GrossLoss).Round(4)
		rep.ProfitFactor = &pf
	}
	return rep
}

// PriceSource holds a single exchange price reading used for weighted averaging.
type PriceSource struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"` // 0–100 integer stored as decimal
	FetchedAt time.Time       `json:"fetched_at"`
}
