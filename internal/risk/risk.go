// Package risk recomputes position PnL from a server-side price and decides
// whether a stop-loss or take-profit level has been crossed.
package risk

import (
	"lv-tradecore/internal/instruments"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Input struct {
	Side         types.Side
	EntryPrice   decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	CurrentPrice decimal.Decimal
}

type Decision struct {
	ShouldClose bool              `json:"shouldClose"`
	Reason      types.CloseReason `json:"reason,omitempty"`
}

// Evaluate checks SL before TP. Levels on the wrong side of entry are ignored.
func Evaluate(in Input) Decision {
	if stopLossHit(in) {
		return Decision{ShouldClose: true, Reason: types.CloseReasonSL}
	}
	if takeProfitHit(in) {
		return Decision{ShouldClose: true, Reason: types.CloseReasonTP}
	}
	return Decision{}
}

func stopLossHit(in Input) bool {
	if in.StopLoss == nil || !in.StopLoss.IsPositive() {
		return false
	}
	sl := *in.StopLoss
	switch in.Side {
	case types.SideBuy:
		return sl.LessThan(in.EntryPrice) && in.CurrentPrice.LessThanOrEqual(sl)
	case types.SideSell:
		return sl.GreaterThan(in.EntryPrice) && in.CurrentPrice.GreaterThanOrEqual(sl)
	}
	return false
}

func takeProfitHit(in Input) bool {
	if in.TakeProfit == nil || !in.TakeProfit.IsPositive() {
		return false
	}
	tp := *in.TakeProfit
	switch in.Side {
	case types.SideBuy:
		return tp.GreaterThan(in.EntryPrice) && in.CurrentPrice.GreaterThanOrEqual(tp)
	case types.SideSell:
		return tp.LessThan(in.EntryPrice) && in.CurrentPrice.LessThanOrEqual(tp)
	}
	return false
}

// PnL is (current - entry) × lot × contractSize, negated for SELL.
func PnL(side types.Side, symbol string, lot, entry, current decimal.Decimal) decimal.Decimal {
	diff := current.Sub(entry)
	if side == types.SideSell {
		diff = diff.Neg()
	}
	return instruments.Money(diff.Mul(lot).Mul(instruments.ContractSize(symbol)))
}
