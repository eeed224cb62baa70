package model

import (
	"time"

	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID           string               `json:"id"`
	AccountID    string               `json:"account_id"`
	Symbol       string               `json:"symbol"`
	Side         types.Side           `json:"side"`
	LotSize      decimal.Decimal      `json:"lot_size"`
	EntryPrice   decimal.Decimal      `json:"entry_price"`
	CurrentPrice decimal.Decimal      `json:"current_price"`
	StopLoss     *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal     `json:"take_profit,omitempty"`
	PnL          decimal.Decimal      `json:"pnl"`
	Leverage     int                  `json:"leverage"`
	Margin       decimal.Decimal      `json:"margin"`
	EntryFee     decimal.Decimal      `json:"entry_fee"`
	Status       types.PositionStatus `json:"status"`
	CloseReason  types.CloseReason    `json:"close_reason,omitempty"`
	ExitPrice    *decimal.Decimal     `json:"exit_price,omitempty"`
	OpenTime     time.Time            `json:"open_time"`
	CloseTime    *time.Time           `json:"close_time,omitempty"`
}

func (p Position) IsOpen() bool {
	return p.Status == types.PositionStatusOpen
}

// TradeHistory is written once when a position closes.
type TradeHistory struct {
	ID         string            `json:"id"`
	PositionID string            `json:"position_id"`
	AccountID  string            `json:"account_id"`
	Symbol     string            `json:"symbol"`
	Side       types.Side        `json:"side"`
	LotSize    decimal.Decimal   `json:"lot_size"`
	EntryPrice decimal.Decimal   `json:"entry_price"`
	ExitPrice  decimal.Decimal   `json:"exit_price"`
	PnL        decimal.Decimal   `json:"pnl"`
	Fee        decimal.Decimal   `json:"fee"`
	Reason     types.CloseReason `json:"reason"`
	OpenTime   time.Time         `json:"open_time"`
	CloseTime  time.Time         `json:"close_time"`
}

type CommissionRecord struct {
	ID             string                   `json:"id"`
	PositionID     string                   `json:"position_id"`
	PayerAccountID string                   `json:"payer_account_id"`
	BeneficiaryID  string                   `json:"beneficiary_id"`
	RateType       types.CommissionRateType `json:"rate_type"`
	Rate           decimal.Decimal          `json:"rate"`
	Amount         decimal.Decimal          `json:"amount"`
	Status         types.CommissionStatus   `json:"status"`
	CreatedAt      time.Time                `json:"created_at"`
}
