package types

import "strings"

type Side string

type PositionStatus string

type TransactionType string

type CloseReason string

type FeeModel string

type ChargeType string

type CommissionRateType string

type CommissionStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

const (
	TransactionTypeMarginLock    TransactionType = "margin_lock"
	TransactionTypeMarginRelease TransactionType = "margin_release"
	TransactionTypeTradeFee      TransactionType = "trade_fee"
	TransactionTypeRealizedPnL   TransactionType = "realized_pnl"
	TransactionTypeAdjustment    TransactionType = "admin_adjustment"
)

const (
	CloseReasonNone   CloseReason = ""
	CloseReasonSL     CloseReason = "SL"
	CloseReasonTP     CloseReason = "TP"
	CloseReasonManual CloseReason = "MANUAL"
	CloseReasonBulk   CloseReason = "CLOSE_ALL"
)

const (
	FeeModelEntry FeeModel = "entry"
	FeeModelExit  FeeModel = "exit"
)

const (
	ChargeTypeFixed  ChargeType = "FIXED"
	ChargeTypePerLot ChargeType = "PER_LOT"
)

const (
	CommissionPerLot        CommissionRateType = "PER_LOT"
	CommissionPercentSpread CommissionRateType = "PERCENT_SPREAD"
	CommissionPercentProfit CommissionRateType = "PERCENT_PROFIT"
)

// A pending commission is already credited to the IB earnings wallet; paid
// means it was paid out of that wallet.
const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

// ParseSide accepts any casing of buy/sell.
func ParseSide(raw string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

func ParseFeeModel(raw string) (FeeModel, bool) {
	switch FeeModel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FeeModelEntry:
		return FeeModelEntry, true
	case FeeModelExit:
		return FeeModelExit, true
	}
	return "", false
}
