// Package store declares the persistence contract of the trading core.
//
// Every mutation of an account and its positions happens inside WithAccount,
// which holds that account exclusively until fn returns. A non-nil error from
// fn discards every write made through the Tx.
package store

import (
	"context"

	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Store interface {
	CreateAccount(ctx context.Context, acc model.Account) (model.Account, error)
	GetAccount(ctx context.Context, accountID string) (model.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]model.Account, error)

	GetPosition(ctx context.Context, accountID, positionID string) (model.Position, error)
	// ListPositions returns all positions when status is empty.
	ListPositions(ctx context.Context, accountID string, status types.PositionStatus) ([]model.Position, error)
	ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error)
	// SumTransactionDeltas is Σ(balance_after - balance_before) over the
	// account's whole ledger.
	SumTransactionDeltas(ctx context.Context, accountID string) (decimal.Decimal, error)
	ListTradeHistory(ctx context.Context, accountID string, limit int) ([]model.TradeHistory, error)

	// RecordCommission stores rec at most once per position and credits the
	// beneficiary's earnings wallet. created is false for a duplicate.
	RecordCommission(ctx context.Context, rec model.CommissionRecord) (saved model.CommissionRecord, created bool, err error)
	IBEarnings(ctx context.Context, beneficiaryID string) (decimal.Decimal, error)

	WithAccount(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is scoped to the locked account. Position lookups for ids owned by
// another account report errs.ErrPositionNotFound.
type Tx interface {
	Account(ctx context.Context) (model.Account, error)
	SaveAccount(ctx context.Context, acc model.Account) error
	AppendTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error)

	Position(ctx context.Context, positionID string) (model.Position, error)
	InsertPosition(ctx context.Context, p model.Position) (model.Position, error)
	SavePosition(ctx context.Context, p model.Position) error
	OpenPositions(ctx context.Context) ([]model.Position, error)

	InsertTradeHistory(ctx context.Context, h model.TradeHistory) (model.TradeHistory, error)

	// AfterCommit queues fn to run once the unit of work has committed.
	// A rolled-back or retried attempt drops its queue.
	AfterCommit(fn func())
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
