package model

import (
	"time"

	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	MarginUsed decimal.Decimal `json:"margin_used"`
	FreeMargin decimal.Decimal `json:"free_margin"`
	Leverage   int             `json:"leverage"`
	Currency   string          `json:"currency"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Wallet is the client-facing subset of Account.
type Wallet struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	MarginUsed decimal.Decimal `json:"marginUsed"`
	FreeMargin decimal.Decimal `json:"freeMargin"`
}

func (a Account) Wallet() Wallet {
	return Wallet{
		Balance:    a.Balance,
		Equity:     a.Equity,
		MarginUsed: a.MarginUsed,
		FreeMargin: a.FreeMargin,
	}
}

// Transaction is an immutable ledger row. Balance-neutral rows (margin
// lock/release) keep BalanceBefore == BalanceAfter and carry the margin in Amount.
type Transaction struct {
	ID            string                `json:"id"`
	AccountID     string                `json:"account_id"`
	PositionID    string                `json:"position_id,omitempty"`
	Type          types.TransactionType `json:"type"`
	Amount        decimal.Decimal       `json:"amount"`
	BalanceBefore decimal.Decimal       `json:"balance_before"`
	BalanceAfter  decimal.Decimal       `json:"balance_after"`
	Description   string                `json:"description"`
	CreatedAt     time.Time             `json:"created_at"`
}

func (t Transaction) Delta() decimal.Decimal {
	return t.BalanceAfter.Sub(t.BalanceBefore)
}
