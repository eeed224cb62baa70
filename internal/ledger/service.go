// Package ledger owns the money fields of a trading account. Every mutation
// runs inside the caller's store.Tx, which already holds the account lock,
// and appends exactly one Transaction with before/after balances read in
// that same tx.
package ledger

import (
	"context"
	"fmt"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/instruments"
	"lv-tradecore/internal/metrics"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(st store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store: st,
		log:   logger.With().Str("component", "ledger").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type entry struct {
	positionID  string
	typ         types.TransactionType
	amount      decimal.Decimal
	description string
}

// apply mutates the locked account, refreshes the derived fields and appends
// the ledger row. Nothing is written when mutate fails.
func (s *Service) apply(ctx context.Context, tx store.Tx, e entry, mutate func(acc *model.Account) error) (model.Transaction, error) {
	acc, err := tx.Account(ctx)
	if err != nil {
		return model.Transaction{}, err
	}
	before := acc.Balance
	if err := mutate(&acc); err != nil {
		// a rejection aborts the unit of work and is never retried
		metrics.LedgerRejections.WithLabelValues(errs.Code(err)).Inc()
		return model.Transaction{}, err
	}
	if err := s.refresh(ctx, tx, &acc); err != nil {
		return model.Transaction{}, err
	}
	if err := tx.SaveAccount(ctx, acc); err != nil {
		return model.Transaction{}, errs.Storage("save account", err)
	}
	row, err := tx.AppendTransaction(ctx, model.Transaction{
		AccountID:     acc.ID,
		PositionID:    e.positionID,
		Type:          e.typ,
		Amount:        e.amount,
		BalanceBefore: before,
		BalanceAfter:  acc.Balance,
		Description:   e.description,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return model.Transaction{}, errs.Storage("append transaction", err)
	}
	tx.AfterCommit(func() {
		metrics.LedgerTransactions.WithLabelValues(string(e.typ)).Inc()
	})
	return row, nil
}

// refresh recomputes equity from the OPEN positions visible in tx and
// freeMargin from balance and marginUsed.
func (s *Service) refresh(ctx context.Context, tx store.Tx, acc *model.Account) error {
	open, err := tx.OpenPositions(ctx)
	if err != nil {
		return errs.Storage("load open positions", err)
	}
	unrealized := decimal.Zero
	for _, p := range open {
		unrealized = unrealized.Add(p.PnL)
	}
	acc.Equity = acc.Balance.Add(unrealized)
	acc.FreeMargin = acc.Balance.Sub(acc.MarginUsed)
	return nil
}

func requirePositive(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return errs.Invalid(what + " must be positive")
	}
	return nil
}

// LockMargin reserves amount against a new position.
func (s *Service) LockMargin(ctx context.Context, tx store.Tx, positionID string, amount decimal.Decimal) (model.Transaction, error) {
	if err := requirePositive(amount, "margin"); err != nil {
		return model.Transaction{}, err
	}
	return s.apply(ctx, tx, entry{
		positionID:  positionID,
		typ:         types.TransactionTypeMarginLock,
		amount:      amount,
		description: "margin locked",
	}, func(acc *model.Account) error {
		free := acc.Balance.Sub(acc.MarginUsed)
		if free.LessThan(amount) {
			return errs.InsufficientMargin(amount, free)
		}
		acc.MarginUsed = acc.MarginUsed.Add(amount)
		return nil
	})
}

// ReleaseMargin never fails on amount: marginUsed floors at zero.
func (s *Service) ReleaseMargin(ctx context.Context, tx store.Tx, positionID string, amount decimal.Decimal) (model.Transaction, error) {
	return s.apply(ctx, tx, entry{
		positionID:  positionID,
		typ:         types.TransactionTypeMarginRelease,
		amount:      amount,
		description: "margin released",
	}, func(acc *model.Account) error {
		used := acc.MarginUsed.Sub(amount)
		if used.IsNegative() {
			s.log.Warn().
				Str("account_id", acc.ID).
				Str("position_id", positionID).
				Str("margin_used", acc.MarginUsed.String()).
				Str("release", amount.String()).
				Msg("margin release exceeds margin used")
			used = decimal.Zero
		}
		acc.MarginUsed = used
		return nil
	})
}

// ApplyRealizedPnL may leave the balance negative.
func (s *Service) ApplyRealizedPnL(ctx context.Context, tx store.Tx, positionID string, delta decimal.Decimal) (model.Transaction, error) {
	return s.apply(ctx, tx, entry{
		positionID:  positionID,
		typ:         types.TransactionTypeRealizedPnL,
		amount:      delta,
		description: "realized pnl",
	}, func(acc *model.Account) error {
		acc.Balance = acc.Balance.Add(delta)
		return nil
	})
}

// ApplyFee debits amount. A pre-trade fee requires free margin to cover it;
// a post-trade fee is unconditional.
func (s *Service) ApplyFee(ctx context.Context, tx store.Tx, positionID string, amount decimal.Decimal, preTrade bool) (model.Transaction, error) {
	if amount.IsNegative() {
		return model.Transaction{}, errs.Invalid("fee must not be negative")
	}
	desc := "trade fee (exit)"
	if preTrade {
		desc = "trade fee (entry)"
	}
	return s.apply(ctx, tx, entry{
		positionID:  positionID,
		typ:         types.TransactionTypeTradeFee,
		amount:      amount.Neg(),
		description: desc,
	}, func(acc *model.Account) error {
		if preTrade {
			free := acc.Balance.Sub(acc.MarginUsed)
			if free.LessThan(amount) {
				return errs.InsufficientFunds(amount, free)
			}
		}
		acc.Balance = acc.Balance.Sub(amount)
		return nil
	})
}

// Revalue refreshes equity after a PnL update. It writes no Transaction
// because the balance does not move.
func (s *Service) Revalue(ctx context.Context, tx store.Tx) (model.Account, error) {
	acc, err := tx.Account(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if err := s.refresh(ctx, tx, &acc); err != nil {
		return model.Account{}, err
	}
	if err := tx.SaveAccount(ctx, acc); err != nil {
		return model.Account{}, errs.Storage("save account", err)
	}
	return acc, nil
}

// Adjust is the admin funding path: deposits are positive, withdrawals
// negative and limited by free margin.
func (s *Service) Adjust(ctx context.Context, accountID string, amount decimal.Decimal, description string) (model.Transaction, model.Account, error) {
	if amount.IsZero() {
		return model.Transaction{}, model.Account{}, errs.Invalid("amount must not be zero")
	}
	if description == "" {
		description = "admin adjustment"
	}
	var row model.Transaction
	var acc model.Account
	err := s.store.WithAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		var err error
		row, err = s.apply(ctx, tx, entry{
			typ:         types.TransactionTypeAdjustment,
			amount:      amount,
			description: description,
		}, func(a *model.Account) error {
			if amount.IsNegative() {
				free := a.Balance.Sub(a.MarginUsed)
				if free.LessThan(amount.Abs()) {
					return errs.InsufficientFunds(amount.Abs(), free)
				}
			}
			a.Balance = a.Balance.Add(amount)
			return nil
		})
		if err != nil {
			return err
		}
		acc, err = tx.Account(ctx)
		return err
	})
	if err != nil {
		return model.Transaction{}, model.Account{}, errs.Storage("adjust balance", err)
	}
	s.log.Info().
		Str("account_id", accountID).
		Str("amount", amount.String()).
		Str("balance", acc.Balance.String()).
		Msg("balance adjusted")
	return row, acc, nil
}

func (s *Service) Snapshot(ctx context.Context, accountID string) (model.Wallet, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Wallet{}, errs.Storage("get account", err)
	}
	return acc.Wallet(), nil
}

func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error) {
	rows, err := s.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, errs.Storage("list transactions", err)
	}
	return rows, nil
}

type Reconciliation struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Issues    []string        `json:"issues,omitempty"`
}

func (r Reconciliation) OK() bool {
	return len(r.Issues) == 0
}

// Verify checks the account against its open positions and its ledger while
// holding the account lock, so no operation is in flight.
func (s *Service) Verify(ctx context.Context, accountID string) (Reconciliation, error) {
	rep := Reconciliation{AccountID: accountID}
	err := s.store.WithAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		open, err := tx.OpenPositions(ctx)
		if err != nil {
			return errs.Storage("load open positions", err)
		}
		sum, err := s.store.SumTransactionDeltas(ctx, accountID)
		if err != nil {
			return errs.Storage("sum transactions", err)
		}
		rep.Balance = acc.Balance
		rep.LedgerSum = sum

		locked := decimal.Zero
		unrealized := decimal.Zero
		for _, p := range open {
			locked = locked.Add(instruments.RequiredMargin(p.LotSize, p.EntryPrice, p.Leverage, p.Symbol))
			unrealized = unrealized.Add(p.PnL)
		}
		if !acc.FreeMargin.Equal(acc.Balance.Sub(acc.MarginUsed)) {
			rep.Issues = append(rep.Issues, fmt.Sprintf("free margin %s != balance - margin used %s", acc.FreeMargin, acc.Balance.Sub(acc.MarginUsed)))
		}
		if !acc.MarginUsed.Equal(locked) {
			rep.Issues = append(rep.Issues, fmt.Sprintf("margin used %s != locked margin of open positions %s", acc.MarginUsed, locked))
		}
		if !acc.Equity.Equal(acc.Balance.Add(unrealized)) {
			rep.Issues = append(rep.Issues, fmt.Sprintf("equity %s != balance + unrealized %s", acc.Equity, acc.Balance.Add(unrealized)))
		}
		if !sum.Equal(acc.Balance) {
			rep.Issues = append(rep.Issues, fmt.Sprintf("ledger sum %s != balance %s", sum, acc.Balance))
		}
		return nil
	})
	if err != nil {
		return rep, errs.Storage("verify account", err)
	}
	if !rep.OK() {
		s.log.Error().Str("account_id", accountID).Strs("issues", rep.Issues).Msg("ledger reconciliation failed")
	}
	return rep, nil
}
