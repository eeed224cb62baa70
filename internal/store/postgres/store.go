package postgres

import (
	"context"
	"errors"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var _ store.Store = (*Store)(nil)

const accountCols = "id, user_id, balance, equity, margin_used, free_margin, leverage, currency, is_active, created_at, updated_at"

const positionCols = `id, account_id, symbol, side, lot_size, entry_price, current_price, stop_loss, take_profit,
	pnl, leverage, margin, entry_fee, status, close_reason, exit_price, open_time, close_time`

const transactionCols = "id, account_id, position_id, type, amount, balance_before, balance_after, description, created_at"

const historyCols = "id, position_id, account_id, symbol, side, lot_size, entry_price, exit_price, pnl, fee, reason, open_time, close_time"

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Equity, &a.MarginUsed, &a.FreeMargin, &a.Leverage, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status, reason string
	err := row.Scan(&p.ID, &p.AccountID, &p.Symbol, &side, &p.LotSize, &p.EntryPrice, &p.CurrentPrice, &p.StopLoss, &p.TakeProfit,
		&p.PnL, &p.Leverage, &p.Margin, &p.EntryFee, &status, &reason, &p.ExitPrice, &p.OpenTime, &p.CloseTime)
	if err != nil {
		return model.Position{}, err
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	p.CloseReason = types.CloseReason(reason)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()
	out := make([]model.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (model.Transaction, error) {
	var t model.Transaction
	var positionID *string
	var typ string
	err := row.Scan(&t.ID, &t.AccountID, &positionID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.CreatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	if positionID != nil {
		t.PositionID = *positionID
	}
	t.Type = types.TransactionType(typ)
	return t, nil
}

func scanHistory(row pgx.Row) (model.TradeHistory, error) {
	var h model.TradeHistory
	var side, reason string
	err := row.Scan(&h.ID, &h.PositionID, &h.AccountID, &h.Symbol, &side, &h.LotSize, &h.EntryPrice, &h.ExitPrice, &h.PnL, &h.Fee, &reason, &h.OpenTime, &h.CloseTime)
	if err != nil {
		return model.TradeHistory{}, err
	}
	h.Side = types.Side(side)
	h.Reason = types.CloseReason(reason)
	return h, nil
}

// validID keeps malformed ids away from uuid columns, where they would
// surface as driver errors instead of not-found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// retryable reports serialization failures and deadlocks, which are safe
// to retry because the whole unit of work was rolled back.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func (s *Store) CreateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	_, err := s.pool.Exec(ctx, "insert into trading_accounts ("+accountCols+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)",
		acc.ID, acc.UserID, acc.Balance, acc.Equity, acc.MarginUsed, acc.FreeMargin, acc.Leverage, acc.Currency, acc.IsActive, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return model.Account{}, errs.Storage("insert account", err)
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	if !validID(accountID) {
		return model.Account{}, errs.ErrAccountNotFound
	}
	acc, err := scanAccount(s.pool.QueryRow(ctx, "select "+accountCols+" from trading_accounts where id = $1", accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, errs.ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, errs.Storage("get account", err)
	}
	return acc, nil
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, "select "+accountCols+" from trading_accounts where user_id = $1 order by created_at", userID)
	if err != nil {
		return nil, errs.Storage("list accounts", err)
	}
	defer rows.Close()
	out := make([]model.Account, 0, 2)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, errs.Storage("scan account", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list accounts", err)
	}
	return out, nil
}

func (s *Store) GetPosition(ctx context.Context, accountID, positionID string) (model.Position, error) {
	if !validID(accountID) || !validID(positionID) {
		return model.Position{}, errs.ErrPositionNotFound
	}
	p, err := scanPosition(s.pool.QueryRow(ctx, "select "+positionCols+" from positions where id = $1 and account_id = $2", positionID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, errs.ErrPositionNotFound
	}
	if err != nil {
		return model.Position{}, errs.Storage("get position", err)
	}
	return p, nil
}

func (s *Store) ListPositions(ctx context.Context, accountID string, status types.PositionStatus) ([]model.Position, error) {
	if !validID(accountID) {
		return []model.Position{}, nil
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, "select "+positionCols+" from positions where account_id = $1 order by open_time desc", accountID)
	} else {
		rows, err = s.pool.Query(ctx, "select "+positionCols+" from positions where account_id = $1 and status = $2 order by open_time desc", accountID, string(status))
	}
	if err != nil {
		return nil, errs.Storage("list positions", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, errs.Storage("scan positions", err)
	}
	return out, nil
}

func (s *Store) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionCols+" from positions where symbol = $1 and status = 'OPEN' order by open_time", symbol)
	if err != nil {
		return nil, errs.Storage("list open positions", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, errs.Storage("scan positions", err)
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.Transaction, error) {
	if !validID(accountID) {
		return []model.Transaction{}, nil
	}
	rows, err := s.pool.Query(ctx, "select "+transactionCols+" from transactions where account_id = $1 order by seq desc limit $2", accountID, store.ClampLimit(limit))
	if err != nil {
		return nil, errs.Storage("list transactions", err)
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errs.Storage("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list transactions", err)
	}
	return out, nil
}

func (s *Store) SumTransactionDeltas(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, "select coalesce(sum(balance_after - balance_before), 0) from transactions where account_id = $1", accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, errs.Storage("sum transactions", err)
	}
	return sum, nil
}

func (s *Store) ListTradeHistory(ctx context.Context, accountID string, limit int) ([]model.TradeHistory, error) {
	if !validID(accountID) {
		return []model.TradeHistory{}, nil
	}
	rows, err := s.pool.Query(ctx, "select "+historyCols+" from trade_history where account_id = $1 order by close_time desc limit $2", accountID, store.ClampLimit(limit))
	if err != nil {
		return nil, errs.Storage("list trade history", err)
	}
	defer rows.Close()
	out := make([]model.TradeHistory, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, errs.Storage("scan trade history", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list trade history", err)
	}
	return out, nil
}

// RecordCommission relies on the unique position_id: a second insert is a
// no-op and the earnings wallet is only credited by the first.
func (s *Store) RecordCommission(ctx context.Context, rec model.CommissionRecord) (model.CommissionRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = types.CommissionStatusPending
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.CommissionRecord{}, false, errs.Storage("begin commission", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `insert into commission_records (id, position_id, payer_account_id, beneficiary_id, rate_type, rate, amount, status, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9) on conflict (position_id) do nothing`,
		rec.ID, rec.PositionID, rec.PayerAccountID, rec.BeneficiaryID, string(rec.RateType), rec.Rate, rec.Amount, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return model.CommissionRecord{}, false, errs.Storage("insert commission", err)
	}
	if tag.RowsAffected() == 0 {
		var existing model.CommissionRecord
		var rateType, status string
		err := tx.QueryRow(ctx, "select id, position_id, payer_account_id, beneficiary_id, rate_type, rate, amount, status, created_at from commission_records where position_id = $1", rec.PositionID).
			Scan(&existing.ID, &existing.PositionID, &existing.PayerAccountID, &existing.BeneficiaryID, &rateType, &existing.Rate, &existing.Amount, &status, &existing.CreatedAt)
		if err != nil {
			return model.CommissionRecord{}, false, errs.Storage("load commission", err)
		}
		existing.RateType = types.CommissionRateType(rateType)
		existing.Status = types.CommissionStatus(status)
		return existing, false, nil
	}
	if _, err := tx.Exec(ctx, `insert into ib_earnings (beneficiary_id, balance, updated_at) values ($1, $2, now())
		on conflict (beneficiary_id) do update set balance = ib_earnings.balance + excluded.balance, updated_at = now()`,
		rec.BeneficiaryID, rec.Amount); err != nil {
		return model.CommissionRecord{}, false, errs.Storage("credit earnings", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.CommissionRecord{}, false, errs.Storage("commit commission", err)
	}
	return rec, true, nil
}

func (s *Store) IBEarnings(ctx context.Context, beneficiaryID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, "select balance from ib_earnings where beneficiary_id = $1", beneficiaryID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errs.Storage("get earnings", err)
	}
	return balance, nil
}

// WithAccount runs fn in a serializable transaction holding the account row
// lock. Serialization failures roll back everything fn did and fn is run
// again, up to maxRetries times.
func (s *Store) WithAccount(ctx context.Context, accountID string, fn func(ctx context.Context, tx store.Tx) error) error {
	if !validID(accountID) {
		return errs.ErrAccountNotFound
	}
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.withAccountOnce(ctx, accountID, fn)
		if err == nil || !retryable(err) {
			return err
		}
		s.log.Warn().Err(err).Str("account_id", accountID).Int("attempt", attempt+1).Msg("serialization conflict, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return errs.Storage("account transaction", err)
}

func (s *Store) withAccountOnce(ctx context.Context, accountID string, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errs.Storage("begin", err)
	}
	defer tx.Rollback(ctx)

	acc, err := scanAccount(tx.QueryRow(ctx, "select "+accountCols+" from trading_accounts where id = $1 for update", accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrAccountNotFound
	}
	if err != nil {
		return errs.Storage("lock account", err)
	}
	ptx := &pgTx{tx: tx, account: acc}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Storage("commit", err)
	}
	for _, f := range ptx.afterCommit {
		f()
	}
	return nil
}
