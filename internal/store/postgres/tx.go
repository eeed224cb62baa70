package postgres

import (
	"context"
	"errors"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// pgTx is one locked account. The account row is cached since every write
// to it goes through SaveAccount.
type pgTx struct {
	tx          pgx.Tx
	account     model.Account
	afterCommit []func()
}

func (t *pgTx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *pgTx) Account(context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, acc model.Account) error {
	if acc.ID != t.account.ID {
		return errs.ErrAccountNotFound
	}
	acc.UpdatedAt = time.Now().UTC()
	_, err := t.tx.Exec(ctx, `update trading_accounts
		set balance = $2, equity = $3, margin_used = $4, free_margin = $5, leverage = $6, is_active = $7, updated_at = $8
		where id = $1`,
		acc.ID, acc.Balance, acc.Equity, acc.MarginUsed, acc.FreeMargin, acc.Leverage, acc.IsActive, acc.UpdatedAt)
	if err != nil {
		return errs.Storage("update account", err)
	}
	t.account = acc
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, row model.Transaction) (model.Transaction, error) {
	row.ID = uuid.NewString()
	row.AccountID = t.account.ID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, "insert into transactions ("+transactionCols+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9)",
		row.ID, row.AccountID, nullableID(row.PositionID), string(row.Type), row.Amount, row.BalanceBefore, row.BalanceAfter, row.Description, row.CreatedAt)
	if err != nil {
		return model.Transaction{}, errs.Storage("insert transaction", err)
	}
	return row, nil
}

func (t *pgTx) Position(ctx context.Context, positionID string) (model.Position, error) {
	if !validID(positionID) {
		return model.Position{}, errs.ErrPositionNotFound
	}
	p, err := scanPosition(t.tx.QueryRow(ctx, "select "+positionCols+" from positions where id = $1 and account_id = $2", positionID, t.account.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, errs.ErrPositionNotFound
	}
	if err != nil {
		return model.Position{}, errs.Storage("get position", err)
	}
	return p, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p model.Position) (model.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.AccountID = t.account.ID
	if p.OpenTime.IsZero() {
		p.OpenTime = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, "insert into positions ("+positionCols+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)",
		p.ID, p.AccountID, p.Symbol, string(p.Side), p.LotSize, p.EntryPrice, p.CurrentPrice, p.StopLoss, p.TakeProfit,
		p.PnL, p.Leverage, p.Margin, p.EntryFee, string(p.Status), string(p.CloseReason), p.ExitPrice, p.OpenTime, p.CloseTime)
	if err != nil {
		return model.Position{}, errs.Storage("insert position", err)
	}
	return p, nil
}

func (t *pgTx) SavePosition(ctx context.Context, p model.Position) error {
	tag, err := t.tx.Exec(ctx, `update positions
		set current_price = $3, stop_loss = $4, take_profit = $5, pnl = $6, status = $7, close_reason = $8, exit_price = $9, close_time = $10
		where id = $1 and account_id = $2`,
		p.ID, t.account.ID, p.CurrentPrice, p.StopLoss, p.TakeProfit, p.PnL, string(p.Status), string(p.CloseReason), p.ExitPrice, p.CloseTime)
	if err != nil {
		return errs.Storage("update position", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrPositionNotFound
	}
	return nil
}

func (t *pgTx) OpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx, "select "+positionCols+" from positions where account_id = $1 and status = $2", t.account.ID, string(types.PositionStatusOpen))
	if err != nil {
		return nil, errs.Storage("list open positions", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, errs.Storage("scan positions", err)
	}
	return out, nil
}

func (t *pgTx) InsertTradeHistory(ctx context.Context, h model.TradeHistory) (model.TradeHistory, error) {
	h.ID = uuid.NewString()
	h.AccountID = t.account.ID
	_, err := t.tx.Exec(ctx, "insert into trade_history ("+historyCols+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)",
		h.ID, h.PositionID, h.AccountID, h.Symbol, string(h.Side), h.LotSize, h.EntryPrice, h.ExitPrice, h.PnL, h.Fee, string(h.Reason), h.OpenTime, h.CloseTime)
	if err != nil {
		return model.TradeHistory{}, errs.Storage("insert trade history", err)
	}
	return h, nil
}
