// Package positions drives the OPEN -> CLOSED lifecycle of leveraged
// positions. Each operation is one store unit of work under the account lock.
package positions

import (
	"context"
	"errors"
	"strings"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/fees"
	"lv-tradecore/internal/instruments"
	"lv-tradecore/internal/ledger"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/metrics"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/risk"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Service struct {
	store  store.Store
	ledger *ledger.Service
	fees   *fees.Calculator
	prices marketdata.PriceSource
	bus    *marketdata.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewService accepts a nil prices source (caller prices are then used after
// validation) and a nil bus (no events are published).
func NewService(st store.Store, ledgerSvc *ledger.Service, calc *fees.Calculator, prices marketdata.PriceSource, bus *marketdata.Bus, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		ledger: ledgerSvc,
		fees:   calc,
		prices: prices,
		bus:    bus,
		log:    logger.With().Str("component", "positions").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type OpenRequest struct {
	AccountID  string
	Symbol     string
	Side       types.Side
	Lot        decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

type OpenResult struct {
	Position           model.Position
	TradeChargeApplied decimal.Decimal
	Wallet             model.Wallet
}

type UpdateResult struct {
	Position    model.Position
	PnL         decimal.Decimal
	ShouldClose bool
	Closed      bool
	Reason      types.CloseReason
	Close       *CloseResult
}

type CloseRequest struct {
	AccountID  string
	PositionID string
	// ObservedPrice is the caller's exit price, used only without a quote.
	ObservedPrice *decimal.Decimal
	Reason        types.CloseReason
}

type CloseResult struct {
	PositionID  string
	RealizedPnL decimal.Decimal
	FeeCharged  decimal.Decimal
	ExitPrice   decimal.Decimal
	Reason      types.CloseReason
	Position    model.Position
	History     model.TradeHistory
	Wallet      model.Wallet
}

// closeOutcome carries what the post-commit commission step needs.
type closeOutcome struct {
	result     CloseResult
	commission fees.CommissionInput
	userID     string
}

func validPrice(p decimal.Decimal) bool {
	return p.IsPositive()
}

func validateLevels(sl, tp *decimal.Decimal) error {
	if sl != nil && !validPrice(*sl) {
		return errs.ErrInvalidPrice
	}
	if tp != nil && !validPrice(*tp) {
		return errs.ErrInvalidPrice
	}
	return nil
}

// marketPrice returns the side-specific quote when the source has one. A
// caller price is only accepted when there is no quote.
func (s *Service) marketPrice(ctx context.Context, symbol string, pick func(marketdata.Quote) decimal.Decimal, observed *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if s.prices != nil {
		q, err := s.prices.Quote(ctx, symbol)
		switch {
		case err == nil:
			return pick(q), q.Spread(), nil
		case !errors.Is(err, marketdata.ErrNoQuote):
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("price source failed, using caller price")
		}
	}
	if observed == nil || !validPrice(*observed) {
		return decimal.Zero, decimal.Zero, errs.ErrInvalidPrice
	}
	return *observed, decimal.Zero, nil
}

func (s *Service) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	started := time.Now()
	defer observe("open", started)

	symbol := instruments.Normalize(req.Symbol)
	if symbol == "" {
		return OpenResult{}, errs.Invalid("symbol is required")
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return OpenResult{}, errs.Invalid("side must be BUY or SELL")
	}
	if !req.Lot.IsPositive() {
		return OpenResult{}, errs.Invalid("lot must be positive")
	}
	if err := validateLevels(req.StopLoss, req.TakeProfit); err != nil {
		return OpenResult{}, err
	}
	side := req.Side
	entry, _, err := s.marketPrice(ctx, symbol, func(q marketdata.Quote) decimal.Decimal { return q.EntryPrice(side) }, &req.EntryPrice)
	if err != nil {
		return OpenResult{}, err
	}
	fee, err := s.fees.EntryFee(ctx, symbol, req.Lot)
	if err != nil {
		return OpenResult{}, errs.Storage("entry fee", err)
	}

	var res OpenResult
	var userID string
	err = s.store.WithAccount(ctx, req.AccountID, func(ctx context.Context, tx store.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if !acc.IsActive {
			return errs.Invalid("account is not active")
		}
		userID = acc.UserID
		leverage := instruments.ClampLeverage(req.Leverage, acc.Leverage)
		margin := instruments.RequiredMargin(req.Lot, entry, leverage, symbol)
		required := margin.Add(fee)
		free := acc.Balance.Sub(acc.MarginUsed)
		if free.LessThan(required) {
			return errs.InsufficientMargin(required, free)
		}

		positionID := uuid.NewString()
		if _, err := s.ledger.LockMargin(ctx, tx, positionID, margin); err != nil {
			return err
		}
		if fee.IsPositive() {
			if _, err := s.ledger.ApplyFee(ctx, tx, positionID, fee, true); err != nil {
				return err
			}
		}
		p, err := tx.InsertPosition(ctx, model.Position{
			ID:           positionID,
			AccountID:    acc.ID,
			Symbol:       symbol,
			Side:         side,
			LotSize:      req.Lot,
			EntryPrice:   entry,
			CurrentPrice: entry,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			PnL:          decimal.Zero,
			Leverage:     leverage,
			Margin:       margin,
			EntryFee:     fee,
			Status:       types.PositionStatusOpen,
			OpenTime:     s.now(),
		})
		if err != nil {
			return errs.Storage("insert position", err)
		}
		after, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		res = OpenResult{Position: p, TradeChargeApplied: fee, Wallet: after.Wallet()}
		return nil
	})
	if err != nil {
		return OpenResult{}, errs.Storage("open position", err)
	}

	metrics.PositionsOpened.WithLabelValues(symbol, string(side)).Inc()
	s.log.Info().
		Str("account_id", req.AccountID).
		Str("position_id", res.Position.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("lot", req.Lot.String()).
		Str("entry", entry.String()).
		Int("leverage", res.Position.Leverage).
		Msg("position opened")
	s.publish(userID, marketdata.EventPositionOpen, res.Position)
	s.publish(userID, marketdata.EventWallet, res.Wallet)
	return res, nil
}

// UpdatePnL recomputes PnL from a validated price and closes the position in
// the same unit of work when SL or TP is crossed.
func (s *Service) UpdatePnL(ctx context.Context, accountID, positionID string, currentPrice decimal.Decimal) (UpdateResult, error) {
	started := time.Now()
	defer observe("update_pnl", started)

	if !validPrice(currentPrice) {
		return UpdateResult{}, errs.ErrInvalidPrice
	}

	var res UpdateResult
	var outcome *closeOutcome
	var userID string
	err := s.store.WithAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		userID = acc.UserID
		p, err := tx.Position(ctx, positionID)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return errs.ErrAlreadyClosed
		}
		side := p.Side
		price, spread, err := s.marketPrice(ctx, p.Symbol, func(q marketdata.Quote) decimal.Decimal { return q.ExitPrice(side) }, &currentPrice)
		if err != nil {
			return err
		}
		pnl := risk.PnL(p.Side, p.Symbol, p.LotSize, p.EntryPrice, price)
		decision := risk.Evaluate(risk.Input{
			Side:         p.Side,
			EntryPrice:   p.EntryPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			CurrentPrice: price,
		})
		if decision.ShouldClose {
			out, err := s.closeTx(ctx, tx, p, price, spread, decision.Reason)
			if err != nil {
				return err
			}
			outcome = &out
			res = UpdateResult{
				Position:    out.result.Position,
				PnL:         out.result.RealizedPnL,
				ShouldClose: true,
				Closed:      true,
				Reason:      decision.Reason,
				Close:       &out.result,
			}
			return nil
		}

		p.CurrentPrice = price
		p.PnL = pnl
		if err := tx.SavePosition(ctx, p); err != nil {
			return errs.Storage("save position", err)
		}
		if _, err := s.ledger.Revalue(ctx, tx); err != nil {
			return err
		}
		res = UpdateResult{Position: p, PnL: pnl}
		return nil
	})
	if err != nil {
		return UpdateResult{}, errs.Storage("update pnl", err)
	}

	if outcome != nil {
		outcome.userID = userID
		s.afterClose(ctx, *outcome)
		return res, nil
	}
	s.publish(userID, marketdata.EventPositionUpdate, res.Position)
	return res, nil
}

func (s *Service) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	started := time.Now()
	defer observe("close", started)

	if req.ObservedPrice != nil && !validPrice(*req.ObservedPrice) {
		return CloseResult{}, errs.ErrInvalidPrice
	}
	reason := req.Reason
	if reason == types.CloseReasonNone {
		reason = types.CloseReasonManual
	}

	var outcome closeOutcome
	err := s.store.WithAccount(ctx, req.AccountID, func(ctx context.Context, tx store.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		p, err := tx.Position(ctx, req.PositionID)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return errs.ErrAlreadyClosed
		}
		observed := req.ObservedPrice
		if observed == nil && validPrice(p.CurrentPrice) {
			// last server-validated tick
			last := p.CurrentPrice
			observed = &last
		}
		side := p.Side
		price, spread, err := s.marketPrice(ctx, p.Symbol, func(q marketdata.Quote) decimal.Decimal { return q.ExitPrice(side) }, observed)
		if err != nil {
			return err
		}
		outcome, err = s.closeTx(ctx, tx, p, price, spread, reason)
		outcome.userID = acc.UserID
		return err
	})
	if err != nil {
		return CloseResult{}, errs.Storage("close position", err)
	}
	s.afterClose(ctx, outcome)
	return outcome.result, nil
}

// closeTx applies every effect of a close inside tx. The position is saved
// as CLOSED first so the equity refresh no longer counts it.
func (s *Service) closeTx(ctx context.Context, tx store.Tx, p model.Position, price, spread decimal.Decimal, reason types.CloseReason) (closeOutcome, error) {
	if !p.IsOpen() {
		return closeOutcome{}, errs.ErrAlreadyClosed
	}
	pnl := risk.PnL(p.Side, p.Symbol, p.LotSize, p.EntryPrice, price)
	margin := instruments.RequiredMargin(p.LotSize, p.EntryPrice, p.Leverage, p.Symbol)
	exitFee, err := s.fees.ExitFee(ctx, p.Symbol, p.LotSize)
	if err != nil {
		return closeOutcome{}, errs.Storage("exit fee", err)
	}

	now := s.now()
	exit := price
	p.Status = types.PositionStatusClosed
	p.CloseReason = reason
	p.CurrentPrice = price
	p.ExitPrice = &exit
	p.PnL = pnl
	p.CloseTime = &now
	if err := tx.SavePosition(ctx, p); err != nil {
		return closeOutcome{}, errs.Storage("save position", err)
	}

	if _, err := s.ledger.ReleaseMargin(ctx, tx, p.ID, margin); err != nil {
		return closeOutcome{}, err
	}
	if _, err := s.ledger.ApplyRealizedPnL(ctx, tx, p.ID, pnl); err != nil {
		return closeOutcome{}, err
	}
	if exitFee.IsPositive() {
		if _, err := s.ledger.ApplyFee(ctx, tx, p.ID, exitFee, false); err != nil {
			return closeOutcome{}, err
		}
	}

	hist, err := tx.InsertTradeHistory(ctx, model.TradeHistory{
		PositionID: p.ID,
		AccountID:  p.AccountID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		LotSize:    p.LotSize,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		PnL:        pnl,
		Fee:        p.EntryFee.Add(exitFee),
		Reason:     reason,
		OpenTime:   p.OpenTime,
		CloseTime:  now,
	})
	if err != nil {
		return closeOutcome{}, errs.Storage("insert trade history", err)
	}
	acc, err := tx.Account(ctx)
	if err != nil {
		return closeOutcome{}, err
	}

	return closeOutcome{
		result: CloseResult{
			PositionID:  p.ID,
			RealizedPnL: pnl,
			FeeCharged:  exitFee,
			ExitPrice:   price,
			Reason:      reason,
			Position:    p,
			History:     hist,
			Wallet:      acc.Wallet(),
		},
		commission: fees.CommissionInput{
			PositionID: p.ID,
			AccountID:  p.AccountID,
			Symbol:     p.Symbol,
			Lot:        p.LotSize,
			Profit:     pnl,
			Spread:     spread,
		},
	}, nil
}

func (s *Service) afterClose(ctx context.Context, out closeOutcome) {
	r := out.result
	metrics.PositionsClosed.WithLabelValues(string(r.Reason)).Inc()
	s.log.Info().
		Str("account_id", r.Position.AccountID).
		Str("position_id", r.PositionID).
		Str("reason", string(r.Reason)).
		Str("exit", r.ExitPrice.String()).
		Str("pnl", r.RealizedPnL.String()).
		Str("fee", r.FeeCharged.String()).
		Msg("position closed")
	s.publish(out.userID, marketdata.EventPositionClose, r.Position)
	s.publish(out.userID, marketdata.EventWallet, r.Wallet)
	s.recordCommission(ctx, out.commission)
}

func (s *Service) publish(userID, typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(marketdata.Event{Type: typ, UserID: userID, Data: data})
}

// CloseScope selects positions for CloseAll.
type CloseScope string

const (
	ScopeAll    CloseScope = "all"
	ScopeProfit CloseScope = "profit"
	ScopeLoss   CloseScope = "loss"
)

func ParseScope(raw string) (CloseScope, error) {
	switch CloseScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeProfit:
		return ScopeProfit, nil
	case ScopeLoss:
		return ScopeLoss, nil
	}
	return "", errs.Invalid("invalid close scope; allowed: all, profit, loss")
}

type CloseAllResult struct {
	Scope    CloseScope      `json:"scope"`
	Total    int             `json:"total"`
	Closed   int             `json:"closed"`
	Failed   int             `json:"failed"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

// CloseAll closes the account's open positions selected by scope, each in
// its own unit of work. Positions closed concurrently are skipped.
func (s *Service) CloseAll(ctx context.Context, accountID string, scope CloseScope) (CloseAllResult, error) {
	open, err := s.store.ListPositions(ctx, accountID, types.PositionStatusOpen)
	if err != nil {
		return CloseAllResult{}, errs.Storage("list positions", err)
	}
	res := CloseAllResult{Scope: scope, TotalPnL: decimal.Zero}
	for _, p := range open {
		switch scope {
		case ScopeProfit:
			if !p.PnL.IsPositive() {
				continue
			}
		case ScopeLoss:
			if !p.PnL.IsNegative() {
				continue
			}
		}
		res.Total++
		out, err := s.Close(ctx, CloseRequest{AccountID: accountID, PositionID: p.ID, Reason: types.CloseReasonBulk})
		if err != nil {
			if errors.Is(err, errs.ErrAlreadyClosed) {
				continue
			}
			s.log.Warn().Err(err).Str("position_id", p.ID).Msg("close all: position not closed")
			res.Failed++
			continue
		}
		res.Closed++
		res.TotalPnL = res.TotalPnL.Add(out.RealizedPnL)
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, accountID, positionID string) (model.Position, error) {
	p, err := s.store.GetPosition(ctx, accountID, positionID)
	if err != nil {
		return model.Position{}, errs.Storage("get position", err)
	}
	return p, nil
}

func (s *Service) ListOpen(ctx context.Context, accountID string) ([]model.Position, error) {
	out, err := s.store.ListPositions(ctx, accountID, types.PositionStatusOpen)
	if err != nil {
		return nil, errs.Storage("list positions", err)
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]model.TradeHistory, error) {
	out, err := s.store.ListTradeHistory(ctx, accountID, limit)
	if err != nil {
		return nil, errs.Storage("list trade history", err)
	}
	return out, nil
}

func observe(op string, started time.Time) {
	metrics.OperationLatency.WithLabelValues(op).Observe(float64(time.Since(started).Microseconds()) / 1000)
}
