package engine

import (
	"context"
	"errors"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/metrics"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/positions"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PnLUpdater is the part of the position lifecycle the router drives.
type PnLUpdater interface {
	UpdatePnL(ctx context.Context, accountID, positionID string, currentPrice decimal.Decimal) (positions.UpdateResult, error)
}

// OpenPositionLister finds the positions a quote applies to.
type OpenPositionLister interface {
	ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.Position, error)
}

const tickTimeout = 5 * time.Second

// TickRouter turns every quote on the bus into UpdatePnL calls for the open
// positions in that symbol. Calls are sharded by account id, so one account
// sees its ticks in order and never two at once.
type TickRouter struct {
	bus        *marketdata.Bus
	lister     OpenPositionLister
	updater    PnLUpdater
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewTickRouter(bus *marketdata.Bus, lister OpenPositionLister, updater PnLUpdater, dispatcher *Dispatcher, logger zerolog.Logger) *TickRouter {
	return &TickRouter{
		bus:        bus,
		lister:     lister,
		updater:    updater,
		dispatcher: dispatcher,
		log:        logger.With().Str("component", "tick_router").Logger(),
	}
}

// Run blocks until ctx is done.
func (r *TickRouter) Run(ctx context.Context) error {
	ch := r.bus.Subscribe()
	defer r.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if evt.Type != marketdata.EventQuote {
				continue
			}
			if q, ok := evt.Data.(marketdata.Quote); ok {
				r.Route(ctx, q)
			}
		}
	}
}

// Route dispatches one quote and returns how many updates were queued.
func (r *TickRouter) Route(ctx context.Context, q marketdata.Quote) int {
	open, err := r.lister.ListOpenPositionsBySymbol(ctx, q.Symbol)
	if err != nil {
		r.log.Error().Err(err).Str("symbol", q.Symbol).Msg("list open positions failed")
		return 0
	}
	queued := 0
	for _, p := range open {
		p := p
		price := q.ExitPrice(p.Side)
		ok := r.dispatcher.Dispatch(p.AccountID, func() {
			r.apply(ctx, p, price)
		})
		if !ok {
			metrics.TicksDropped.Inc()
			continue
		}
		metrics.TicksDispatched.Inc()
		queued++
	}
	return queued
}

func (r *TickRouter) apply(ctx context.Context, p model.Position, price decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tickTimeout)
	defer cancel()
	res, err := r.updater.UpdatePnL(ctx, p.AccountID, p.ID, price)
	switch {
	case err == nil:
		if res.Closed {
			r.log.Info().
				Str("account_id", p.AccountID).
				Str("position_id", p.ID).
				Str("reason", string(res.Reason)).
				Msg("position closed by tick")
		}
	case errors.Is(err, errs.ErrAlreadyClosed), errors.Is(err, errs.ErrPositionNotFound):
		// closed between listing and processing
	default:
		r.log.Error().Err(err).Str("account_id", p.AccountID).Str("position_id", p.ID).Msg("tick update failed")
	}
}
