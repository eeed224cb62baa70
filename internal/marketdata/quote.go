package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"lv-tradecore/internal/instruments"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

var ErrNoQuote = errors.New("no quote for symbol")

type Quote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Time   time.Time       `json:"time"`
}

func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Bid.IsPositive() && q.Ask.IsPositive() && !q.Ask.LessThan(q.Bid)
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// EntryPrice is the price a new position of side pays: BUY at ask, SELL at bid.
func (q Quote) EntryPrice(side types.Side) decimal.Decimal {
	if side == types.SideSell {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice is the price that closes side: BUY at bid, SELL at ask.
func (q Quote) ExitPrice(side types.Side) decimal.Decimal {
	if side == types.SideSell {
		return q.Ask
	}
	return q.Bid
}

// PriceSource is the read-only view of current prices shared by all accounts.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// QuoteBook keeps the latest quote per symbol in process memory and fans
// every accepted quote out on the bus.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	bus    *Bus
	maxAge time.Duration
	now    func() time.Time
}

var _ PriceSource = (*QuoteBook)(nil)

// NewQuoteBook treats quotes older than maxAge as missing; zero keeps them forever.
func NewQuoteBook(bus *Bus, maxAge time.Duration) *QuoteBook {
	return &QuoteBook{
		quotes: make(map[string]Quote),
		bus:    bus,
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b *QuoteBook) Set(q Quote) bool {
	q.Symbol = instruments.Normalize(q.Symbol)
	if !q.Valid() {
		return false
	}
	if q.Time.IsZero() {
		q.Time = b.now()
	}
	b.mu.Lock()
	b.quotes[q.Symbol] = q
	b.mu.Unlock()
	if b.bus != nil {
		b.bus.Publish(Event{Type: EventQuote, Data: q})
	}
	return true
}

func (b *QuoteBook) Quote(_ context.Context, symbol string) (Quote, error) {
	sym := instruments.Normalize(symbol)
	b.mu.RLock()
	q, ok := b.quotes[sym]
	b.mu.RUnlock()
	if !ok {
		return Quote{}, ErrNoQuote
	}
	if b.maxAge > 0 && b.now().Sub(q.Time) > b.maxAge {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

func (b *QuoteBook) Snapshot() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	return out
}

// Fallback asks each source in order and returns the first quote found.
type Fallback []PriceSource

func (f Fallback) Quote(ctx context.Context, symbol string) (Quote, error) {
	var lastErr error = ErrNoQuote
	for _, src := range f {
		if src == nil {
			continue
		}
		q, err := src.Quote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, ErrNoQuote) {
			lastErr = err
		}
	}
	return Quote{}, lastErr
}
