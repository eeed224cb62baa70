package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"lv-tradecore/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type FeedConfig struct {
	URL          string
	Symbols      []string
	Header       http.Header
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ReadTimeout  time.Duration
}

func DefaultFeedConfig(url string) FeedConfig {
	return FeedConfig{
		URL:          url,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// feedMessage is one upstream tick. Messages without a symbol are treated
// as heartbeats.
type feedMessage struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	TS     int64           `json:"ts"`
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Feed keeps a websocket connection to the upstream price feed and writes
// every valid tick into the QuoteBook. It reconnects with exponential backoff
// until Stop is called.
type Feed struct {
	cfg  FeedConfig
	book *QuoteBook
	log  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(cfg FeedConfig, book *QuoteBook, logger zerolog.Logger) *Feed {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &Feed{cfg: cfg, book: book, log: logger.With().Str("component", "feed").Logger()}
}

func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return errors.New("feed already started")
	}
	if f.cfg.URL == "" {
		return errors.New("feed url is empty")
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.run(ctx)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	delay := f.cfg.InitialDelay
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = f.cfg.InitialDelay
		}
		metrics.FeedReconnects.Inc()
		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("price feed disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxDelay {
			delay = f.cfg.MaxDelay
		}
	}
}

// session runs one connection until it fails. connected reports whether the
// dial succeeded, which resets the backoff.
func (f *Feed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, f.cfg.Header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if len(f.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Symbols: f.cfg.Symbols}); err != nil {
			return true, err
		}
	}
	f.log.Info().Str("url", f.cfg.URL).Msg("price feed connected")

	for {
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		f.handle(data)
	}
}

func (f *Feed) handle(data []byte) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.Debug().Err(err).Msg("unreadable feed message")
		return
	}
	if msg.Symbol == "" {
		return
	}
	q := Quote{Symbol: msg.Symbol, Bid: msg.Bid, Ask: msg.Ask}
	if msg.TS > 0 {
		q.Time = time.UnixMilli(msg.TS).UTC()
	}
	if !f.book.Set(q) {
		f.log.Debug().Str("symbol", msg.Symbol).Msg("invalid quote dropped")
	}
}
