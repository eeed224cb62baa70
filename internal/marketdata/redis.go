package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lv-tradecore/internal/instruments"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisQuotes shares the latest quotes between processes. Each symbol is a
// hash at "quote:{symbol}" with bid, ask and ts (unix nanoseconds).
type RedisQuotes struct {
	rdb    *redis.Client
	maxAge time.Duration
	ttl    time.Duration
	log    zerolog.Logger
}

var _ PriceSource = (*RedisQuotes)(nil)

func NewRedisQuotes(rdb *redis.Client, maxAge time.Duration, logger zerolog.Logger) *RedisQuotes {
	ttl := maxAge * 2
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisQuotes{rdb: rdb, maxAge: maxAge, ttl: ttl, log: logger.With().Str("component", "redis_quotes").Logger()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

func (r *RedisQuotes) Store(ctx context.Context, q Quote) error {
	q.Symbol = instruments.Normalize(q.Symbol)
	if !q.Valid() {
		return fmt.Errorf("redis: invalid quote for %q", q.Symbol)
	}
	if q.Time.IsZero() {
		q.Time = time.Now().UTC()
	}
	key := quoteKey(q.Symbol)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"bid": q.Bid.String(),
		"ask": q.Ask.String(),
		"ts":  strconv.FormatInt(q.Time.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

func (r *RedisQuotes) Quote(ctx context.Context, symbol string) (Quote, error) {
	sym := instruments.Normalize(symbol)
	vals, err := r.rdb.HGetAll(ctx, quoteKey(sym)).Result()
	if err != nil {
		return Quote{}, fmt.Errorf("redis: get quote %s: %w", sym, err)
	}
	if len(vals) == 0 {
		return Quote{}, ErrNoQuote
	}
	bid, err := decimal.NewFromString(vals["bid"])
	if err != nil {
		return Quote{}, fmt.Errorf("redis: parse bid %s: %w", sym, err)
	}
	ask, err := decimal.NewFromString(vals["ask"])
	if err != nil {
		return Quote{}, fmt.Errorf("redis: parse ask %s: %w", sym, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("redis: parse ts %s: %w", sym, err)
	}
	q := Quote{Symbol: sym, Bid: bid, Ask: ask, Time: time.Unix(0, ts).UTC()}
	if !q.Valid() {
		return Quote{}, ErrNoQuote
	}
	if r.maxAge > 0 && time.Since(q.Time) > r.maxAge {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

// Mirror copies every quote published on bus into Redis until ctx ends.
func (r *RedisQuotes) Mirror(ctx context.Context, bus *Bus) error {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if evt.Type != EventQuote {
				continue
			}
			q, ok := evt.Data.(Quote)
			if !ok {
				continue
			}
			if err := r.Store(ctx, q); err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Str("symbol", q.Symbol).Msg("quote not mirrored")
			}
		}
	}
}
