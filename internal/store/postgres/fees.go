package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"lv-tradecore/internal/fees"
	"lv-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeeConfig reads trade_charges and referrals. Charges are cached for ttl
// because every open and close consults them.
type FeeConfig struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu       sync.Mutex
	charges  []fees.TradeCharge
	loadedAt time.Time
}

var _ fees.ConfigSource = (*FeeConfig)(nil)

func NewFeeConfig(pool *pgxpool.Pool, ttl time.Duration) *FeeConfig {
	return &FeeConfig{pool: pool, ttl: ttl}
}

func (c *FeeConfig) TradeCharges(ctx context.Context) ([]fees.TradeCharge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charges != nil && c.ttl > 0 && time.Since(c.loadedAt) < c.ttl {
		return c.charges, nil
	}
	rows, err := c.pool.Query(ctx, "select symbol, charge_type, value, is_active from trade_charges")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]fees.TradeCharge, 0)
	for rows.Next() {
		var ch fees.TradeCharge
		var chargeType string
		if err := rows.Scan(&ch.Symbol, &chargeType, &ch.Value, &ch.Active); err != nil {
			return nil, err
		}
		ch.ChargeType = types.ChargeType(chargeType)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.charges = out
	c.loadedAt = time.Now()
	return out, nil
}

// Invalidate drops the cached charges so the next read hits the table.
func (c *FeeConfig) Invalidate() {
	c.mu.Lock()
	c.charges = nil
	c.mu.Unlock()
}

func (c *FeeConfig) Referrer(ctx context.Context, accountID string) (*fees.Referrer, error) {
	if !validID(accountID) {
		return nil, nil
	}
	var ref fees.Referrer
	var rateType string
	err := c.pool.QueryRow(ctx, "select beneficiary_id, rate_type, rate from referrals where account_id = $1", accountID).
		Scan(&ref.BeneficiaryID, &rateType, &ref.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ref.RateType = types.CommissionRateType(rateType)
	return &ref, nil
}
