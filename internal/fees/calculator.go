// Package fees computes trade charges and introducing-broker commission.
package fees

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lv-tradecore/internal/instruments"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

// WildcardSymbol matches every symbol when no exact charge exists.
const WildcardSymbol = "ALL"

var hundred = decimal.NewFromInt(100)

type TradeCharge struct {
	Symbol     string           `json:"symbol"`
	ChargeType types.ChargeType `json:"charge_type"`
	Value      decimal.Decimal  `json:"value"`
	Active     bool             `json:"active"`
}

// Referrer is the IB entitled to commission on an account's trades.
type Referrer struct {
	BeneficiaryID string                   `json:"beneficiary_id"`
	RateType      types.CommissionRateType `json:"rate_type"`
	Rate          decimal.Decimal          `json:"rate"`
}

// ConfigSource supplies broker charges and referral schedules.
// Referrer returns nil, nil when the account has no eligible referrer.
type ConfigSource interface {
	TradeCharges(ctx context.Context) ([]TradeCharge, error)
	Referrer(ctx context.Context, accountID string) (*Referrer, error)
}

type Calculator struct {
	src   ConfigSource
	model types.FeeModel
}

func NewCalculator(src ConfigSource, feeModel types.FeeModel) *Calculator {
	if feeModel != types.FeeModelExit {
		feeModel = types.FeeModelEntry
	}
	return &Calculator{src: src, model: feeModel}
}

func (c *Calculator) Model() types.FeeModel {
	return c.model
}

// LookupCharge prefers an active charge for the exact symbol over the
// wildcard. The zero charge is returned when nothing matches.
func LookupCharge(charges []TradeCharge, symbol string) (TradeCharge, bool) {
	sym := instruments.Normalize(symbol)
	var wildcard *TradeCharge
	for i := range charges {
		ch := charges[i]
		if !ch.Active {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(ch.Symbol))
		if key == WildcardSymbol {
			if wildcard == nil {
				wildcard = &charges[i]
			}
			continue
		}
		if instruments.Normalize(key) == sym {
			return ch, true
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return TradeCharge{}, false
}

func (ch TradeCharge) Amount(lot decimal.Decimal) decimal.Decimal {
	if ch.Value.IsNegative() {
		return decimal.Zero
	}
	switch ch.ChargeType {
	case types.ChargeTypePerLot:
		return instruments.Money(ch.Value.Mul(lot))
	case types.ChargeTypeFixed:
		return ch.Value
	}
	return decimal.Zero
}

// TradeCharge is the configured charge for one position of lot size lot,
// regardless of when the fee model applies it.
func (c *Calculator) TradeCharge(ctx context.Context, symbol string, lot decimal.Decimal) (decimal.Decimal, error) {
	if c == nil || c.src == nil {
		return decimal.Zero, nil
	}
	charges, err := c.src.TradeCharges(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load trade charges: %w", err)
	}
	ch, ok := LookupCharge(charges, symbol)
	if !ok {
		return decimal.Zero, nil
	}
	return ch.Amount(lot), nil
}

func (c *Calculator) EntryFee(ctx context.Context, symbol string, lot decimal.Decimal) (decimal.Decimal, error) {
	if c == nil || c.model != types.FeeModelEntry {
		return decimal.Zero, nil
	}
	return c.TradeCharge(ctx, symbol, lot)
}

func (c *Calculator) ExitFee(ctx context.Context, symbol string, lot decimal.Decimal) (decimal.Decimal, error) {
	if c == nil || c.model != types.FeeModelExit {
		return decimal.Zero, nil
	}
	return c.TradeCharge(ctx, symbol, lot)
}

type CommissionInput struct {
	PositionID string
	AccountID  string
	Symbol     string
	Lot        decimal.Decimal
	Profit     decimal.Decimal
	// Spread is ask - bid at close; zero when unknown.
	Spread decimal.Decimal
}

// CommissionAmount applies a referrer's schedule. Percentage rates are in
// percent, so 10 means a tenth of the metric.
func CommissionAmount(ref Referrer, in CommissionInput) decimal.Decimal {
	if !ref.Rate.IsPositive() {
		return decimal.Zero
	}
	switch ref.RateType {
	case types.CommissionPerLot:
		return ref.Rate.Mul(in.Lot)
	case types.CommissionPercentProfit:
		if !in.Profit.IsPositive() {
			return decimal.Zero
		}
		return ref.Rate.Div(hundred).Mul(in.Profit)
	case types.CommissionPercentSpread:
		if !in.Spread.IsPositive() {
			return decimal.Zero
		}
		cost := in.Spread.Mul(in.Lot).Mul(instruments.ContractSize(in.Symbol))
		return ref.Rate.Div(hundred).Mul(cost)
	}
	return decimal.Zero
}

// Commission builds the record owed to the account's referrer, or nil when
// there is no referrer or nothing is owed.
func (c *Calculator) Commission(ctx context.Context, in CommissionInput) (*model.CommissionRecord, error) {
	if c == nil || c.src == nil {
		return nil, nil
	}
	ref, err := c.src.Referrer(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load referrer: %w", err)
	}
	if ref == nil || ref.BeneficiaryID == "" {
		return nil, nil
	}
	amount := instruments.Money(CommissionAmount(*ref, in))
	if !amount.IsPositive() {
		return nil, nil
	}
	return &model.CommissionRecord{
		PositionID:     in.PositionID,
		PayerAccountID: in.AccountID,
		BeneficiaryID:  ref.BeneficiaryID,
		RateType:       ref.RateType,
		Rate:           ref.Rate,
		Amount:         amount,
		Status:         types.CommissionStatusPending,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
