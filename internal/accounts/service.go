package accounts

import (
	"context"
	"fmt"
	"strings"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Service struct {
	store store.Store
	log   zerolog.Logger
}

func NewService(st store.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, log: logger.With().Str("component", "accounts").Logger()}
}

var allowedLeverageValues = map[int]struct{}{
	1: {}, 2: {}, 5: {}, 10: {}, 20: {}, 30: {}, 40: {}, 50: {},
	100: {}, 200: {}, 500: {}, 1000: {},
}

const (
	defaultNewAccountLeverage = 100
	defaultCurrency           = "USD"
)

func isAllowedLeverage(v int) bool {
	_, ok := allowedLeverageValues[v]
	return ok
}

// Create opens a trading account with a zero balance. Funds arrive through
// ledger adjustments so the ledger always sums to the balance.
func (s *Service) Create(ctx context.Context, userID, currency string, leverage int) (model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Account{}, errs.Invalid("user_id is required")
	}
	if leverage == 0 {
		leverage = defaultNewAccountLeverage
	}
	if !isAllowedLeverage(leverage) {
		return model.Account{}, errs.Invalid(fmt.Sprintf("leverage %d is not allowed", leverage))
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = defaultCurrency
	}
	acc, err := s.store.CreateAccount(ctx, model.Account{
		UserID:     userID,
		Balance:    decimal.Zero,
		Equity:     decimal.Zero,
		MarginUsed: decimal.Zero,
		FreeMargin: decimal.Zero,
		Leverage:   leverage,
		Currency:   currency,
		IsActive:   true,
	})
	if err != nil {
		return model.Account{}, errs.Storage("create account", err)
	}
	s.log.Info().Str("account_id", acc.ID).Str("user_id", userID).Int("leverage", leverage).Msg("account created")
	return acc, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]model.Account, error) {
	out, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, errs.Storage("list accounts", err)
	}
	return out, nil
}

// Resolve returns the requested account when it belongs to userID, or the
// user's first active account when none is requested.
func (s *Service) Resolve(ctx context.Context, userID, requestedAccountID string) (model.Account, error) {
	if userID == "" {
		return model.Account{}, errs.Invalid("user_id is required")
	}
	requestedAccountID = strings.TrimSpace(requestedAccountID)
	if requestedAccountID != "" {
		acc, err := s.store.GetAccount(ctx, requestedAccountID)
		if err != nil {
			return model.Account{}, errs.Storage("get account", err)
		}
		if acc.UserID != userID {
			return model.Account{}, errs.ErrAccountNotFound
		}
		return acc, nil
	}
	accounts, err := s.List(ctx, userID)
	if err != nil {
		return model.Account{}, err
	}
	for _, acc := range accounts {
		if acc.IsActive {
			return acc, nil
		}
	}
	return model.Account{}, errs.ErrAccountNotFound
}

// UpdateLeverage changes the default for new positions. Open positions keep
// the leverage stored when they were opened.
func (s *Service) UpdateLeverage(ctx context.Context, userID, accountID string, leverage int) (model.Account, error) {
	if !isAllowedLeverage(leverage) {
		return model.Account{}, errs.Invalid(fmt.Sprintf("leverage %d is not allowed", leverage))
	}
	acc, err := s.Resolve(ctx, userID, accountID)
	if err != nil {
		return model.Account{}, err
	}
	var updated model.Account
	err = s.store.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		a.Leverage = leverage
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return model.Account{}, errs.Storage("update leverage", err)
	}
	return updated, nil
}

func (s *Service) SetActive(ctx context.Context, accountID string, active bool) (model.Account, error) {
	var updated model.Account
	err := s.store.WithAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		a.IsActive = active
		updated = a
		return tx.SaveAccount(ctx, a)
	})
	if err != nil {
		return model.Account{}, errs.Storage("set active", err)
	}
	return updated, nil
}
