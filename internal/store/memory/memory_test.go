package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, s *Store, userID string) model.Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), model.Account{UserID: userID, Leverage: 100, Currency: "USD", IsActive: true})
	require.NoError(t, err)
	return acc
}

func TestWithAccountCommitsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := newAccount(t, s, "u1")

	var posID string
	err := s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.Account(ctx)
		require.NoError(t, err)
		a.Balance = decimal.NewFromInt(500)
		require.NoError(t, tx.SaveAccount(ctx, a))
		_, err = tx.AppendTransaction(ctx, model.Transaction{Type: types.TransactionTypeAdjustment, BalanceAfter: a.Balance})
		require.NoError(t, err)
		p, err := tx.InsertPosition(ctx, model.Position{Symbol: "EURUSD", Status: types.PositionStatusOpen})
		require.NoError(t, err)
		posID = p.ID

		open, err := tx.OpenPositions(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1, "staged insert is visible inside the tx")
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(500)))

	p, err := s.GetPosition(ctx, acc.ID, posID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, p.AccountID)

	sum, err := s.SumTransactionDeltas(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(500)))
}

func TestWithAccountDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := newAccount(t, s, "u1")
	boom := errors.New("boom")

	err := s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.Account(ctx)
		a.Balance = decimal.NewFromInt(999)
		_ = tx.SaveAccount(ctx, a)
		_, _ = tx.AppendTransaction(ctx, model.Transaction{Type: types.TransactionTypeAdjustment})
		_, _ = tx.InsertPosition(ctx, model.Position{Symbol: "EURUSD", Status: types.PositionStatusOpen})
		_, _ = tx.InsertTradeHistory(ctx, model.TradeHistory{Symbol: "EURUSD"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := s.GetAccount(ctx, acc.ID)
	assert.True(t, got.Balance.IsZero())
	txs, _ := s.ListTransactions(ctx, acc.ID, 0)
	assert.Empty(t, txs)
	pos, _ := s.ListPositions(ctx, acc.ID, "")
	assert.Empty(t, pos)
	hist, _ := s.ListTradeHistory(ctx, acc.ID, 0)
	assert.Empty(t, hist)
}

func TestAfterCommitRunsOnlyOnCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := newAccount(t, s, "u1")
	var ran []string

	err := s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		tx.AfterCommit(func() { ran = append(ran, "failed") })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Empty(t, ran)

	err = s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		tx.AfterCommit(func() {
			got, _ := s.GetAccount(ctx, acc.ID)
			assert.True(t, got.Balance.Equal(decimal.NewFromInt(5)), "writes visible before callbacks")
			ran = append(ran, "first")
		})
		a, _ := tx.Account(ctx)
		a.Balance = decimal.NewFromInt(5)
		require.NoError(t, tx.SaveAccount(ctx, a))
		tx.AfterCommit(func() { ran = append(ran, "second") })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestPositionScopedToAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newAccount(t, s, "u1")
	b := newAccount(t, s, "u2")

	var posID string
	require.NoError(t, s.WithAccount(ctx, a.ID, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.InsertPosition(ctx, model.Position{Symbol: "EURUSD", Status: types.PositionStatusOpen})
		posID = p.ID
		return err
	}))

	err := s.WithAccount(ctx, b.ID, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Position(ctx, posID)
		return err
	})
	require.ErrorIs(t, err, errs.ErrPositionNotFound)

	_, err = s.GetPosition(ctx, b.ID, posID)
	require.ErrorIs(t, err, errs.ErrPositionNotFound)

	err = s.WithAccount(ctx, "missing", func(context.Context, store.Tx) error { return nil })
	require.ErrorIs(t, err, errs.ErrAccountNotFound)
}

func TestWithAccountSerializesSameAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := newAccount(t, s, "u1")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
				a, _ := tx.Account(ctx)
				a.Balance = a.Balance.Add(decimal.NewFromInt(1))
				return tx.SaveAccount(ctx, a)
			})
		}()
	}
	wg.Wait()

	got, _ := s.GetAccount(ctx, acc.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(n)), got.Balance.String())
}

func TestRecordCommissionOncePerPosition(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := model.CommissionRecord{PositionID: "p1", PayerAccountID: "a1", BeneficiaryID: "ib", Amount: decimal.NewFromInt(3)}

	saved, created, err := s.RecordCommission(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.CommissionStatusPending, saved.Status, "empty status defaults to pending")

	_, created, err = s.RecordCommission(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	earned, err := s.IBEarnings(ctx, "ib")
	require.NoError(t, err)
	assert.True(t, earned.Equal(decimal.NewFromInt(3)))
}

func TestRecordCommissionKeepsStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, status := range []types.CommissionStatus{types.CommissionStatusPending, types.CommissionStatusPaid} {
		rec := model.CommissionRecord{PositionID: "p-" + string(status), BeneficiaryID: "ib", Amount: decimal.NewFromInt(1), Status: status}
		saved, created, err := s.RecordCommission(ctx, rec)
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, status, saved.Status)
	}
}

func TestListingOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := newAccount(t, s, "u1")
	for i := 1; i <= 3; i++ {
		amount := decimal.NewFromInt(int64(i))
		require.NoError(t, s.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.AppendTransaction(ctx, model.Transaction{Type: types.TransactionTypeAdjustment, Amount: amount})
			return err
		}))
	}
	txs, err := s.ListTransactions(ctx, acc.ID, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(3)), "newest first")
}
