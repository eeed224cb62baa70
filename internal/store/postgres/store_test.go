package postgres

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryable(errs.Storage("commit", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryable(errors.New("connection reset")))
	assert.False(t, retryable(nil))
}

func TestValidID(t *testing.T) {
	assert.True(t, validID(uuid.NewString()))
	assert.False(t, validID(""))
	assert.False(t, validID("acc-1"))
	assert.Nil(t, nullableID(""))
	require.NotNil(t, nullableID("x"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	data, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	for _, table := range []string{"trading_accounts", "positions", "transactions", "trade_history", "commission_records", "ib_earnings"} {
		assert.Contains(t, string(data), "create table if not exists "+table)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{}, zerolog.Nop())
	require.Error(t, err)
}

// openTestStore needs a disposable database in TEST_DATABASE_DSN.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, Config{DSN: dsn, MaxConns: 8}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.RunMigrations(ctx))
	require.NoError(t, st.RunMigrations(ctx), "migrations are idempotent")
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	acc, err := st.CreateAccount(ctx, model.Account{UserID: "pg-user-" + uuid.NewString(), Leverage: 100, Currency: "USD", IsActive: true})
	require.NoError(t, err)

	got, err := st.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.UserID, got.UserID)

	_, err = st.GetAccount(ctx, "not-a-uuid")
	require.ErrorIs(t, err, errs.ErrAccountNotFound)

	posID := uuid.NewString()
	err = st.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.Account(ctx)
		a.Balance = decimal.NewFromInt(1000)
		a.FreeMargin = a.Balance
		a.Equity = a.Balance
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, model.Transaction{Type: types.TransactionTypeAdjustment, Amount: a.Balance, BalanceAfter: a.Balance}); err != nil {
			return err
		}
		_, err := tx.InsertPosition(ctx, model.Position{
			ID: posID, Symbol: "EURUSD", Side: types.SideBuy, LotSize: decimal.RequireFromString("0.1"),
			EntryPrice: decimal.RequireFromString("1.1"), CurrentPrice: decimal.RequireFromString("1.1"),
			Leverage: 100, Margin: decimal.NewFromInt(110), Status: types.PositionStatusOpen,
		})
		return err
	})
	require.NoError(t, err)

	p, err := st.GetPosition(ctx, acc.ID, posID)
	require.NoError(t, err)
	assert.True(t, p.IsOpen())
	assert.Nil(t, p.StopLoss)

	sum, err := st.SumTransactionDeltas(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1000)))

	boom := errors.New("abort")
	err = st.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Position(ctx, posID)
		if err != nil {
			return err
		}
		p.Status = types.PositionStatusClosed
		if err := tx.SavePosition(ctx, p); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	p, err = st.GetPosition(ctx, acc.ID, posID)
	require.NoError(t, err)
	assert.True(t, p.IsOpen(), "rolled back")
}

func TestRecordCommissionOnce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	beneficiary := "ib-" + uuid.NewString()
	rec := model.CommissionRecord{
		PositionID: uuid.NewString(), PayerAccountID: uuid.NewString(), BeneficiaryID: beneficiary,
		RateType: types.CommissionPerLot, Rate: decimal.NewFromInt(2), Amount: decimal.NewFromInt(2),
	}

	var wg sync.WaitGroup
	created := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := st.RecordCommission(ctx, rec)
			if err == nil {
				created <- ok
			}
		}()
	}
	wg.Wait()
	close(created)
	n := 0
	for ok := range created {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)

	earned, err := st.IBEarnings(ctx, beneficiary)
	require.NoError(t, err)
	assert.True(t, earned.Equal(decimal.NewFromInt(2)))

	existing, again, err := st.RecordCommission(ctx, rec)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, types.CommissionStatusPending, existing.Status)
}

func TestAfterCommitSkippedOnRollback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc, err := st.CreateAccount(ctx, model.Account{UserID: "pg-user-" + uuid.NewString(), Leverage: 100, Currency: "USD", IsActive: true})
	require.NoError(t, err)

	calls := 0
	err = st.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		tx.AfterCommit(func() { calls++ })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Zero(t, calls)

	err = st.WithAccount(ctx, acc.ID, func(ctx context.Context, tx store.Tx) error {
		tx.AfterCommit(func() { calls++ })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
