// Package memory is a single-process Store. Each account is guarded by its
// own mutex and writes made inside WithAccount are staged until fn succeeds.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lv-tradecore/internal/errs"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu           sync.RWMutex
	accounts     map[string]model.Account
	positions    map[string]model.Position
	byAccount    map[string][]string
	transactions map[string][]model.Transaction
	history      map[string][]model.TradeHistory
	commissions  map[string]model.CommissionRecord
	earnings     map[string]decimal.Decimal

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[string]model.Account),
		positions:    make(map[string]model.Position),
		byAccount:    make(map[string][]string),
		transactions: make(map[string][]model.Transaction),
		history:      make(map[string][]model.TradeHistory),
		commissions:  make(map[string]model.CommissionRecord),
		earnings:     make(map[string]decimal.Decimal),
		locks:        make(map[string]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) accountLock(accountID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

func (s *Store) CreateAccount(_ context.Context, acc model.Account) (model.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	now := s.now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.ID]; exists {
		return model.Account{}, errs.Invalid("account already exists")
	}
	s.accounts[acc.ID] = acc
	return acc, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, errs.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Store) ListAccountsByUser(_ context.Context, userID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, 2)
	for _, acc := range s.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPosition(_ context.Context, accountID, positionID string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionID]
	if !ok || p.AccountID != accountID {
		return model.Position{}, errs.ErrPositionNotFound
	}
	return p, nil
}

func (s *Store) ListPositions(_ context.Context, accountID string, status types.PositionStatus) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0)
	for _, id := range s.byAccount[accountID] {
		p := s.positions[id]
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.After(out[j].OpenTime) })
	return out, nil
}

func (s *Store) ListOpenPositionsBySymbol(_ context.Context, symbol string) ([]model.Position, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0)
	for _, p := range s.positions {
		if p.Status == types.PositionStatusOpen && p.Symbol == sym {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]model.Transaction, error) {
	limit = store.ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.transactions[accountID]
	out := make([]model.Transaction, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (s *Store) SumTransactionDeltas(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range s.transactions[accountID] {
		sum = sum.Add(t.Delta())
	}
	return sum, nil
}

func (s *Store) ListTradeHistory(_ context.Context, accountID string, limit int) ([]model.TradeHistory, error) {
	limit = store.ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.history[accountID]
	out := make([]model.TradeHistory, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (s *Store) RecordCommission(_ context.Context, rec model.CommissionRecord) (model.CommissionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.commissions[rec.PositionID]; ok {
		return existing, false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Status == "" {
		rec.Status = types.CommissionStatusPending
	}
	s.commissions[rec.PositionID] = rec
	s.earnings[rec.BeneficiaryID] = s.earnings[rec.BeneficiaryID].Add(rec.Amount)
	return rec, true, nil
}

func (s *Store) IBEarnings(_ context.Context, beneficiaryID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.earnings[beneficiaryID], nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) WithAccount(ctx context.Context, accountID string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	tx := &memTx{
		s:         s,
		account:   acc,
		positions: make(map[string]model.Position),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	for _, f := range tx.afterCommit {
		f()
	}
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := tx.account.ID
	if tx.accountDirty {
		s.accounts[id] = tx.account
	}
	for _, pid := range tx.inserted {
		s.byAccount[id] = append(s.byAccount[id], pid)
	}
	for pid, p := range tx.positions {
		s.positions[pid] = p
	}
	s.transactions[id] = append(s.transactions[id], tx.transactions...)
	s.history[id] = append(s.history[id], tx.history...)
}

// memTx stages writes for one account. Reads see staged values first.
type memTx struct {
	s            *Store
	account      model.Account
	accountDirty bool
	positions    map[string]model.Position
	inserted     []string
	transactions []model.Transaction
	history      []model.TradeHistory
	afterCommit  []func()
}

func (t *memTx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *memTx) Account(context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *memTx) SaveAccount(_ context.Context, acc model.Account) error {
	if acc.ID != t.account.ID {
		return errs.ErrAccountNotFound
	}
	acc.UpdatedAt = t.s.now()
	t.account = acc
	t.accountDirty = true
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, row model.Transaction) (model.Transaction, error) {
	row.ID = uuid.NewString()
	row.AccountID = t.account.ID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = t.s.now()
	}
	t.transactions = append(t.transactions, row)
	return row, nil
}

func (t *memTx) Position(_ context.Context, positionID string) (model.Position, error) {
	if p, ok := t.positions[positionID]; ok {
		return p, nil
	}
	t.s.mu.RLock()
	p, ok := t.s.positions[positionID]
	t.s.mu.RUnlock()
	if !ok || p.AccountID != t.account.ID {
		return model.Position{}, errs.ErrPositionNotFound
	}
	return p, nil
}

func (t *memTx) InsertPosition(_ context.Context, p model.Position) (model.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, taken := t.positions[p.ID]; taken {
		return model.Position{}, errs.Invalid("duplicate position id")
	}
	p.AccountID = t.account.ID
	if p.OpenTime.IsZero() {
		p.OpenTime = t.s.now()
	}
	t.positions[p.ID] = p
	t.inserted = append(t.inserted, p.ID)
	return p, nil
}

func (t *memTx) SavePosition(ctx context.Context, p model.Position) error {
	if _, err := t.Position(ctx, p.ID); err != nil {
		return err
	}
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) OpenPositions(_ context.Context) ([]model.Position, error) {
	t.s.mu.RLock()
	ids := append([]string(nil), t.s.byAccount[t.account.ID]...)
	committed := make(map[string]model.Position, len(ids))
	for _, id := range ids {
		committed[id] = t.s.positions[id]
	}
	t.s.mu.RUnlock()

	ids = append(ids, t.inserted...)
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		p, staged := t.positions[id]
		if !staged {
			p = committed[id]
		}
		if p.Status == types.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) InsertTradeHistory(_ context.Context, h model.TradeHistory) (model.TradeHistory, error) {
	h.ID = uuid.NewString()
	h.AccountID = t.account.ID
	t.history = append(t.history, h)
	return h, nil
}
