package fees

import (
	"context"
	"sync"
)

// StaticConfig is an in-process ConfigSource. It backs the in-memory store
// and tests.
type StaticConfig struct {
	mu        sync.RWMutex
	charges   []TradeCharge
	referrers map[string]Referrer
}

var _ ConfigSource = (*StaticConfig)(nil)

func NewStaticConfig(charges ...TradeCharge) *StaticConfig {
	return &StaticConfig{
		charges:   append([]TradeCharge(nil), charges...),
		referrers: make(map[string]Referrer),
	}
}

func (s *StaticConfig) SetCharges(charges ...TradeCharge) {
	s.mu.Lock()
	s.charges = append([]TradeCharge(nil), charges...)
	s.mu.Unlock()
}

func (s *StaticConfig) SetReferrer(accountID string, ref Referrer) {
	s.mu.Lock()
	s.referrers[accountID] = ref
	s.mu.Unlock()
}

func (s *StaticConfig) TradeCharges(_ context.Context) ([]TradeCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TradeCharge(nil), s.charges...), nil
}

func (s *StaticConfig) Referrer(_ context.Context, accountID string) (*Referrer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.referrers[accountID]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}
