package positions

import (
	"context"
	"time"

	"lv-tradecore/internal/fees"
	"lv-tradecore/internal/metrics"
)

const commissionTimeout = 5 * time.Second

// recordCommission runs after the close committed. A failure here never
// undoes the close; it is logged with the position id for reconciliation.
func (s *Service) recordCommission(ctx context.Context, in fees.CommissionInput) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commissionTimeout)
	defer cancel()

	rec, err := s.fees.Commission(ctx, in)
	if err != nil {
		s.commissionFailed(in, err)
		return
	}
	if rec == nil {
		return
	}
	saved, created, err := s.store.RecordCommission(ctx, *rec)
	if err != nil {
		s.commissionFailed(in, err)
		return
	}
	if !created {
		s.log.Debug().Str("position_id", in.PositionID).Msg("commission already recorded")
		return
	}
	s.log.Info().
		Str("position_id", in.PositionID).
		Str("beneficiary_id", saved.BeneficiaryID).
		Str("rate_type", string(saved.RateType)).
		Str("amount", saved.Amount.String()).
		Msg("commission recorded")
}

func (s *Service) commissionFailed(in fees.CommissionInput, err error) {
	metrics.CommissionFailures.Inc()
	s.log.Error().
		Err(err).
		Str("position_id", in.PositionID).
		Str("account_id", in.AccountID).
		Msg("commission not recorded, needs reconciliation")
}
