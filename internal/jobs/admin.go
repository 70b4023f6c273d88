package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/models"
)

// SettleDailyEscrow closes out the escrow a DAILY job never paid out: REFUND returns it to the
// client, RELEASE pays it to the recipients through the buffer. It runs once per job.
func (s *Service) SettleDailyEscrow(ctx context.Context, actor models.Actor, jobID uuid.UUID, outcome models.DailySettlement) (*models.Job, error) {
	if _, err := s.authorize(ctx, actor, models.ProfileAdmin); err != nil {
		return nil, err
	}
	if outcome != models.DailyRefunded && outcome != models.DailyReleased {
		return nil, apperr.InvalidInput("unknown settlement outcome %q", outcome)
	}
	var (
		j      *models.Job
		amount decimal.Decimal
	)
	err := s.run(ctx, "settle_daily_escrow", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if j.PaymentModel != models.PaymentDaily {
			return nil, apperr.InvalidState("job %s is not a daily job", j.ID)
		}
		if !j.Status.Terminal() {
			return nil, apperr.InvalidState("job %s is %s; settle it once it is completed or cancelled", j.ID, j.Status)
		}
		if j.DailySettlement != models.DailyUnsettled {
			return nil, apperr.InvalidState("job %s was already settled (%s)", j.ID, j.DailySettlement)
		}

		amount = j.UnreleasedEscrow()
		switch outcome {
		case models.DailyRefunded:
			if _, err := s.Escrow.RefundUnreleased(ctx, tx, j); err != nil {
				return nil, err
			}
		case models.DailyReleased:
			if amount.IsPositive() {
				shares, err := s.recipients(ctx, tx, j)
				if err != nil {
					return nil, err
				}
				if err := s.lockWallets(ctx, tx, j, shares); err != nil {
					return nil, err
				}
				if err := s.payout(ctx, tx, j, shares, amount); err != nil {
					return nil, err
				}
			}
		}
		j.DailySettlement, j.DailySettledAt = outcome, s.now()
		if err := s.save(ctx, tx, j, &actor, "daily_settled", j.Status, string(outcome)+" "+amount.StringFixed(2)); err != nil {
			return nil, err
		}
		others, err := s.participants(ctx, tx, j)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.JobDailySettled, j.ID, append(others, j.ClientID)...).
			With("outcome", string(outcome)).With("amount", amount.StringFixed(2))}, nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("daily escrow settled", "job_id", j.ID, "outcome", outcome, "amount", amount.StringFixed(2))
	return j, nil
}

// VerifyCashProof marks the cash proof of a CASH-settled job as reviewed.
func (s *Service) VerifyCashProof(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	if _, err := s.authorize(ctx, actor, models.ProfileAdmin); err != nil {
		return nil, err
	}
	var j *models.Job
	err := s.run(ctx, "verify_cash_proof", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if j.FinalPaymentMethod != models.MethodCash || j.CashProofURL == "" {
			return nil, apperr.InvalidState("job %s has no cash proof", j.ID)
		}
		if j.CashPaymentApproved {
			return nil, apperr.InvalidState("cash proof of job %s was already verified", j.ID)
		}
		j.CashPaymentApproved = true
		return nil, s.save(ctx, tx, j, &actor, "cash_proof_verified", j.Status, j.CashProofURL)
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}
