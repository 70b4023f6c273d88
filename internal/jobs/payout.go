package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/models"
)

// share is one recipient of a job payout, weighted against the other recipients.
type share struct {
	id     uuid.UUID
	kind   models.RecipientType
	weight decimal.Decimal
}

var one = decimal.NewFromInt(1)

// recipients lists who gets paid for a job. A team job weighs each assignment by its slot's budget
// share divided by the workers the slot needs.
func (s *Service) recipients(ctx context.Context, tx pgx.Tx, j *models.Job) ([]share, error) {
	switch {
	case j.AssignedAgencyID != nil:
		return []share{{id: *j.AssignedAgencyID, kind: models.RecipientAgency, weight: one}}, nil
	case j.AssignedWorkerID != nil:
		return []share{{id: *j.AssignedWorkerID, kind: models.RecipientWorker, weight: one}}, nil
	case !j.IsTeamJob:
		return nil, apperr.InvalidState("job %s has nobody to pay", j.ID)
	}

	slots, err := s.Repo.ListSlots(ctx, tx, j.ID)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[uuid.UUID]*models.SkillSlot, len(slots))
	for _, sl := range slots {
		bySlot[sl.ID] = sl
	}
	list, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
	if err != nil {
		return nil, err
	}
	var out []share
	for _, a := range list {
		if a.Status == models.AssignmentCancelled || a.SlotID == nil {
			continue
		}
		sl, ok := bySlot[*a.SlotID]
		if !ok || sl.WorkersNeeded == 0 {
			return nil, apperr.Invariant("assignment %s points at unknown slot %s", a.ID, *a.SlotID)
		}
		out = append(out, share{
			id:     a.WorkerID,
			kind:   models.RecipientWorker,
			weight: sl.BudgetShare.Div(decimal.NewFromInt(int64(sl.WorkersNeeded))),
		})
	}
	if len(out) == 0 {
		return nil, apperr.InvalidState("team job %s has no assigned workers", j.ID)
	}
	return out, nil
}

// split divides total by weight, truncating to centavos. The cents lost to truncation go to the
// first recipient so the parts always sum to total.
func split(total decimal.Decimal, shares []share) []decimal.Decimal {
	out := make([]decimal.Decimal, len(shares))
	if len(shares) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, sh := range shares {
		sum = sum.Add(sh.weight)
	}
	paid := decimal.Zero
	for i, sh := range shares {
		out[i] = total.Mul(sh.weight).Div(sum).Truncate(2)
		paid = paid.Add(out[i])
	}
	out[0] = out[0].Add(total.Sub(paid))
	return out
}

// lockWallets takes the client and recipient wallet locks in account id order.
func (s *Service) lockWallets(ctx context.Context, tx pgx.Tx, j *models.Job, shares []share) error {
	ids := []uuid.UUID{j.ClientID}
	for _, sh := range shares {
		ids = append(ids, sh.id)
	}
	return s.Wallet.LockMany(ctx, tx, ids...)
}

// payout releases total of the held escrow to the recipients through the payment buffer.
func (s *Service) payout(ctx context.Context, tx pgx.Tx, j *models.Job, shares []share, total decimal.Decimal) error {
	if !total.IsPositive() {
		return nil
	}
	for i, amount := range split(total, shares) {
		if !amount.IsPositive() {
			continue
		}
		if _, err := s.Escrow.SettlePayout(ctx, tx, j, amount, shares[i].id, shares[i].kind); err != nil {
			return err
		}
	}
	return nil
}

// finish moves the job to COMPLETED and closes its assignments.
func (s *Service) finish(ctx context.Context, tx pgx.Tx, j *models.Job, actor *models.Actor, event, notes string) error {
	old := j.Status
	j.ClientMarkedComplete, j.ClientMarkedCompleteAt = true, s.now()
	j.Status, j.CompletedAt = models.JobCompleted, s.now()

	workers, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
	if err != nil {
		return err
	}
	for _, a := range workers {
		if a.Status == models.AssignmentActive {
			a.Status = models.AssignmentCompleted
			if err := s.Repo.UpdateWorkerAssignment(ctx, tx, a); err != nil {
				return err
			}
		}
	}
	employees, err := s.Repo.ListEmployeeAssignments(ctx, tx, j.ID)
	if err != nil {
		return err
	}
	for _, a := range employees {
		if a.Status == models.AssignmentActive {
			a.Status = models.AssignmentCompleted
			if err := s.Repo.UpdateEmployeeAssignment(ctx, tx, a); err != nil {
				return err
			}
		}
	}
	return s.save(ctx, tx, j, actor, event, old, notes)
}
