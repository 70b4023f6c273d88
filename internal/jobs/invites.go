package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/models"
)

// pendingInvite locks an INVITE job still waiting for the actor's answer.
func (s *Service) pendingInvite(ctx context.Context, tx pgx.Tx, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.lock(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if j.JobType != models.JobInvite {
		return nil, apperr.InvalidState("job %s is not an invite", j.ID)
	}
	if !isInvitee(j, actor) {
		return nil, apperr.Forbidden("job %s was not offered to you", j.ID)
	}
	if j.Status != models.JobActive || j.InviteResponse != models.InvitePending {
		return nil, apperr.InvalidState("invite for job %s was already answered (%s)", j.ID, j.InviteResponse)
	}
	return j, nil
}

func isInvitee(j *models.Job, actor models.Actor) bool {
	switch actor.Profile {
	case models.ProfileWorker:
		return j.IsAssignedWorker(actor.AccountID)
	case models.ProfileAgency:
		return j.IsAssignedAgency(actor.AccountID)
	}
	return false
}

// AcceptInvite starts an invite job. Escrow was captured when the invite was posted.
func (s *Service) AcceptInvite(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "accept_invite", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.pendingInvite(ctx, tx, actor, jobID); err != nil {
			return nil, err
		}
		if !j.EscrowPaid {
			return nil, apperr.Invariant("invite job %s has no captured escrow", j.ID)
		}
		if actor.Profile == models.ProfileWorker {
			if err := s.Assign.EnsureAvailable(ctx, tx, actor.AccountID); err != nil {
				return nil, err
			}
		}
		old := j.Status
		j.InviteResponse = models.InviteAccepted
		j.Status = models.JobInProgress
		if err := s.save(ctx, tx, j, &actor, "invite_accepted", old, ""); err != nil {
			return nil, err
		}
		return []events.Event{
			events.New(events.JobInviteAccepted, j.ID, j.ClientID),
			events.New(events.JobStarted, j.ID, j.ClientID, actor.AccountID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// RejectInvite declines an invite and refunds escrow plus fee to the client.
func (s *Service) RejectInvite(ctx context.Context, actor models.Actor, jobID uuid.UUID, reason string) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "reject_invite", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.pendingInvite(ctx, tx, actor, jobID); err != nil {
			return nil, err
		}
		refunded, err := s.Escrow.RefundFor(ctx, tx, j)
		if err != nil {
			return nil, err
		}
		old := j.Status
		j.InviteResponse = models.InviteRejected
		j.InviteRejectReason = reason
		j.Status, j.CancelledAt = models.JobCancelled, s.now()
		if err := s.save(ctx, tx, j, &actor, "invite_rejected", old, reason); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.JobInviteRejected, j.ID, j.ClientID).
			With("reason", reason).With("refunded", refunded.StringFixed(2))}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// AssignEmployees dispatches the agency's employees to an accepted agency invite.
func (s *Service) AssignEmployees(ctx context.Context, actor models.Actor, jobID uuid.UUID, employeeIDs []uuid.UUID) ([]*models.EmployeeAssignment, error) {
	if _, err := s.authorize(ctx, actor, models.ProfileAgency); err != nil {
		return nil, err
	}
	var out []*models.EmployeeAssignment
	err := s.run(ctx, "assign_employees", func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lock(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if !j.IsAssignedAgency(actor.AccountID) {
			return nil, apperr.Forbidden("job %s is not assigned to your agency", j.ID)
		}
		if j.Status != models.JobInProgress || j.InviteResponse != models.InviteAccepted {
			return nil, apperr.InvalidState("employees can only be assigned to an accepted job in progress")
		}
		if out, err = s.Assign.AssignEmployees(ctx, tx, j, actor.AccountID, employeeIDs); err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "employees_assigned", j.Status, ""); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.EmployeesAssigned, j.ID, j.ClientID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
