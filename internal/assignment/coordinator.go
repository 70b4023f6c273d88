// Package assignment keeps a freelance worker on at most one engagement at a time, rejects the
// applications an acceptance makes moot, fills team slots and dispatches agency employees.
package assignment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

type Repo interface {
	LockAccountForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	FindActiveAssignmentForWorker(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) (*models.WorkerAssignment, error)
	FindInProgressJobForWorker(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) (*models.Job, error)
	RejectPendingApplicationsForJob(ctx context.Context, tx pgx.Tx, jobID, exceptID uuid.UUID) ([]*models.Application, error)
	RejectPendingApplicationsForWorker(ctx context.Context, tx pgx.Tx, workerID, exceptJobID uuid.UUID) ([]*models.Application, error)
	ListSlots(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.SkillSlot, error)
	GetSlotForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.SkillSlot, error)
	UpdateSlot(ctx context.Context, tx pgx.Tx, s *models.SkillSlot) error
	InsertWorkerAssignment(ctx context.Context, tx pgx.Tx, a *models.WorkerAssignment) error
	GetEmployee(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AgencyEmployee, error)
	InsertEmployeeAssignment(ctx context.Context, tx pgx.Tx, a *models.EmployeeAssignment) error
}

type Coordinator struct {
	Repo Repo
}

func NewCoordinator(repo Repo) *Coordinator {
	return &Coordinator{Repo: repo}
}

// HasActiveEngagement reports the job a worker is currently engaged on: an ACTIVE team
// assignment or an IN_PROGRESS job with the worker assigned.
func (c *Coordinator) HasActiveEngagement(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) (uuid.UUID, bool, error) {
	a, err := c.Repo.FindActiveAssignmentForWorker(ctx, tx, workerID)
	switch {
	case err == nil:
		return a.JobID, true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return uuid.Nil, false, err
	}
	j, err := c.Repo.FindInProgressJobForWorker(ctx, tx, workerID)
	switch {
	case err == nil:
		return j.ID, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return uuid.Nil, false, nil
	default:
		return uuid.Nil, false, err
	}
}

// EnsureAvailable locks the worker's account row and fails with a conflict when the worker is
// engaged on another job. The lock is held until tx ends, so concurrent hires of one worker
// serialize on it whether they come from an application or an invite.
func (c *Coordinator) EnsureAvailable(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) error {
	if err := c.Repo.LockAccountForUpdate(ctx, tx, workerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("worker %s not found", workerID)
		}
		return err
	}
	jobID, busy, err := c.HasActiveEngagement(ctx, tx, workerID)
	if err != nil {
		return err
	}
	if busy {
		return apperr.Conflict("worker %s already has an active job %s", workerID, jobID)
	}
	return nil
}

// RejectCompeting rejects what an accepted application makes moot: the other PENDING
// applications on a single-worker job, and the winner's PENDING applications on other jobs.
// Team jobs keep their other applications.
func (c *Coordinator) RejectCompeting(ctx context.Context, tx pgx.Tx, job *models.Job, accepted *models.Application) ([]*models.Application, error) {
	var rejected []*models.Application
	if !job.IsTeamJob {
		same, err := c.Repo.RejectPendingApplicationsForJob(ctx, tx, job.ID, accepted.ID)
		if err != nil {
			return nil, err
		}
		rejected = append(rejected, same...)
	}
	cross, err := c.Repo.RejectPendingApplicationsForWorker(ctx, tx, accepted.WorkerID, job.ID)
	if err != nil {
		return nil, err
	}
	return append(rejected, cross...), nil
}

// FillSlot places a worker on a team slot and reports whether every slot of the job is now filled.
func (c *Coordinator) FillSlot(ctx context.Context, tx pgx.Tx, job *models.Job, slotID, workerID uuid.UUID) (*models.WorkerAssignment, bool, error) {
	slot, err := c.Repo.GetSlotForUpdate(ctx, tx, slotID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && slot.JobID != job.ID) {
		return nil, false, apperr.NotFound("slot %s not found on job %s", slotID, job.ID)
	}
	if err != nil {
		return nil, false, err
	}
	if slot.Status != models.SlotOpen || slot.WorkersFilled >= slot.WorkersNeeded {
		return nil, false, apperr.InvalidState("slot %s is already filled", slot.ID)
	}

	a := &models.WorkerAssignment{
		ID:       uuid.New(),
		JobID:    job.ID,
		WorkerID: workerID,
		SlotID:   &slot.ID,
		Status:   models.AssignmentActive,
	}
	if err := c.Repo.InsertWorkerAssignment(ctx, tx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, apperr.Conflict("worker %s already has an active assignment", workerID)
		}
		return nil, false, err
	}
	slot.WorkersFilled++
	if slot.WorkersFilled == slot.WorkersNeeded {
		slot.Status = models.SlotFilled
	}
	if err := c.Repo.UpdateSlot(ctx, tx, slot); err != nil {
		return nil, false, err
	}

	slots, err := c.Repo.ListSlots(ctx, tx, job.ID)
	if err != nil {
		return nil, false, err
	}
	for _, s := range slots {
		if s.Status != models.SlotFilled {
			return a, false, nil
		}
	}
	return a, true, nil
}

// AssignEmployees dispatches agency employees to a job. Every employee must belong to the agency
// and be active; an employee already on the job is a conflict.
func (c *Coordinator) AssignEmployees(ctx context.Context, tx pgx.Tx, job *models.Job, agencyID uuid.UUID, employeeIDs []uuid.UUID) ([]*models.EmployeeAssignment, error) {
	if len(employeeIDs) == 0 {
		return nil, apperr.InvalidInput("at least one employee is required")
	}
	out := make([]*models.EmployeeAssignment, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		e, err := c.Repo.GetEmployee(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("employee %s not found", id)
		}
		if err != nil {
			return nil, err
		}
		if e.AgencyID != agencyID {
			return nil, apperr.Forbidden("employee %s does not belong to agency %s", id, agencyID)
		}
		if !e.Active {
			return nil, apperr.InvalidInput("employee %s is inactive", id)
		}
		a := &models.EmployeeAssignment{
			ID:         uuid.New(),
			JobID:      job.ID,
			AgencyID:   agencyID,
			EmployeeID: id,
			Status:     models.AssignmentActive,
		}
		if err := c.Repo.InsertEmployeeAssignment(ctx, tx, a); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, apperr.Conflict("employee %s is already assigned to job %s", id, job.ID)
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
