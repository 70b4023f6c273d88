package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

type ApplyInput struct {
	BudgetOption      models.BudgetOption
	ProposedBudget    decimal.Decimal
	SelectedMaterials []string
	SlotID            *uuid.UUID
	Message           string
}

// ApplyToJob files a worker application on an ACTIVE listing.
func (s *Service) ApplyToJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, in ApplyInput) (*models.Application, error) {
	if _, err := s.authorize(ctx, actor, models.ProfileWorker); err != nil {
		return nil, err
	}
	var app *models.Application
	err := s.run(ctx, "apply", func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lock(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if j.JobType != models.JobListing || j.Status != models.JobActive {
			return nil, apperr.InvalidState("job %s is not open for applications", j.ID)
		}
		if j.ClientID == actor.AccountID {
			return nil, apperr.Conflict("cannot apply to your own job")
		}

		app = &models.Application{
			ID:                uuid.New(),
			JobID:             j.ID,
			WorkerID:          actor.AccountID,
			Status:            models.ApplicationPending,
			BudgetOption:      in.BudgetOption,
			ProposedBudget:    j.Budget,
			SelectedMaterials: in.SelectedMaterials,
			Message:           in.Message,
		}
		switch in.BudgetOption {
		case models.BudgetAccept, "":
			app.BudgetOption = models.BudgetAccept
		case models.BudgetNegotiate:
			if j.PaymentModel == models.PaymentDaily || j.IsTeamJob {
				return nil, apperr.InvalidInput("the budget of job %s is not negotiable", j.ID)
			}
			if !in.ProposedBudget.IsPositive() {
				return nil, apperr.InvalidInput("a negotiated budget must be positive")
			}
			app.ProposedBudget = models.Round2(in.ProposedBudget)
		default:
			return nil, apperr.InvalidInput("unknown budget option %q", in.BudgetOption)
		}

		if j.IsTeamJob {
			if in.SlotID == nil {
				return nil, apperr.InvalidInput("team job applications must name a slot")
			}
			if err := s.openSlot(ctx, tx, j, *in.SlotID); err != nil {
				return nil, err
			}
			app.SlotID = in.SlotID
		} else if in.SlotID != nil {
			return nil, apperr.InvalidInput("job %s has no slots", j.ID)
		}

		if err := s.Repo.InsertApplication(ctx, tx, app); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, apperr.Conflict("you already applied to job %s", j.ID)
			}
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "application_created", j.Status, app.ID.String()); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ApplicationCreated, j.ID, j.ClientID).With("application_id", app.ID.String())}, nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *Service) openSlot(ctx context.Context, tx pgx.Tx, j *models.Job, slotID uuid.UUID) error {
	slots, err := s.Repo.ListSlots(ctx, tx, j.ID)
	if err != nil {
		return err
	}
	for _, sl := range slots {
		if sl.ID == slotID {
			if sl.Status != models.SlotOpen {
				return apperr.InvalidState("slot %s is filled", slotID)
			}
			return nil
		}
	}
	return apperr.NotFound("slot %s not found on job %s", slotID, j.ID)
}

// application locks an application and checks it belongs to the job.
func (s *Service) application(ctx context.Context, tx pgx.Tx, jobID, appID uuid.UUID) (*models.Application, error) {
	a, err := s.Repo.GetApplicationForUpdate(ctx, tx, appID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && a.JobID != jobID) {
		return nil, apperr.NotFound("application %s not found on job %s", appID, jobID)
	}
	return a, err
}

// AcceptApplication hires the applicant. On a single-worker job it captures escrow plus fee (after
// re-reserving for a renegotiated budget), rejects the competing applications and starts the job.
// On a team job it fills the applied slot and starts the job once every slot is filled.
func (s *Service) AcceptApplication(ctx context.Context, actor models.Actor, jobID, appID uuid.UUID) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "accept_application", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if j.JobType != models.JobListing || j.Status != models.JobActive {
			return nil, apperr.InvalidState("job %s is not accepting applications", j.ID)
		}
		app, err := s.application(ctx, tx, j.ID, appID)
		if err != nil {
			return nil, err
		}
		if app.Status != models.ApplicationPending {
			return nil, apperr.InvalidState("application %s is %s", app.ID, app.Status)
		}
		if err := s.Assign.EnsureAvailable(ctx, tx, app.WorkerID); err != nil {
			return nil, err
		}

		old := j.Status
		if j.IsTeamJob {
			if app.SlotID == nil {
				return nil, apperr.Invariant("team application %s has no slot", app.ID)
			}
			_, full, err := s.Assign.FillSlot(ctx, tx, j, *app.SlotID, app.WorkerID)
			if err != nil {
				return nil, err
			}
			if full {
				if err := s.Escrow.CaptureFor(ctx, tx, j); err != nil {
					return nil, err
				}
				j.Status = models.JobInProgress
			}
		} else {
			if err := s.hire(ctx, tx, j, app); err != nil {
				return nil, err
			}
			j.AssignedWorkerID = &app.WorkerID
			j.Status = models.JobInProgress
		}

		app.Status = models.ApplicationAccepted
		if err := s.Repo.UpdateApplicationStatus(ctx, tx, app); err != nil {
			return nil, err
		}
		rejected, err := s.Assign.RejectCompeting(ctx, tx, j, app)
		if err != nil {
			return nil, err
		}
		if err := s.save(ctx, tx, j, &actor, "application_accepted", old, app.ID.String()); err != nil {
			return nil, err
		}

		evs := []events.Event{events.New(events.ApplicationAccepted, j.ID, app.WorkerID).With("application_id", app.ID.String())}
		evs = append(evs, rejectedEvents(rejected, "another applicant was hired")...)
		if j.Status == models.JobInProgress {
			others, err := s.participants(ctx, tx, j)
			if err != nil {
				return nil, err
			}
			evs = append(evs, events.New(events.JobStarted, j.ID, append(others, j.ClientID)...))
		}
		return evs, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// hire captures the money for a single-worker listing. A renegotiated budget replaces the
// reservation first; a shortfall rolls the whole acceptance back and leaves the old reservation.
func (s *Service) hire(ctx context.Context, tx pgx.Tx, j *models.Job, app *models.Application) error {
	if j.EscrowPaid {
		return nil
	}
	if app.Renegotiated(j.Budget) {
		j.Budget = app.ProposedBudget
		if err := s.Escrow.Rereserve(ctx, tx, j); err != nil {
			return err
		}
	}
	return s.Escrow.CaptureFor(ctx, tx, j)
}

// RejectApplication turns down a PENDING application.
func (s *Service) RejectApplication(ctx context.Context, actor models.Actor, jobID, appID uuid.UUID, reason string) (*models.Application, error) {
	var app *models.Application
	err := s.run(ctx, "reject_application", func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lock(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if app, err = s.application(ctx, tx, j.ID, appID); err != nil {
			return nil, err
		}
		if app.Status != models.ApplicationPending {
			return nil, apperr.InvalidState("application %s is %s", app.ID, app.Status)
		}
		app.Status = models.ApplicationRejected
		if err := s.Repo.UpdateApplicationStatus(ctx, tx, app); err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "application_rejected", j.Status, reason); err != nil {
			return nil, err
		}
		return rejectedEvents([]*models.Application{app}, reason), nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// WithdrawApplication lets a worker pull back a PENDING application.
func (s *Service) WithdrawApplication(ctx context.Context, actor models.Actor, jobID, appID uuid.UUID) (*models.Application, error) {
	if actor.Profile != models.ProfileWorker {
		return nil, apperr.Forbidden("only workers withdraw applications")
	}
	var app *models.Application
	err := s.run(ctx, "withdraw_application", func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lock(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if app, err = s.application(ctx, tx, j.ID, appID); err != nil {
			return nil, err
		}
		if app.WorkerID != actor.AccountID {
			return nil, apperr.Forbidden("application %s is not yours", app.ID)
		}
		if app.Status != models.ApplicationPending {
			return nil, apperr.InvalidState("application %s is %s", app.ID, app.Status)
		}
		app.Status = models.ApplicationWithdrawn
		if err := s.Repo.UpdateApplicationStatus(ctx, tx, app); err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "application_withdrawn", j.Status, app.ID.String()); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ApplicationWithdrawn, j.ID, j.ClientID).With("application_id", app.ID.String())}, nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}
