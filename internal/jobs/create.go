package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

type SlotInput struct {
	Specialization string
	WorkersNeeded  int
	SkillLevel     string
	BudgetShare    decimal.Decimal
}

// CreateInput describes a new job. DAILY jobs derive their budget from DailyRate and DurationDays.
// InviteeID names the worker or agency account of an INVITE job.
type CreateInput struct {
	Title        string
	Description  string
	Location     string
	CategoryID   int64
	Urgency      models.Urgency
	Channel      models.Channel
	Materials    []string
	PaymentModel models.PaymentModel
	Budget       decimal.Decimal
	DailyRate    decimal.Decimal
	DurationDays int
	JobType      models.JobType
	InviteeID    *uuid.UUID
	Slots        []SlotInput
}

// CreateJob posts a job. A PROJECT LISTING reserves escrow plus fee on the client wallet; INVITE and
// DAILY jobs capture both up front.
func (s *Service) CreateJob(ctx context.Context, actor models.Actor, in CreateInput) (*models.Job, error) {
	client, err := s.authorize(ctx, actor, models.ProfileClient)
	if err != nil {
		return nil, err
	}
	if !client.KYCVerified {
		return nil, apperr.Forbidden("account %s must pass KYC before posting jobs", client.ID)
	}
	j, err := s.newJob(ctx, client, in)
	if err != nil {
		return nil, err
	}

	err = s.run(ctx, "create", func(tx pgx.Tx) ([]events.Event, error) {
		if err := s.Repo.InsertJob(ctx, tx, j); err != nil {
			return nil, err
		}
		fund := s.Escrow.CaptureFor
		if j.JobType == models.JobListing && j.PaymentModel == models.PaymentProject {
			fund = s.Escrow.ReserveFor
		}
		if err := fund(ctx, tx, j); err != nil {
			return nil, err
		}
		for _, sl := range in.Slots {
			slot := &models.SkillSlot{
				ID:             uuid.New(),
				JobID:          j.ID,
				Specialization: strings.TrimSpace(sl.Specialization),
				WorkersNeeded:  sl.WorkersNeeded,
				SkillLevel:     sl.SkillLevel,
				Status:         models.SlotOpen,
				BudgetShare:    models.Round2(sl.BudgetShare),
			}
			if err := s.Repo.InsertSlot(ctx, tx, slot); err != nil {
				return nil, err
			}
		}
		if err := s.save(ctx, tx, j, &actor, "created", "", ""); err != nil {
			return nil, err
		}
		if j.JobType == models.JobInvite {
			return []events.Event{events.New(events.JobCreated, j.ID, j.ClientID, invitee(j)).With("invite", "true")}, nil
		}
		return []events.Event{events.New(events.JobCreated, j.ID, j.ClientID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func invitee(j *models.Job) uuid.UUID {
	if j.AssignedAgencyID != nil {
		return *j.AssignedAgencyID
	}
	if j.AssignedWorkerID != nil {
		return *j.AssignedWorkerID
	}
	return uuid.Nil
}

// newJob validates the input and builds the priced job without touching storage.
func (s *Service) newJob(ctx context.Context, client *models.Account, in CreateInput) (*models.Job, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.InvalidInput("title is required")
	}
	if _, err := s.Repo.GetCategory(ctx, in.CategoryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.InvalidInput("unknown category %d", in.CategoryID)
		}
		return nil, err
	}

	j := &models.Job{
		ID:                 uuid.New(),
		ClientID:           client.ID,
		CategoryID:         in.CategoryID,
		Title:              title,
		Description:        in.Description,
		Location:           in.Location,
		Urgency:            in.Urgency,
		Channel:            in.Channel,
		Materials:          in.Materials,
		PaymentModel:       in.PaymentModel,
		JobType:            in.JobType,
		TotalWorkersNeeded: 1,
		Status:             models.JobActive,
	}
	if j.Urgency == "" {
		j.Urgency = models.UrgencyMedium
	}
	if j.Channel == "" {
		j.Channel = models.ChannelWeb
	}

	switch in.PaymentModel {
	case models.PaymentProject:
		if !in.Budget.IsPositive() {
			return nil, apperr.InvalidInput("budget must be positive")
		}
		j.Budget = models.Round2(in.Budget)
	case models.PaymentDaily:
		if !in.DailyRate.IsPositive() || in.DurationDays <= 0 {
			return nil, apperr.InvalidInput("daily jobs need a positive daily rate and duration")
		}
		j.DailyRate = models.Round2(in.DailyRate)
		j.DurationDays = in.DurationDays
		j.Budget = j.DailyRate.Mul(decimal.NewFromInt(int64(in.DurationDays)))
	default:
		return nil, apperr.InvalidInput("unknown payment model %q", in.PaymentModel)
	}

	switch in.JobType {
	case models.JobListing:
		if in.InviteeID != nil {
			return nil, apperr.InvalidInput("listing jobs take no invitee")
		}
	case models.JobInvite:
		if err := s.attachInvitee(ctx, j, client, in.InviteeID); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.InvalidInput("unknown job type %q", in.JobType)
	}

	if len(in.Slots) > 0 {
		if in.JobType != models.JobListing || in.PaymentModel != models.PaymentProject {
			return nil, apperr.InvalidInput("team jobs must be PROJECT listings")
		}
		total, workers := decimal.Zero, 0
		for _, sl := range in.Slots {
			if sl.WorkersNeeded <= 0 || !sl.BudgetShare.IsPositive() || strings.TrimSpace(sl.Specialization) == "" {
				return nil, apperr.InvalidInput("every slot needs a specialization, workers and a positive budget share")
			}
			total = total.Add(models.Round2(sl.BudgetShare))
			workers += sl.WorkersNeeded
		}
		if !total.Equal(j.Budget) {
			return nil, apperr.InvalidInput("slot budget shares sum to %s, budget is %s", total, j.Budget)
		}
		j.IsTeamJob = true
		j.TotalWorkersNeeded = workers
	}

	s.Escrow.Price(j)
	return j, nil
}

func (s *Service) attachInvitee(ctx context.Context, j *models.Job, client *models.Account, id *uuid.UUID) error {
	if id == nil {
		return apperr.InvalidInput("invite jobs need an invitee")
	}
	if *id == client.ID {
		return apperr.Conflict("cannot invite yourself")
	}
	target, err := s.Repo.GetAccount(ctx, *id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("invitee %s not found", *id)
	}
	if err != nil {
		return err
	}
	switch {
	case target.Kind == models.AccountKindAgency:
		j.AssignedAgencyID = &target.ID
	case target.HasProfile(models.ProfileWorker):
		j.AssignedWorkerID = &target.ID
	default:
		return apperr.InvalidInput("account %s cannot be invited", target.ID)
	}
	j.InviteResponse = models.InvitePending
	return nil
}

// Patch carries the fields UpdateJob may change. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Location    *string
	Urgency     *models.Urgency
	Materials   []string
	Budget      *decimal.Decimal
}

// UpdateJob edits a job. A budget change is only possible on an ACTIVE single-worker PROJECT listing
// with no PENDING applications; it re-reserves the new escrow plus fee.
func (s *Service) UpdateJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, p Patch) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "update", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if j.Status != models.JobActive && j.Status != models.JobInProgress {
			return nil, apperr.InvalidState("job %s is %s", j.ID, j.Status)
		}
		var notes []string
		if p.Title != nil {
			t := strings.TrimSpace(*p.Title)
			if t == "" {
				return nil, apperr.InvalidInput("title is required")
			}
			j.Title = t
			notes = append(notes, "title")
		}
		if p.Description != nil {
			j.Description = *p.Description
			notes = append(notes, "description")
		}
		if p.Location != nil {
			j.Location = *p.Location
			notes = append(notes, "location")
		}
		if p.Urgency != nil {
			j.Urgency = *p.Urgency
			notes = append(notes, "urgency")
		}
		if p.Materials != nil {
			j.Materials = p.Materials
			notes = append(notes, "materials")
		}
		if p.Budget != nil && !p.Budget.Equal(j.Budget) {
			if err := s.changeBudget(ctx, tx, j, models.Round2(*p.Budget)); err != nil {
				return nil, err
			}
			notes = append(notes, "budget")
		}
		if err := s.save(ctx, tx, j, &actor, "updated", j.Status, strings.Join(notes, ",")); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.JobUpdated, j.ID, j.ClientID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) changeBudget(ctx context.Context, tx pgx.Tx, j *models.Job, budget decimal.Decimal) error {
	if j.Status == models.JobInProgress {
		return apperr.InvalidState("budget cannot change once work is in progress")
	}
	if j.EscrowPaid || j.PaymentModel != models.PaymentProject || j.JobType != models.JobListing || j.IsTeamJob {
		return apperr.InvalidState("budget of job %s is fixed", j.ID)
	}
	if !budget.IsPositive() {
		return apperr.InvalidInput("budget must be positive")
	}
	apps, err := s.Repo.ListApplicationsByJob(ctx, tx, j.ID)
	if err != nil {
		return err
	}
	for _, a := range apps {
		if a.Status == models.ApplicationPending {
			return apperr.InvalidState("job %s has pending applications", j.ID)
		}
	}
	cat, err := s.Repo.GetCategory(ctx, j.CategoryID)
	if err != nil {
		return err
	}
	if budget.LessThan(cat.MinimumRate) {
		return apperr.InvalidInput("budget %s is below the %s minimum of %s", budget, cat.Name, cat.MinimumRate)
	}
	j.Budget = budget
	return s.Escrow.Rereserve(ctx, tx, j)
}

// CancelJob cancels a job that has not started. Captured escrow and fee are refunded; an uncaptured
// reservation is released.
func (s *Service) CancelJob(ctx context.Context, actor models.Actor, jobID uuid.UUID, reason string) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "cancel", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if j.Status != models.JobActive && j.Status != models.JobPendingPayment {
			return nil, apperr.InvalidState("job %s is %s and cannot be cancelled", j.ID, j.Status)
		}
		evs, err := s.unwind(ctx, tx, j, "job cancelled")
		if err != nil {
			return nil, err
		}
		old := j.Status
		j.Status, j.CancelledAt = models.JobCancelled, s.now()
		if err := s.save(ctx, tx, j, &actor, "cancelled", old, reason); err != nil {
			return nil, err
		}
		others, err := s.participants(ctx, tx, j)
		if err != nil {
			return nil, err
		}
		return append(evs, events.New(events.JobCancelled, j.ID, append(others, j.ClientID)...).With("reason", reason)), nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// unwind refunds the job and closes everything hanging off it: open applications and team
// assignments. It returns the rejection events.
func (s *Service) unwind(ctx context.Context, tx pgx.Tx, j *models.Job, reason string) ([]events.Event, error) {
	if _, err := s.Escrow.RefundFor(ctx, tx, j); err != nil {
		return nil, err
	}
	rejected, err := s.Repo.RejectPendingApplicationsForJob(ctx, tx, j.ID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if j.IsTeamJob {
		list, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if a.Status == models.AssignmentActive {
				a.Status = models.AssignmentCancelled
				if err := s.Repo.UpdateWorkerAssignment(ctx, tx, a); err != nil {
					return nil, err
				}
			}
		}
	}
	return rejectedEvents(rejected, reason), nil
}

// DeleteJob removes an ACTIVE job nobody has been hired on, refunding it first, or a CANCELLED job.
func (s *Service) DeleteJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) error {
	return s.run(ctx, "delete", func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lock(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		var evs []events.Event
		switch j.Status {
		case models.JobCancelled:
		case models.JobActive, models.JobPendingPayment:
			if hired, err := s.hired(ctx, tx, j); err != nil {
				return nil, err
			} else if hired {
				return nil, apperr.InvalidState("job %s already has a worker", j.ID)
			}
			if evs, err = s.unwind(ctx, tx, j, "job deleted"); err != nil {
				return nil, err
			}
		default:
			return nil, apperr.InvalidState("job %s is %s and cannot be deleted", j.ID, j.Status)
		}
		if err := s.Repo.DeleteJob(ctx, tx, j.ID); err != nil {
			return nil, err
		}
		s.Logger.Info("job deleted", "job_id", j.ID, "client_id", j.ClientID)
		return append(evs, events.New(events.JobDeleted, j.ID, j.ClientID)), nil
	})
}

func (s *Service) hired(ctx context.Context, tx pgx.Tx, j *models.Job) (bool, error) {
	if j.JobType == models.JobInvite {
		return j.InviteResponse == models.InviteAccepted, nil
	}
	if j.AssignedWorkerID != nil {
		return true, nil
	}
	if !j.IsTeamJob {
		return false, nil
	}
	list, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
	if err != nil {
		return false, err
	}
	for _, a := range list {
		if a.Status == models.AssignmentActive {
			return true, nil
		}
	}
	return false, nil
}
