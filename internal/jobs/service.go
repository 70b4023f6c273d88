// Package jobs is the job state machine. Every transition loads the job under a row lock, runs the
// wallet and escrow effects it triggers in the same transaction, appends a job log row, and
// publishes its events after commit.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/assignment"
	"github.com/iayos/backend/internal/escrow"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/metrics"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
	"github.com/iayos/backend/internal/wallet"
)

// Service drives a job through its lifecycle: posting, applications and invites, start and
// completion confirmation, and the final payment. Every operation locks the job row in its own
// transaction and publishes its events after commit.
type Service struct {
	DB      TxBeginner
	Repo    Repo
	Wallet  *wallet.Service
	Ledger  ledger.Service
	Escrow  *escrow.Controller
	Assign  *assignment.Coordinator
	Gateway gateway.Client
	Events  events.Publisher
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(db TxBeginner, repo Repo, w *wallet.Service, l ledger.Service, esc *escrow.Controller, coord *assignment.Coordinator, gw gateway.Client, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	return &Service{
		DB: db, Repo: repo, Wallet: w, Ledger: l, Escrow: esc, Assign: coord,
		Gateway: gw, Events: pub, Logger: logger, Now: time.Now,
	}
}

// run executes fn in one transaction. Events returned by fn are published only after commit.
func (s *Service) run(ctx context.Context, op string, fn func(tx pgx.Tx) ([]events.Event, error)) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	evs, err := fn(tx)
	if err != nil {
		s.failed(op, err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.failed(op, err)
		return err
	}
	metrics.JobTransitions.WithLabelValues(op).Inc()
	s.Events.Publish(ctx, evs...)
	return nil
}

func (s *Service) failed(op string, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	metrics.TransitionFailures.WithLabelValues(op, string(kind)).Inc()
	switch kind {
	case apperr.KindInvariantViolation, "internal":
		s.Logger.Error("job transition aborted", "op", op, "error", err)
	case apperr.KindExternalTimeout, apperr.KindExternalFailure:
		s.Logger.Warn("job transition hit the payment gateway", "op", op, "error", err)
	}
}

// lock loads the job row under FOR UPDATE.
func (s *Service) lock(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := s.Repo.GetJobForUpdate(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return j, err
}

// save persists the job and appends the log row for the transition from old.
func (s *Service) save(ctx context.Context, tx pgx.Tx, j *models.Job, actor *models.Actor, event string, old models.JobStatus, notes string) error {
	if err := s.Repo.UpdateJob(ctx, tx, j); err != nil {
		return err
	}
	return s.log(ctx, tx, j, actor, event, old, notes)
}

func (s *Service) log(ctx context.Context, tx pgx.Tx, j *models.Job, actor *models.Actor, event string, old models.JobStatus, notes string) error {
	l := &models.JobLog{
		ID:        uuid.New(),
		JobID:     j.ID,
		Event:     event,
		OldStatus: old,
		NewStatus: j.Status,
		Notes:     notes,
	}
	if actor != nil {
		id := actor.AccountID
		l.ActorID = &id
	}
	return s.Repo.AppendJobLog(ctx, tx, l)
}

// authorize checks that the actor acts under want and that the account holds that profile.
func (s *Service) authorize(ctx context.Context, actor models.Actor, want ...models.Profile) (*models.Account, error) {
	allowed := false
	for _, p := range want {
		if actor.Profile == p {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperr.Forbidden("action requires profile %v, acting as %s", want, actor.Profile)
	}
	acc, err := s.Repo.GetAccount(ctx, actor.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Forbidden("account %s not found", actor.AccountID)
	}
	if err != nil {
		return nil, err
	}
	if !acc.HasProfile(actor.Profile) {
		return nil, apperr.Forbidden("account %s has no %s profile", acc.ID, actor.Profile)
	}
	return acc, nil
}

func requireClient(j *models.Job, actor models.Actor) error {
	if actor.Profile != models.ProfileClient || j.ClientID != actor.AccountID {
		return apperr.Forbidden("only the client of job %s may do this", j.ID)
	}
	return nil
}

func (s *Service) now() *time.Time {
	t := s.Now()
	return &t
}

// participants returns every account engaged on the job besides the client.
func (s *Service) participants(ctx context.Context, tx pgx.Tx, j *models.Job) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if j.AssignedWorkerID != nil {
		ids = append(ids, *j.AssignedWorkerID)
	}
	if j.AssignedAgencyID != nil {
		ids = append(ids, *j.AssignedAgencyID)
	}
	if j.IsTeamJob {
		list, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if a.Status != models.AssignmentCancelled {
				ids = append(ids, a.WorkerID)
			}
		}
	}
	return ids, nil
}

// rejectedEvents notifies each worker whose application was auto-rejected.
func rejectedEvents(list []*models.Application, reason string) []events.Event {
	out := make([]events.Event, 0, len(list))
	for _, a := range list {
		out = append(out, events.New(events.ApplicationRejected, a.JobID, a.WorkerID).
			With("application_id", a.ID.String()).With("reason", reason))
	}
	return out
}
