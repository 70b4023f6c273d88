// Package attendance gates DAILY job payouts on per-day check-in, check-out and client confirmation.
// Each confirmed day releases its earning from the job's escrow into the payment buffer.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/config"
	"github.com/iayos/backend/internal/escrow"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/metrics"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repo interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateJob(ctx context.Context, tx pgx.Tx, j *models.Job) error
	AppendJobLog(ctx context.Context, tx pgx.Tx, l *models.JobLog) error
	ListInProgressDailyJobs(ctx context.Context) ([]*models.Job, error)

	InsertAttendance(ctx context.Context, tx pgx.Tx, a *models.DailyAttendance) error
	GetAttendance(ctx context.Context, id uuid.UUID) (*models.DailyAttendance, error)
	GetAttendanceForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.DailyAttendance, error)
	GetAttendanceForDayForUpdate(ctx context.Context, tx pgx.Tx, jobID, workerID uuid.UUID, date time.Time) (*models.DailyAttendance, error)
	UpdateAttendance(ctx context.Context, tx pgx.Tx, a *models.DailyAttendance) error
	ListAttendanceByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.DailyAttendance, error)
	ListUnconfirmedAttendanceBefore(ctx context.Context, cutoff time.Time) ([]*models.DailyAttendance, error)
}

// Service records daily attendance on DAILY jobs and pays confirmed days out of escrow.
// Each operation runs in one transaction that locks the job row before the attendance row.
type Service struct {
	DB     TxBeginner
	Repo   Repo
	Escrow *escrow.Controller
	Config config.Attendance
	Events events.Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(db TxBeginner, repo Repo, esc *escrow.Controller, cfg config.Attendance, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{DB: db, Repo: repo, Escrow: esc, Config: cfg, Events: pub, Logger: logger, Now: time.Now}
}

// local returns now in the attendance timezone.
func (s *Service) local() time.Time { return s.Now().In(s.Config.Location) }

// inWindow reports whether t falls in [WindowStart, WindowEnd], both ends inclusive to the minute.
func (s *Service) inWindow(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= s.Config.WindowStart && m <= s.Config.WindowEnd
}

// day is the local calendar date of t, stored as midnight UTC.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clock(minutes int) string {
	return time.Date(0, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format("15:04")
}

func (s *Service) run(ctx context.Context, fn func(tx pgx.Tx) ([]events.Event, error)) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	evs, err := fn(tx)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvariantViolation {
			s.Logger.Error("attendance transition aborted", "error", err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.Events.Publish(ctx, evs...)
	return nil
}

func (s *Service) lockJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := s.Repo.GetJobForUpdate(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return j, err
}

// engaged resolves who works the job for the actor and how payouts address them.
func engaged(j *models.Job, actor models.Actor) (models.RecipientType, error) {
	switch {
	case actor.Profile == models.ProfileWorker && j.IsAssignedWorker(actor.AccountID):
		return models.RecipientWorker, nil
	case actor.Profile == models.ProfileAgency && j.IsAssignedAgency(actor.AccountID):
		return models.RecipientAgency, nil
	}
	return "", apperr.Forbidden("you are not assigned to job %s", j.ID)
}

func (s *Service) log(ctx context.Context, tx pgx.Tx, j *models.Job, actor *models.Actor, event, notes string) error {
	l := &models.JobLog{ID: uuid.New(), JobID: j.ID, Event: event, OldStatus: j.Status, NewStatus: j.Status, Notes: notes}
	if actor != nil {
		id := actor.AccountID
		l.ActorID = &id
	}
	return s.Repo.AppendJobLog(ctx, tx, l)
}

// dailyJob locks an IN_PROGRESS DAILY job and checks the actor works on it.
func (s *Service) dailyJob(ctx context.Context, tx pgx.Tx, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if j.PaymentModel != models.PaymentDaily {
		return nil, apperr.InvalidState("job %s is not a daily job", j.ID)
	}
	if j.Status != models.JobInProgress {
		return nil, apperr.InvalidState("job %s is %s", j.ID, j.Status)
	}
	if _, err := engaged(j, actor); err != nil {
		return nil, err
	}
	return j, nil
}

// CheckIn opens today's record for the worker.
func (s *Service) CheckIn(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.DailyAttendance, error) {
	now := s.local()
	if !s.inWindow(now) {
		return nil, apperr.Conflict("check-in is only possible between %s and %s", clock(s.Config.WindowStart), clock(s.Config.WindowEnd))
	}
	var rec *models.DailyAttendance
	err := s.run(ctx, func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.dailyJob(ctx, tx, actor, jobID)
		if err != nil {
			return nil, err
		}
		worked, err := s.daysWorked(ctx, tx, j.ID, actor.AccountID)
		if err != nil {
			return nil, err
		}
		if worked >= j.DurationDays {
			return nil, apperr.InvalidState("all %d days of job %s are already worked", j.DurationDays, j.ID)
		}

		rec, err = s.Repo.GetAttendanceForDayForUpdate(ctx, tx, j.ID, actor.AccountID, day(now))
		switch {
		case errors.Is(err, repository.ErrNotFound):
			rec = &models.DailyAttendance{ID: uuid.New(), JobID: j.ID, WorkerID: actor.AccountID, Date: day(now)}
		case err != nil:
			return nil, err
		case rec.TimeIn != nil:
			return nil, apperr.Conflict("already checked in today")
		case rec.ClientConfirmed:
			return nil, apperr.InvalidState("today's attendance was already confirmed")
		}

		t := now
		rec.TimeIn = &t
		rec.Status = models.AttendancePending
		rec.WorkerConfirmed = true
		rec.AmountEarned = j.DailyRate
		if rec.CreatedAt.IsZero() {
			err = s.Repo.InsertAttendance(ctx, tx, rec)
		} else {
			err = s.Repo.UpdateAttendance(ctx, tx, rec)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("already checked in today")
		}
		if err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "checked_in", rec.Date.Format("2006-01-02")); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AttendanceCheckedIn, j.ID, j.ClientID).With("attendance_id", rec.ID.String())}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// daysWorked counts the worker's records that are, or may still become, paid days.
func (s *Service) daysWorked(ctx context.Context, tx pgx.Tx, jobID, workerID uuid.UUID) (int, error) {
	list, err := s.Repo.ListAttendanceByJob(ctx, tx, jobID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range list {
		if a.WorkerID == workerID && a.Status != models.AttendanceAbsent && a.TimeIn != nil {
			n++
		}
	}
	return n, nil
}

// CheckOut closes today's record.
func (s *Service) CheckOut(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.DailyAttendance, error) {
	now := s.local()
	if !s.inWindow(now) {
		return nil, apperr.Conflict("check-out is only possible between %s and %s", clock(s.Config.WindowStart), clock(s.Config.WindowEnd))
	}
	var rec *models.DailyAttendance
	err := s.run(ctx, func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.dailyJob(ctx, tx, actor, jobID)
		if err != nil {
			return nil, err
		}
		rec, err = s.Repo.GetAttendanceForDayForUpdate(ctx, tx, j.ID, actor.AccountID, day(now))
		if errors.Is(err, repository.ErrNotFound) || (err == nil && rec.TimeIn == nil) {
			return nil, apperr.InvalidState("you have not checked in today")
		}
		if err != nil {
			return nil, err
		}
		if rec.TimeOut != nil {
			return nil, apperr.Conflict("already checked out today")
		}
		t := now
		rec.TimeOut = &t
		if err := s.Repo.UpdateAttendance(ctx, tx, rec); err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "checked_out", rec.Date.Format("2006-01-02")); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AttendanceCheckedOut, j.ID, j.ClientID).With("attendance_id", rec.ID.String())}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Earned is the payout of a day for a status.
func Earned(rate decimal.Decimal, status models.AttendanceStatus) decimal.Decimal {
	switch status {
	case models.AttendancePresent:
		return rate
	case models.AttendanceHalfDay:
		return models.Round2(rate.Div(decimal.NewFromInt(2)))
	}
	return decimal.Zero
}

// ClientConfirm approves a day, optionally overriding its status. A paid day is released from the
// job's escrow into the payment buffer in the same transaction.
func (s *Service) ClientConfirm(ctx context.Context, actor models.Actor, recordID uuid.UUID, status models.AttendanceStatus) (*models.DailyAttendance, error) {
	switch status {
	case "":
		status = models.AttendancePresent
	case models.AttendancePresent, models.AttendanceHalfDay, models.AttendanceAbsent:
	default:
		return nil, apperr.InvalidInput("unknown attendance status %q", status)
	}
	// The job row is locked before the record, so the record is looked up first to find its job.
	pre, err := s.Repo.GetAttendance(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("attendance record %s not found", recordID)
	}
	if err != nil {
		return nil, err
	}

	var rec *models.DailyAttendance
	err = s.run(ctx, func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lockJob(ctx, tx, pre.JobID)
		if err != nil {
			return nil, err
		}
		if actor.Profile != models.ProfileClient || j.ClientID != actor.AccountID {
			return nil, apperr.Forbidden("only the client of job %s confirms attendance", j.ID)
		}
		if j.DailySettlement != models.DailyUnsettled {
			return nil, apperr.InvalidState("escrow of job %s was already settled", j.ID)
		}
		if rec, err = s.Repo.GetAttendanceForUpdate(ctx, tx, recordID); err != nil {
			return nil, err
		}
		if rec.ClientConfirmed {
			return nil, apperr.InvalidState("attendance %s was already confirmed", rec.ID)
		}
		if rec.TimeIn == nil && status != models.AttendanceAbsent {
			return nil, apperr.InvalidState("worker never checked in on %s", rec.Date.Format("2006-01-02"))
		}

		rec.ClientConfirmed = true
		rec.Status = status
		rec.AmountEarned = Earned(j.DailyRate, status)
		if rec.AmountEarned.IsPositive() {
			kind := models.RecipientWorker
			if j.IsAssignedAgency(rec.WorkerID) {
				kind = models.RecipientAgency
			}
			if _, err := s.Escrow.SettlePayout(ctx, tx, j, rec.AmountEarned, rec.WorkerID, kind); err != nil {
				return nil, err
			}
			rec.PaymentProcessed = true
			if err := s.Repo.UpdateJob(ctx, tx, j); err != nil {
				return nil, err
			}
		}
		if err := s.Repo.UpdateAttendance(ctx, tx, rec); err != nil {
			return nil, err
		}
		if err := s.log(ctx, tx, j, &actor, "attendance_confirmed", string(status)+" "+rec.AmountEarned.StringFixed(2)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AttendanceConfirmed, j.ID, rec.WorkerID).
			With("status", string(status)).With("amount", rec.AmountEarned.StringFixed(2))}, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ForJob lists a job's attendance. The client and the engaged worker or agency may read it.
func (s *Service) ForJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) ([]*models.DailyAttendance, error) {
	j, err := s.Repo.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	if err != nil {
		return nil, err
	}
	if j.ClientID != actor.AccountID {
		if _, err := engaged(j, actor); err != nil {
			return nil, err
		}
	}
	return s.Repo.ListAttendanceByJob(ctx, nil, j.ID)
}

// SweepResult reports what CloseAbandonedAttendance did.
type SweepResult struct {
	Absent  int
	Overdue []uuid.UUID
}

// CloseAbandonedAttendance marks the local day ABSENT for every engaged worker of an IN_PROGRESS
// DAILY job who has no record once the window has closed. Records checked in more than
// ConfirmGraceDays ago that the client never confirmed are reported for admin review and left alone.
// Running it twice for the same day changes nothing the second time.
func (s *Service) CloseAbandonedAttendance(ctx context.Context, now time.Time) (*SweepResult, error) {
	local := now.In(s.Config.Location)
	res := &SweepResult{}

	if local.Hour()*60+local.Minute() > s.Config.WindowEnd {
		jobs, err := s.Repo.ListInProgressDailyJobs(ctx)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			closed, err := s.closeDay(ctx, j.ID, day(local))
			if err != nil {
				s.Logger.Error("attendance sweep failed", "job_id", j.ID, "error", err)
				continue
			}
			res.Absent += closed
		}
	}

	cutoff := now.AddDate(0, 0, -s.Config.ConfirmGraceDays)
	stale, err := s.Repo.ListUnconfirmedAttendanceBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var evs []events.Event
	for _, a := range stale {
		res.Overdue = append(res.Overdue, a.ID)
		s.Logger.Warn("attendance awaiting client confirmation past grace period", "attendance_id", a.ID, "job_id", a.JobID, "date", a.Date.Format("2006-01-02"))
		evs = append(evs, events.New(events.AttendanceOverdue, a.JobID).With("attendance_id", a.ID.String()))
	}
	s.Events.Publish(ctx, evs...)

	metrics.AttendanceClosed.WithLabelValues("absent").Add(float64(res.Absent))
	metrics.AttendanceClosed.WithLabelValues("overdue").Add(float64(len(res.Overdue)))
	return res, nil
}

func (s *Service) closeDay(ctx context.Context, jobID uuid.UUID, date time.Time) (int, error) {
	closed := 0
	err := s.run(ctx, func(tx pgx.Tx) ([]events.Event, error) {
		j, err := s.lockJob(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Status != models.JobInProgress || j.PaymentModel != models.PaymentDaily {
			return nil, nil
		}
		var workers []uuid.UUID
		if j.AssignedWorkerID != nil {
			workers = append(workers, *j.AssignedWorkerID)
		}
		if j.AssignedAgencyID != nil {
			workers = append(workers, *j.AssignedAgencyID)
		}
		var evs []events.Event
		for _, w := range workers {
			_, err := s.Repo.GetAttendanceForDayForUpdate(ctx, tx, j.ID, w, date)
			if err == nil {
				continue
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			rec := &models.DailyAttendance{
				ID: uuid.New(), JobID: j.ID, WorkerID: w, Date: date,
				Status: models.AttendanceAbsent, AmountEarned: decimal.Zero,
			}
			if err := s.Repo.InsertAttendance(ctx, tx, rec); err != nil {
				return nil, err
			}
			if err := s.log(ctx, tx, j, nil, "marked_absent", date.Format("2006-01-02")); err != nil {
				return nil, err
			}
			closed++
			evs = append(evs, events.New(events.AttendanceAbsent, j.ID, w, j.ClientID).With("attendance_id", rec.ID.String()))
		}
		return evs, nil
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}
