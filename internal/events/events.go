// Package events carries domain events out of committed transitions. Publishing is best effort:
// a failed publish is logged and never undoes the transition that produced it.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobCreated           = "job.created"
	JobUpdated           = "job.updated"
	JobCancelled         = "job.cancelled"
	JobDeleted           = "job.deleted"
	JobInviteAccepted    = "job.invite_accepted"
	JobInviteRejected    = "job.invite_rejected"
	JobStarted           = "job.started"
	JobWorkStarted       = "job.work_started"
	JobMarkedComplete    = "job.marked_complete"
	JobAwaitingPayment   = "job.awaiting_payment"
	JobCompleted         = "job.completed"
	JobDailySettled      = "job.daily_settled"
	EmployeesAssigned    = "job.employees_assigned"
	ApplicationCreated   = "application.created"
	ApplicationAccepted  = "application.accepted"
	ApplicationRejected  = "application.rejected"
	ApplicationWithdrawn = "application.withdrawn"
	AttendanceCheckedIn  = "attendance.checked_in"
	AttendanceCheckedOut = "attendance.checked_out"
	AttendanceConfirmed  = "attendance.confirmed"
	AttendanceAbsent     = "attendance.absent"
	AttendanceOverdue    = "attendance.overdue"
	EarningReleased      = "earning.released"
	DepositCompleted     = "wallet.deposit_completed"
	WithdrawalCompleted  = "wallet.withdrawal_completed"
	WithdrawalFailed     = "wallet.withdrawal_failed"
	PaymentFailed        = "payment.failed"
)

type Event struct {
	Type       string            `json:"type"`
	JobID      *uuid.UUID        `json:"job_id,omitempty"`
	Recipients []uuid.UUID       `json:"recipients,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New builds an event for a job. jobID may be uuid.Nil for wallet-only events.
func New(typ string, jobID uuid.UUID, recipients ...uuid.UUID) Event {
	e := Event{Type: typ, Recipients: recipients, OccurredAt: time.Now()}
	if jobID != uuid.Nil {
		e.JobID = &jobID
	}
	return e
}

// With returns a copy of e with k=v added to its data.
func (e Event) With(k, v string) Event {
	data := make(map[string]string, len(e.Data)+1)
	for dk, dv := range e.Data {
		data[dk] = dv
	}
	data[k] = v
	e.Data = data
	return e
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event)
}

// LogPublisher writes events to the log. It is the fallback when no queue is wired.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, evs ...Event) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, e := range evs {
		logger.Info("domain event", "type", e.Type, "job_id", e.JobID, "recipients", e.Recipients, "data", e.Data)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of typ were published.
func (r *Recorder) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
