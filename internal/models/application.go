package models

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "PENDING"
	ApplicationAccepted  ApplicationStatus = "ACCEPTED"
	ApplicationRejected  ApplicationStatus = "REJECTED"
	ApplicationWithdrawn ApplicationStatus = "WITHDRAWN"
)

type BudgetOption string

const (
	BudgetAccept    BudgetOption = "ACCEPT"
	BudgetNegotiate BudgetOption = "NEGOTIATE"
)

type Application struct {
	ID                uuid.UUID         `json:"id"`
	JobID             uuid.UUID         `json:"job_id"`
	WorkerID          uuid.UUID         `json:"worker_id"`
	Status            ApplicationStatus `json:"status"`
	ProposedBudget    Money             `json:"proposed_budget"`
	BudgetOption      BudgetOption      `json:"budget_option"`
	SelectedMaterials []string          `json:"selected_materials,omitempty"`
	SlotID            *uuid.UUID        `json:"slot_id,omitempty"`
	Message           string            `json:"message,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Renegotiated reports whether accepting the application changes the job budget.
func (a *Application) Renegotiated(budget Money) bool {
	return a.BudgetOption == BudgetNegotiate && !a.ProposedBudget.Equal(budget)
}

type AttendanceStatus string

const (
	AttendancePending AttendanceStatus = "PENDING"
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceHalfDay AttendanceStatus = "HALF_DAY"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
)

// DailyAttendance is one (job, worker, local date) record.
type DailyAttendance struct {
	ID               uuid.UUID        `json:"id"`
	JobID            uuid.UUID        `json:"job_id"`
	WorkerID         uuid.UUID        `json:"worker_id"`
	Date             time.Time        `json:"date"`
	TimeIn           *time.Time       `json:"time_in,omitempty"`
	TimeOut          *time.Time       `json:"time_out,omitempty"`
	WorkerConfirmed  bool             `json:"worker_confirmed"`
	ClientConfirmed  bool             `json:"client_confirmed"`
	Status           AttendanceStatus `json:"status"`
	AmountEarned     Money            `json:"amount_earned"`
	PaymentProcessed bool             `json:"payment_processed"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
