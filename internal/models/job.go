package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPendingPayment JobStatus = "PENDING_PAYMENT"
	JobActive         JobStatus = "ACTIVE"
	JobInProgress     JobStatus = "IN_PROGRESS"
	JobCompleted      JobStatus = "COMPLETED"
	JobCancelled      JobStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobCancelled }

type PaymentModel string

const (
	PaymentProject PaymentModel = "PROJECT"
	PaymentDaily   PaymentModel = "DAILY"
)

type JobType string

const (
	JobListing JobType = "LISTING"
	JobInvite  JobType = "INVITE"
)

type InviteResponse string

const (
	InviteNone     InviteResponse = ""
	InvitePending  InviteResponse = "PENDING"
	InviteAccepted InviteResponse = "ACCEPTED"
	InviteRejected InviteResponse = "REJECTED"
)

type PaymentMethod string

const (
	MethodWallet PaymentMethod = "WALLET"
	MethodCash   PaymentMethod = "CASH"
	MethodGCash  PaymentMethod = "GCASH"
)

type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Channel is the client surface a job was posted from; mobile invites may carry a different fee.
type Channel string

const (
	ChannelWeb    Channel = "WEB"
	ChannelMobile Channel = "MOBILE"
)

type DailySettlement string

const (
	DailyUnsettled DailySettlement = ""
	DailyRefunded  DailySettlement = "REFUND"
	DailyReleased  DailySettlement = "RELEASE"
)

type Job struct {
	ID               uuid.UUID  `json:"id"`
	ClientID         uuid.UUID  `json:"client_id"`
	AssignedWorkerID *uuid.UUID `json:"assigned_worker_id,omitempty"`
	AssignedAgencyID *uuid.UUID `json:"assigned_agency_id,omitempty"`
	CategoryID       int64      `json:"category_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Location         string     `json:"location"`
	Urgency          Urgency    `json:"urgency"`
	Channel          Channel    `json:"channel"`
	Materials        []string   `json:"materials,omitempty"`

	Budget       Money        `json:"budget"`
	PaymentModel PaymentModel `json:"payment_model"`
	DailyRate    Money        `json:"daily_rate"`
	DurationDays int          `json:"duration_days"`

	JobType            JobType        `json:"job_type"`
	InviteResponse     InviteResponse `json:"invite_response,omitempty"`
	InviteRejectReason string         `json:"invite_reject_reason,omitempty"`

	IsTeamJob          bool `json:"is_team_job"`
	TotalWorkersNeeded int  `json:"total_workers_needed"`

	EscrowAmount           Money      `json:"escrow_amount"`
	PlatformFee            Money      `json:"platform_fee"`
	EscrowPaid             bool       `json:"escrow_paid"`
	EscrowPaidAt           *time.Time `json:"escrow_paid_at,omitempty"`
	EscrowReleased         Money      `json:"escrow_released"`
	RemainingPayment       Money      `json:"remaining_payment"`
	RemainingPaymentPaid   bool       `json:"remaining_payment_paid"`
	RemainingPaymentPaidAt *time.Time `json:"remaining_payment_paid_at,omitempty"`
	FinalPaymentMethod     PaymentMethod `json:"final_payment_method,omitempty"`

	ClientConfirmedWorkStarted   bool       `json:"client_confirmed_work_started"`
	ClientConfirmedWorkStartedAt *time.Time `json:"client_confirmed_work_started_at,omitempty"`
	WorkerMarkedComplete         bool       `json:"worker_marked_complete"`
	WorkerMarkedCompleteAt       *time.Time `json:"worker_marked_complete_at,omitempty"`
	CompletionNotes              string     `json:"completion_notes,omitempty"`
	CompletionPhotos             []string   `json:"completion_photos,omitempty"`
	ClientMarkedComplete         bool       `json:"client_marked_complete"`
	ClientMarkedCompleteAt       *time.Time `json:"client_marked_complete_at,omitempty"`

	CashProofURL        string `json:"cash_proof_url,omitempty"`
	CashPaymentApproved bool   `json:"cash_payment_approved"`

	DailySettlement DailySettlement `json:"daily_settlement,omitempty"`
	DailySettledAt  *time.Time      `json:"daily_settled_at,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Capture is escrow plus platform fee, the amount taken from the client up front.
func (j *Job) Capture() Money { return j.EscrowAmount.Add(j.PlatformFee) }

// UnreleasedEscrow is the part of the held escrow not yet paid out or refunded.
func (j *Job) UnreleasedEscrow() Money { return j.EscrowAmount.Sub(j.EscrowReleased) }

// IsAssignedWorker reports whether id is the job's single assigned worker.
func (j *Job) IsAssignedWorker(id uuid.UUID) bool {
	return j.AssignedWorkerID != nil && *j.AssignedWorkerID == id
}

// IsAssignedAgency reports whether id is the job's assigned agency.
func (j *Job) IsAssignedAgency(id uuid.UUID) bool {
	return j.AssignedAgencyID != nil && *j.AssignedAgencyID == id
}

// JobLog is one appended record per transition.
type JobLog struct {
	ID        uuid.UUID  `json:"id"`
	JobID     uuid.UUID  `json:"job_id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	Event     string     `json:"event"`
	OldStatus JobStatus  `json:"old_status"`
	NewStatus JobStatus  `json:"new_status"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type SlotStatus string

const (
	SlotOpen   SlotStatus = "OPEN"
	SlotFilled SlotStatus = "FILLED"
)

type SkillSlot struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	Specialization string     `json:"specialization"`
	WorkersNeeded  int        `json:"workers_needed"`
	WorkersFilled  int        `json:"workers_filled"`
	SkillLevel     string     `json:"skill_level"`
	Status         SlotStatus `json:"status"`
	BudgetShare    Money      `json:"budget_share"`
}

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "ACTIVE"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
)

type WorkerAssignment struct {
	ID                   uuid.UUID        `json:"id"`
	JobID                uuid.UUID        `json:"job_id"`
	WorkerID             uuid.UUID        `json:"worker_id"`
	SlotID               *uuid.UUID       `json:"slot_id,omitempty"`
	Status               AssignmentStatus `json:"status"`
	WorkerMarkedComplete bool             `json:"worker_marked_complete"`
	MarkedCompleteAt     *time.Time       `json:"marked_complete_at,omitempty"`
	Rating               *int             `json:"rating,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

type EmployeeAssignment struct {
	ID         uuid.UUID        `json:"id"`
	JobID      uuid.UUID        `json:"job_id"`
	AgencyID   uuid.UUID        `json:"agency_id"`
	EmployeeID uuid.UUID        `json:"employee_id"`
	Status     AssignmentStatus `json:"status"`
	Rating     *int             `json:"rating,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
