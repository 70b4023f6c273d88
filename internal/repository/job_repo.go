package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

// JobRepo is the job store: jobs and their transition log.
type JobRepo struct {
	base
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{base{pool: pool}}
}

const jobColumns = `id, client_id, assigned_worker_id, assigned_agency_id, category_id, title, description, location,
	urgency, channel, materials, budget, payment_model, daily_rate, duration_days, job_type, invite_response,
	invite_reject_reason, is_team_job, total_workers_needed, escrow_amount, platform_fee, escrow_paid, escrow_paid_at,
	escrow_released, remaining_payment, remaining_payment_paid, remaining_payment_paid_at, final_payment_method,
	client_confirmed_work_started, client_confirmed_work_started_at, worker_marked_complete, worker_marked_complete_at,
	completion_notes, completion_photos, client_marked_complete, client_marked_complete_at, cash_proof_url,
	cash_payment_approved, daily_settlement, daily_settled_at, status, created_at, updated_at, completed_at, cancelled_at`

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ClientID, &j.AssignedWorkerID, &j.AssignedAgencyID, &j.CategoryID, &j.Title,
		&j.Description, &j.Location, &j.Urgency, &j.Channel, &j.Materials, &j.Budget, &j.PaymentModel, &j.DailyRate,
		&j.DurationDays, &j.JobType, &j.InviteResponse, &j.InviteRejectReason, &j.IsTeamJob, &j.TotalWorkersNeeded,
		&j.EscrowAmount, &j.PlatformFee, &j.EscrowPaid, &j.EscrowPaidAt, &j.EscrowReleased, &j.RemainingPayment,
		&j.RemainingPaymentPaid, &j.RemainingPaymentPaidAt, &j.FinalPaymentMethod, &j.ClientConfirmedWorkStarted,
		&j.ClientConfirmedWorkStartedAt, &j.WorkerMarkedComplete, &j.WorkerMarkedCompleteAt, &j.CompletionNotes,
		&j.CompletionPhotos, &j.ClientMarkedComplete, &j.ClientMarkedCompleteAt, &j.CashProofURL,
		&j.CashPaymentApproved, &j.DailySettlement, &j.DailySettledAt, &j.Status, &j.CreatedAt, &j.UpdatedAt,
		&j.CompletedAt, &j.CancelledAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &j, nil
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *JobRepo) InsertJob(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO jobs (id, client_id, assigned_worker_id, assigned_agency_id, category_id, title, description,
			location, urgency, channel, materials, budget, payment_model, daily_rate, duration_days, job_type,
			invite_response, is_team_job, total_workers_needed, escrow_amount, platform_fee, escrow_paid,
			escrow_paid_at, remaining_payment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25)
		RETURNING created_at, updated_at
	`, j.ID, j.ClientID, j.AssignedWorkerID, j.AssignedAgencyID, j.CategoryID, j.Title, j.Description,
		j.Location, j.Urgency, j.Channel, textArray(j.Materials), j.Budget, j.PaymentModel, j.DailyRate,
		j.DurationDays, j.JobType, j.InviteResponse, j.IsTeamJob, j.TotalWorkersNeeded, j.EscrowAmount,
		j.PlatformFee, j.EscrowPaid, j.EscrowPaidAt, j.RemainingPayment, j.Status).Scan(&j.CreatedAt, &j.UpdatedAt)
	return mapErr(err)
}

func (r *JobRepo) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetJobForUpdate locks the job row. Every state transition starts here, before any wallet lock.
func (r *JobRepo) GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// UpdateJob writes every mutable column of a locked job.
func (r *JobRepo) UpdateJob(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	err := r.q(tx).QueryRow(ctx, `
		UPDATE jobs SET
			assigned_worker_id = $2, assigned_agency_id = $3, title = $4, description = $5, location = $6,
			urgency = $7, materials = $8, budget = $9, invite_response = $10, invite_reject_reason = $11,
			escrow_amount = $12, platform_fee = $13, escrow_paid = $14, escrow_paid_at = $15, escrow_released = $16,
			remaining_payment = $17, remaining_payment_paid = $18, remaining_payment_paid_at = $19,
			final_payment_method = $20, client_confirmed_work_started = $21, client_confirmed_work_started_at = $22,
			worker_marked_complete = $23, worker_marked_complete_at = $24, completion_notes = $25,
			completion_photos = $26, client_marked_complete = $27, client_marked_complete_at = $28,
			cash_proof_url = $29, cash_payment_approved = $30, daily_settlement = $31, daily_settled_at = $32,
			status = $33, completed_at = $34, cancelled_at = $35, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, j.ID, j.AssignedWorkerID, j.AssignedAgencyID, j.Title, j.Description, j.Location, j.Urgency,
		textArray(j.Materials), j.Budget, j.InviteResponse, j.InviteRejectReason, j.EscrowAmount, j.PlatformFee,
		j.EscrowPaid, j.EscrowPaidAt, j.EscrowReleased, j.RemainingPayment, j.RemainingPaymentPaid,
		j.RemainingPaymentPaidAt, j.FinalPaymentMethod, j.ClientConfirmedWorkStarted,
		j.ClientConfirmedWorkStartedAt, j.WorkerMarkedComplete, j.WorkerMarkedCompleteAt, j.CompletionNotes,
		textArray(j.CompletionPhotos), j.ClientMarkedComplete, j.ClientMarkedCompleteAt, j.CashProofURL,
		j.CashPaymentApproved, j.DailySettlement, j.DailySettledAt, j.Status, j.CompletedAt, j.CancelledAt,
	).Scan(&j.UpdatedAt)
	return mapErr(err)
}

func (r *JobRepo) DeleteJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := r.q(tx).Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepo) listJobs(ctx context.Context, where string, args ...any) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanJob)
}

func (r *JobRepo) ListJobsByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	return r.listJobs(ctx, `client_id = $1`, clientID)
}

// ListJobsByWorker covers direct assignment and team assignments.
func (r *JobRepo) ListJobsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Job, error) {
	return r.listJobs(ctx, `(assigned_worker_id = $1 AND (job_type = 'LISTING' OR invite_response = 'ACCEPTED'))
		OR id IN (SELECT job_id FROM worker_assignments WHERE worker_id = $1)`, workerID)
}

// ListJobsByInvitee returns INVITE jobs addressed to the account, as worker or agency.
func (r *JobRepo) ListJobsByInvitee(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	return r.listJobs(ctx, `job_type = 'INVITE' AND (assigned_worker_id = $1 OR assigned_agency_id = $1)`, accountID)
}

func (r *JobRepo) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return r.listJobs(ctx, `status = $1`, status)
}

// FindInProgressJobForWorker returns a non-team IN_PROGRESS job the worker is directly assigned to.
func (r *JobRepo) FindInProgressJobForWorker(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) (*models.Job, error) {
	return scanJob(r.q(tx).QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE assigned_worker_id = $1 AND status = 'IN_PROGRESS' LIMIT 1
	`, workerID))
}

func (r *JobRepo) ListInProgressDailyJobs(ctx context.Context) ([]*models.Job, error) {
	return r.listJobs(ctx, `status = 'IN_PROGRESS' AND payment_model = 'DAILY'`)
}

func (r *JobRepo) AppendJobLog(ctx context.Context, tx pgx.Tx, l *models.JobLog) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO job_logs (id, job_id, actor_id, event, old_status, new_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, l.ID, l.JobID, l.ActorID, l.Event, l.OldStatus, l.NewStatus, l.Notes).Scan(&l.CreatedAt)
	return mapErr(err)
}

func (r *JobRepo) ListJobLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, actor_id, event, old_status, new_status, notes, created_at
		FROM job_logs WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row scanner) (*models.JobLog, error) {
		var l models.JobLog
		if err := row.Scan(&l.ID, &l.JobID, &l.ActorID, &l.Event, &l.OldStatus, &l.NewStatus, &l.Notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		return &l, nil
	})
}
