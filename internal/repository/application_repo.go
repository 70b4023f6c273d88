package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

type ApplicationRepo struct {
	base
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{base{pool: pool}}
}

const applicationColumns = `id, job_id, worker_id, status, proposed_budget, budget_option, selected_materials, slot_id,
	message, created_at, updated_at`

func scanApplication(row scanner) (*models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Status, &a.ProposedBudget, &a.BudgetOption, &a.SelectedMaterials,
		&a.SlotID, &a.Message, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// InsertApplication fails with ErrDuplicate when the worker already has an open application on the job.
func (r *ApplicationRepo) InsertApplication(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO applications (id, job_id, worker_id, status, proposed_budget, budget_option, selected_materials,
			slot_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.JobID, a.WorkerID, a.Status, a.ProposedBudget, a.BudgetOption, textArray(a.SelectedMaterials),
		a.SlotID, a.Message).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *ApplicationRepo) GetApplicationForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanApplication(tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
}

func (r *ApplicationRepo) UpdateApplicationStatus(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	err := r.q(tx).QueryRow(ctx, `
		UPDATE applications SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at
	`, a.ID, a.Status).Scan(&a.UpdatedAt)
	return mapErr(err)
}

// FindOpenApplication returns the PENDING or ACCEPTED application of the worker on the job.
func (r *ApplicationRepo) FindOpenApplication(ctx context.Context, tx pgx.Tx, jobID, workerID uuid.UUID) (*models.Application, error) {
	return scanApplication(r.q(tx).QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE job_id = $1 AND worker_id = $2 AND status IN ('PENDING', 'ACCEPTED')
	`, jobID, workerID))
}

func (r *ApplicationRepo) ListApplicationsByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanApplication)
}

func (r *ApplicationRepo) ListApplicationsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE worker_id = $1 ORDER BY created_at DESC, id
	`, workerID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanApplication)
}

// RejectPendingApplicationsForJob rejects every PENDING application on the job except exceptID
// and returns the rejected rows.
func (r *ApplicationRepo) RejectPendingApplicationsForJob(ctx context.Context, tx pgx.Tx, jobID, exceptID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.q(tx).Query(ctx, `
		UPDATE applications SET status = 'REJECTED', updated_at = now()
		WHERE job_id = $1 AND id <> $2 AND status = 'PENDING'
		RETURNING `+applicationColumns, jobID, exceptID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanApplication)
}

// RejectPendingApplicationsForWorker rejects the worker's PENDING applications on every job other
// than exceptJobID and returns the rejected rows.
func (r *ApplicationRepo) RejectPendingApplicationsForWorker(ctx context.Context, tx pgx.Tx, workerID, exceptJobID uuid.UUID) ([]*models.Application, error) {
	rows, err := r.q(tx).Query(ctx, `
		UPDATE applications SET status = 'REJECTED', updated_at = now()
		WHERE worker_id = $1 AND job_id <> $2 AND status = 'PENDING'
		RETURNING `+applicationColumns, workerID, exceptJobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanApplication)
}
