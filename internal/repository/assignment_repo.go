package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

// AssignmentRepo stores skill slots and worker/employee assignments.
type AssignmentRepo struct {
	base
}

func NewAssignmentRepo(pool *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{base{pool: pool}}
}

const slotColumns = `id, job_id, specialization, workers_needed, workers_filled, skill_level, status, budget_share`

func scanSlot(row scanner) (*models.SkillSlot, error) {
	var s models.SkillSlot
	err := row.Scan(&s.ID, &s.JobID, &s.Specialization, &s.WorkersNeeded, &s.WorkersFilled, &s.SkillLevel, &s.Status, &s.BudgetShare)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *AssignmentRepo) InsertSlot(ctx context.Context, tx pgx.Tx, s *models.SkillSlot) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO skill_slots (`+slotColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.JobID, s.Specialization, s.WorkersNeeded, s.WorkersFilled, s.SkillLevel, s.Status, s.BudgetShare)
	return mapErr(err)
}

func (r *AssignmentRepo) ListSlots(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.SkillSlot, error) {
	rows, err := r.q(tx).Query(ctx, `SELECT `+slotColumns+` FROM skill_slots WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *AssignmentRepo) GetSlotForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.SkillSlot, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM skill_slots WHERE id = $1 FOR UPDATE`, id))
}

func (r *AssignmentRepo) UpdateSlot(ctx context.Context, tx pgx.Tx, s *models.SkillSlot) error {
	_, err := r.q(tx).Exec(ctx, `UPDATE skill_slots SET workers_filled = $2, status = $3 WHERE id = $1`, s.ID, s.WorkersFilled, s.Status)
	return mapErr(err)
}

const workerAssignmentColumns = `id, job_id, worker_id, slot_id, status, worker_marked_complete, marked_complete_at, rating, created_at`

func scanWorkerAssignment(row scanner) (*models.WorkerAssignment, error) {
	var a models.WorkerAssignment
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.SlotID, &a.Status, &a.WorkerMarkedComplete, &a.MarkedCompleteAt, &a.Rating, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// InsertWorkerAssignment fails with ErrDuplicate when the worker already holds an ACTIVE assignment.
func (r *AssignmentRepo) InsertWorkerAssignment(ctx context.Context, tx pgx.Tx, a *models.WorkerAssignment) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO worker_assignments (id, job_id, worker_id, slot_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.JobID, a.WorkerID, a.SlotID, a.Status).Scan(&a.CreatedAt)
	return mapErr(err)
}

func (r *AssignmentRepo) ListWorkerAssignments(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.WorkerAssignment, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+workerAssignmentColumns+` FROM worker_assignments WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWorkerAssignment)
}

func (r *AssignmentRepo) FindActiveAssignmentForWorker(ctx context.Context, tx pgx.Tx, workerID uuid.UUID) (*models.WorkerAssignment, error) {
	return scanWorkerAssignment(r.q(tx).QueryRow(ctx, `
		SELECT `+workerAssignmentColumns+` FROM worker_assignments WHERE worker_id = $1 AND status = 'ACTIVE' LIMIT 1
	`, workerID))
}

func (r *AssignmentRepo) UpdateWorkerAssignment(ctx context.Context, tx pgx.Tx, a *models.WorkerAssignment) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE worker_assignments SET status = $2, worker_marked_complete = $3, marked_complete_at = $4, rating = $5
		WHERE id = $1
	`, a.ID, a.Status, a.WorkerMarkedComplete, a.MarkedCompleteAt, a.Rating)
	return mapErr(err)
}

const employeeAssignmentColumns = `id, job_id, agency_id, employee_id, status, rating, created_at`

func scanEmployeeAssignment(row scanner) (*models.EmployeeAssignment, error) {
	var a models.EmployeeAssignment
	if err := row.Scan(&a.ID, &a.JobID, &a.AgencyID, &a.EmployeeID, &a.Status, &a.Rating, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AssignmentRepo) InsertEmployeeAssignment(ctx context.Context, tx pgx.Tx, a *models.EmployeeAssignment) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO employee_assignments (id, job_id, agency_id, employee_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.JobID, a.AgencyID, a.EmployeeID, a.Status).Scan(&a.CreatedAt)
	return mapErr(err)
}

func (r *AssignmentRepo) ListEmployeeAssignments(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.EmployeeAssignment, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+employeeAssignmentColumns+` FROM employee_assignments WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEmployeeAssignment)
}

func (r *AssignmentRepo) UpdateEmployeeAssignment(ctx context.Context, tx pgx.Tx, a *models.EmployeeAssignment) error {
	_, err := r.q(tx).Exec(ctx, `UPDATE employee_assignments SET status = $2, rating = $3 WHERE id = $1`, a.ID, a.Status, a.Rating)
	return mapErr(err)
}
