package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

type AttendanceRepo struct {
	base
}

func NewAttendanceRepo(pool *pgxpool.Pool) *AttendanceRepo {
	return &AttendanceRepo{base{pool: pool}}
}

const attendanceColumns = `id, job_id, worker_id, date, time_in, time_out, worker_confirmed, client_confirmed, status,
	amount_earned, payment_processed, created_at, updated_at`

func scanAttendance(row scanner) (*models.DailyAttendance, error) {
	var a models.DailyAttendance
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Date, &a.TimeIn, &a.TimeOut, &a.WorkerConfirmed, &a.ClientConfirmed,
		&a.Status, &a.AmountEarned, &a.PaymentProcessed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// InsertAttendance fails with ErrDuplicate when the (job, worker, date) record exists.
func (r *AttendanceRepo) InsertAttendance(ctx context.Context, tx pgx.Tx, a *models.DailyAttendance) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO daily_attendance (id, job_id, worker_id, date, time_in, time_out, worker_confirmed,
			client_confirmed, status, amount_earned, payment_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, a.ID, a.JobID, a.WorkerID, a.Date, a.TimeIn, a.TimeOut, a.WorkerConfirmed, a.ClientConfirmed, a.Status,
		a.AmountEarned, a.PaymentProcessed).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *AttendanceRepo) GetAttendance(ctx context.Context, id uuid.UUID) (*models.DailyAttendance, error) {
	return scanAttendance(r.q(nil).QueryRow(ctx, `SELECT `+attendanceColumns+` FROM daily_attendance WHERE id = $1`, id))
}

func (r *AttendanceRepo) GetAttendanceForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.DailyAttendance, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanAttendance(tx.QueryRow(ctx, `SELECT `+attendanceColumns+` FROM daily_attendance WHERE id = $1 FOR UPDATE`, id))
}

func (r *AttendanceRepo) GetAttendanceForDayForUpdate(ctx context.Context, tx pgx.Tx, jobID, workerID uuid.UUID, date time.Time) (*models.DailyAttendance, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanAttendance(tx.QueryRow(ctx, `
		SELECT `+attendanceColumns+` FROM daily_attendance
		WHERE job_id = $1 AND worker_id = $2 AND date = $3
		FOR UPDATE
	`, jobID, workerID, date))
}

func (r *AttendanceRepo) UpdateAttendance(ctx context.Context, tx pgx.Tx, a *models.DailyAttendance) error {
	err := r.q(tx).QueryRow(ctx, `
		UPDATE daily_attendance SET time_in = $2, time_out = $3, worker_confirmed = $4, client_confirmed = $5,
			status = $6, amount_earned = $7, payment_processed = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.TimeIn, a.TimeOut, a.WorkerConfirmed, a.ClientConfirmed, a.Status, a.AmountEarned,
		a.PaymentProcessed).Scan(&a.UpdatedAt)
	return mapErr(err)
}

func (r *AttendanceRepo) ListAttendanceByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.DailyAttendance, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+attendanceColumns+` FROM daily_attendance WHERE job_id = $1 ORDER BY date, worker_id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAttendance)
}

// ListUnconfirmedAttendanceBefore returns checked-in records the client has not confirmed since before cutoff.
func (r *AttendanceRepo) ListUnconfirmedAttendanceBefore(ctx context.Context, cutoff time.Time) ([]*models.DailyAttendance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+` FROM daily_attendance
		WHERE NOT client_confirmed AND time_in IS NOT NULL AND time_in < $1
		ORDER BY date, id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAttendance)
}
