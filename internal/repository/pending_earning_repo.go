package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

type PendingEarningRepo struct {
	base
}

func NewPendingEarningRepo(pool *pgxpool.Pool) *PendingEarningRepo {
	return &PendingEarningRepo{base{pool: pool}}
}

const pendingEarningColumns = `id, job_id, recipient_id, recipient_type, wallet_id, amount, created_at, release_date,
	released, released_at`

func scanPendingEarning(row scanner) (*models.PendingEarning, error) {
	var p models.PendingEarning
	err := row.Scan(&p.ID, &p.JobID, &p.RecipientID, &p.RecipientType, &p.WalletID, &p.Amount, &p.CreatedAt,
		&p.ReleaseDate, &p.Released, &p.ReleasedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *PendingEarningRepo) InsertPendingEarning(ctx context.Context, tx pgx.Tx, p *models.PendingEarning) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO pending_earnings (id, job_id, recipient_id, recipient_type, wallet_id, amount, release_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.JobID, p.RecipientID, p.RecipientType, p.WalletID, p.Amount, p.ReleaseDate).Scan(&p.CreatedAt)
	return mapErr(err)
}

func (r *PendingEarningRepo) GetPendingEarningForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PendingEarning, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanPendingEarning(tx.QueryRow(ctx, `SELECT `+pendingEarningColumns+` FROM pending_earnings WHERE id = $1 FOR UPDATE`, id))
}

func (r *PendingEarningRepo) MarkPendingEarningReleased(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE pending_earnings SET released = TRUE, released_at = $2 WHERE id = $1 AND NOT released
	`, id, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDuePendingEarnings returns unreleased rows whose release date has passed, oldest first.
func (r *PendingEarningRepo) ListDuePendingEarnings(ctx context.Context, now time.Time, limit int) ([]*models.PendingEarning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pendingEarningColumns+` FROM pending_earnings
		WHERE NOT released AND release_date <= $1
		ORDER BY release_date, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPendingEarning)
}

func (r *PendingEarningRepo) ListPendingEarningsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PendingEarning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pendingEarningColumns+` FROM pending_earnings WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPendingEarning)
}
