package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/models"
)

// TransactionRepo stores ledger entries. Rows are never deleted; only PENDING rows change status.
type TransactionRepo struct {
	base
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{base{pool: pool}}
}

const transactionColumns = `id, wallet_id, kind, amount, status, balance_after, description, job_id, external_ref,
	offline, created_at, completed_at`

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.WalletID, &t.Kind, &t.Amount, &t.Status, &t.BalanceAfter, &t.Description, &t.JobID,
		&t.ExternalRef, &t.Offline, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *TransactionRepo) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO transactions (id, wallet_id, kind, amount, status, balance_after, description, job_id,
			external_ref, offline, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, t.ID, t.WalletID, t.Kind, t.Amount, t.Status, t.BalanceAfter, t.Description, t.JobID,
		t.ExternalRef, t.Offline, t.CompletedAt).Scan(&t.CreatedAt)
	return mapErr(err)
}

func (r *TransactionRepo) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// GetTransactionByRef reads an entry by its gateway reference without locking it.
func (r *TransactionRepo) GetTransactionByRef(ctx context.Context, ref string) (*models.Transaction, error) {
	return scanTransaction(r.q(nil).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_ref = $1`, ref))
}

// GetTransactionByRefForUpdate looks an entry up by its gateway reference. Webhook handlers key on it.
func (r *TransactionRepo) GetTransactionByRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_ref = $1 FOR UPDATE`, ref))
}

// UpdateTransactionStatus moves a PENDING entry to its final status. The WHERE clause refuses to
// touch entries that already left PENDING.
func (r *TransactionRepo) UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE transactions SET status = $2, balance_after = $3, completed_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, t.ID, t.Status, t.BalanceAfter, t.CompletedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TransactionRepo) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY created_at, id
	`, walletID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

// ListPendingTransactionsByJob returns the PENDING entries tied to a job across all wallets.
func (r *TransactionRepo) ListPendingTransactionsByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE job_id = $1 AND status = 'PENDING' ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

// SumCompletedFees is the platform revenue.
func (r *TransactionRepo) SumCompletedFees(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE kind = 'FEE' AND status = 'COMPLETED' AND NOT offline
	`).Scan(&sum)
	return sum, mapErr(err)
}
