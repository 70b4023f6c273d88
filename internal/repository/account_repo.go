package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

type AccountRepo struct {
	base
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{base{pool: pool}}
}

const accountColumns = `id, email, password_hash, display_name, kind, status, email_verified, kyc_verified,
	has_client_profile, has_worker_profile, is_admin, created_at, updated_at`

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Kind, &a.Status, &a.EmailVerified, &a.KYCVerified,
		&a.HasClientProfile, &a.HasWorkerProfile, &a.IsAdmin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AccountRepo) CreateAccount(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash, display_name, kind, status, email_verified, kyc_verified,
			has_client_profile, has_worker_profile, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.PasswordHash, a.DisplayName, a.Kind, a.Status, a.EmailVerified, a.KYCVerified,
		a.HasClientProfile, a.HasWorkerProfile, a.IsAdmin).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *AccountRepo) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// UpdateAccountVerification stores the lifecycle status and verification flags.
func (r *AccountRepo) UpdateAccountVerification(ctx context.Context, a *models.Account) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, email_verified = $3, kyc_verified = $4, updated_at = now()
		WHERE id = $1
	`, a.ID, a.Status, a.EmailVerified, a.KYCVerified)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LockAccountForUpdate takes the account row lock. Hiring a worker holds it so two jobs cannot
// engage the same worker concurrently.
func (r *AccountRepo) LockAccountForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if tx == nil {
		return ErrTxRequired
	}
	var got uuid.UUID
	return mapErr(tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&got))
}

func (r *AccountRepo) CreateEmployee(ctx context.Context, e *models.AgencyEmployee) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO agency_employees (id, agency_id, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, e.ID, e.AgencyID, e.Name, e.Active).Scan(&e.CreatedAt)
	return mapErr(err)
}

func (r *AccountRepo) GetEmployee(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AgencyEmployee, error) {
	var e models.AgencyEmployee
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, agency_id, name, active, created_at FROM agency_employees WHERE id = $1
	`, id).Scan(&e.ID, &e.AgencyID, &e.Name, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (r *AccountRepo) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := r.pool.QueryRow(ctx, `SELECT id, name, minimum_rate FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.MinimumRate)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}
