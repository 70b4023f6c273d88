package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iayos/backend/internal/models"
)

// Repository is the account storage auth needs. repository.Store and storetest.Store implement it.
type Repository interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateAccount(ctx context.Context, tx pgx.Tx, a *models.Account) error
	CreateWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccountVerification(ctx context.Context, a *models.Account) error
	CreateEmployee(ctx context.Context, e *models.AgencyEmployee) error
}
