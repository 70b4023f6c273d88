package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iayos/backend/internal/models"
)

type WalletRepo struct {
	base
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{base{pool: pool}}
}

const walletColumns = `id, account_id, balance, reserved_balance, pending_earnings, created_at, updated_at`

func scanWallet(row scanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.AccountID, &w.Balance, &w.ReservedBalance, &w.PendingEarnings, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}

func (r *WalletRepo) CreateWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO wallets (id, account_id, balance, reserved_balance, pending_earnings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, w.ID, w.AccountID, w.Balance, w.ReservedBalance, w.PendingEarnings).Scan(&w.CreatedAt, &w.UpdatedAt)
	return mapErr(err)
}

func (r *WalletRepo) GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID))
}

// GetWalletByAccountForUpdate locks the wallet row of the account. Call within a transaction.
func (r *WalletRepo) GetWalletByAccountForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID))
}

// GetWalletForUpdate locks the wallet row by wallet id. Call within a transaction.
func (r *WalletRepo) GetWalletForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.Wallet, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
}

// UpdateWalletBalances writes all three sub-balances. Call after a FOR UPDATE read in the same tx.
func (r *WalletRepo) UpdateWalletBalances(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	err := r.q(tx).QueryRow(ctx, `
		UPDATE wallets SET balance = $2, reserved_balance = $3, pending_earnings = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, w.ID, w.Balance, w.ReservedBalance, w.PendingEarnings).Scan(&w.UpdatedAt)
	return mapErr(err)
}
