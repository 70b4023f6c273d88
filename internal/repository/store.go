package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles every repository over one pool. Method names are distinct across repositories, so a
// Store satisfies each service's repository interface on its own.
type Store struct {
	*AccountRepo
	*WalletRepo
	*TransactionRepo
	*PendingEarningRepo
	*JobRepo
	*AssignmentRepo
	*ApplicationRepo
	*AttendanceRepo

	db *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		AccountRepo:        NewAccountRepo(pool),
		WalletRepo:         NewWalletRepo(pool),
		TransactionRepo:    NewTransactionRepo(pool),
		PendingEarningRepo: NewPendingEarningRepo(pool),
		JobRepo:            NewJobRepo(pool),
		AssignmentRepo:     NewAssignmentRepo(pool),
		ApplicationRepo:    NewApplicationRepo(pool),
		AttendanceRepo:     NewAttendanceRepo(pool),
		db:                 pool,
	}
}

// Begin starts a transaction on the underlying pool.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Begin(ctx)
}
