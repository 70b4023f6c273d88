// Package storetest is an in-memory implementation of every repository method, for service tests.
//
// Begin returns a pgx.Tx that serializes transactions and snapshots the whole state; Rollback
// restores the snapshot, so a failed transition leaves no trace. Unique indexes and CHECK
// constraints of the schema that the services rely on are enforced here as well. Like the pgx
// repositories, the *ForUpdate reads refuse to run without a transaction.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

type state struct {
	accounts            []*models.Account
	employees           []*models.AgencyEmployee
	categories          []*models.Category
	wallets             []*models.Wallet
	transactions        []*models.Transaction
	pendingEarnings     []*models.PendingEarning
	jobs                []*models.Job
	jobLogs             []*models.JobLog
	slots               []*models.SkillSlot
	workerAssignments   []*models.WorkerAssignment
	employeeAssignments []*models.EmployeeAssignment
	applications        []*models.Application
	attendance          []*models.DailyAttendance
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, len(in))
	for i, v := range in {
		out[i] = clone(v)
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		accounts:            cloneAll(s.accounts),
		employees:           cloneAll(s.employees),
		categories:          cloneAll(s.categories),
		wallets:             cloneAll(s.wallets),
		transactions:        cloneAll(s.transactions),
		pendingEarnings:     cloneAll(s.pendingEarnings),
		jobs:                cloneAll(s.jobs),
		jobLogs:             cloneAll(s.jobLogs),
		slots:               cloneAll(s.slots),
		workerAssignments:   cloneAll(s.workerAssignments),
		employeeAssignments: cloneAll(s.employeeAssignments),
		applications:        cloneAll(s.applications),
		attendance:          cloneAll(s.attendance),
	}
}

// Store holds the state. The zero value is not usable; call New.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state

	// Now stamps created_at and updated_at columns.
	Now func() time.Time
}

func New() *Store {
	return &Store{st: &state{}, Now: time.Now}
}

// Tx is the transaction handle returned by Begin. Only Commit and Rollback are implemented;
// the embedded nil pgx.Tx panics on anything else.
type Tx struct {
	pgx.Tx
	s    *Store
	snap *state
	done bool
}

func (s *Store) Begin(_ context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()
	return &Tx{s: s, snap: snap}, nil
}

// MustBegin opens a transaction for a test that drives services directly. It is committed when
// the test ends unless the test finished it first.
func (s *Store) MustBegin(t testing.TB) pgx.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tx.Commit(context.Background()) })
	return tx
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	t.s.st = t.snap
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

// requireTx mirrors the repository contract: a row lock needs an open transaction.
func requireTx(tx pgx.Tx) error {
	if tx == nil {
		return repository.ErrTxRequired
	}
	if t, ok := tx.(*Tx); ok && t.done {
		return pgx.ErrTxClosed
	}
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// AddAccount stores the account and an empty wallet for it and returns the wallet.
func (s *Store) AddAccount(a *models.Account) *models.Wallet {
	if err := s.CreateAccount(context.Background(), nil, a); err != nil {
		panic(fmt.Sprintf("storetest: add account: %v", err))
	}
	w := &models.Wallet{ID: uuid.New(), AccountID: a.ID}
	if err := s.CreateWallet(context.Background(), nil, w); err != nil {
		panic(fmt.Sprintf("storetest: add wallet: %v", err))
	}
	return w
}

func (s *Store) AddCategory(c *models.Category) {
	defer s.lock()()
	s.st.categories = append(s.st.categories, clone(c))
}

// Fund credits a wallet and posts the matching COMPLETED DEPOSIT so that the ledger reconciles.
func (s *Store) Fund(accountID uuid.UUID, amount decimal.Decimal) {
	defer s.lock()()
	for _, w := range s.st.wallets {
		if w.AccountID != accountID {
			continue
		}
		w.Balance = w.Balance.Add(amount)
		now := s.Now()
		s.st.transactions = append(s.st.transactions, &models.Transaction{
			ID: uuid.New(), WalletID: w.ID, Kind: models.TxDeposit, Amount: amount, Status: models.TxCompleted,
			BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: "seed", CreatedAt: now, CompletedAt: &now,
		})
		return
	}
	panic("storetest: no wallet for account")
}
