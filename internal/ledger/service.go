// Package ledger is the append-only transaction log behind every wallet balance change.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/metrics"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

// Entry describes a ledger entry to post.
type Entry struct {
	WalletID     uuid.UUID
	Kind         models.TransactionKind
	Amount       decimal.Decimal
	Status       models.TransactionStatus
	BalanceAfter decimal.NullDecimal
	Description  string
	JobID        *uuid.UUID
	ExternalRef  *string
	Offline      bool
}

type Service interface {
	Post(ctx context.Context, tx pgx.Tx, e Entry) (uuid.UUID, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, balanceAfter decimal.NullDecimal) (*models.Transaction, error)
	MarkCancelled(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	GetByRef(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error)
	FindByRef(ctx context.Context, ref string) (*models.Transaction, error)
	PendingForJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error)
	History(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error)
	PlatformRevenue(ctx context.Context) (decimal.Decimal, error)
	Reconcile(ctx context.Context, w *models.Wallet) error
}

// Repo is the storage the ledger needs.
type Repo interface {
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByRef(ctx context.Context, ref string) (*models.Transaction, error)
	GetTransactionByRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error)
	ListPendingTransactionsByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error)
	SumCompletedFees(ctx context.Context) (decimal.Decimal, error)
}

type service struct {
	repo Repo
	now  func() time.Time
}

func NewService(repo Repo) Service {
	return &service{repo: repo, now: time.Now}
}

var _ Service = (*service)(nil)

// Post writes a new entry. A COMPLETED entry carries the balanceAfter the wallet service computed in
// the same transaction; offline COMPLETED entries may leave it empty.
func (s *service) Post(ctx context.Context, tx pgx.Tx, e Entry) (uuid.UUID, error) {
	if !e.Amount.IsPositive() {
		return uuid.Nil, apperr.Invariant("ledger amount must be positive, got %s", e.Amount)
	}
	if e.Status == "" {
		e.Status = models.TxPending
	}
	if e.Status != models.TxPending && e.Status != models.TxCompleted {
		return uuid.Nil, apperr.Invariant("cannot post a %s entry", e.Status)
	}
	t := &models.Transaction{
		ID:           uuid.New(),
		WalletID:     e.WalletID,
		Kind:         e.Kind,
		Amount:       models.Round2(e.Amount),
		Status:       e.Status,
		BalanceAfter: e.BalanceAfter,
		Description:  e.Description,
		JobID:        e.JobID,
		ExternalRef:  e.ExternalRef,
		Offline:      e.Offline,
	}
	if e.Status == models.TxCompleted {
		now := s.now()
		t.CompletedAt = &now
	}
	if err := s.repo.InsertTransaction(ctx, tx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return uuid.Nil, apperr.Conflict("external reference already used")
		}
		return uuid.Nil, err
	}
	metrics.LedgerEntries.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	return t.ID, nil
}

func (s *service) MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, balanceAfter decimal.NullDecimal) (*models.Transaction, error) {
	return s.finish(ctx, tx, id, models.TxCompleted, balanceAfter)
}

func (s *service) MarkCancelled(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	return s.finish(ctx, tx, id, models.TxCancelled, decimal.NullDecimal{})
}

func (s *service) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	return s.finish(ctx, tx, id, models.TxFailed, decimal.NullDecimal{})
}

func (s *service) finish(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.TransactionStatus, balanceAfter decimal.NullDecimal) (*models.Transaction, error) {
	t, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TxPending {
		return nil, apperr.Invariant("ledger entry %s is %s, not PENDING", id, t.Status)
	}
	now := s.now()
	t.Status = status
	t.BalanceAfter = balanceAfter
	t.CompletedAt = &now
	if err := s.repo.UpdateTransactionStatus(ctx, tx, t); err != nil {
		return nil, err
	}
	metrics.LedgerEntries.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	return t, nil
}

// Get locks and returns an entry.
func (s *service) Get(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.repo.GetTransactionForUpdate(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("transaction %s not found", id)
	}
	return t, err
}

// GetByRef locks and returns the entry carrying a gateway reference.
func (s *service) GetByRef(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error) {
	t, err := s.repo.GetTransactionByRefForUpdate(ctx, tx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("no transaction for reference %q", ref)
	}
	return t, err
}

// FindByRef reads the entry carrying a gateway reference without locking it.
func (s *service) FindByRef(ctx context.Context, ref string) (*models.Transaction, error) {
	t, err := s.repo.GetTransactionByRef(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("no transaction for reference %q", ref)
	}
	return t, err
}

func (s *service) PendingForJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error) {
	return s.repo.ListPendingTransactionsByJob(ctx, tx, jobID)
}

func (s *service) History(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error) {
	return s.repo.ListTransactionsByWallet(ctx, walletID)
}

// PlatformRevenue sums COMPLETED FEE entries.
func (s *service) PlatformRevenue(ctx context.Context) (decimal.Decimal, error) {
	return s.repo.SumCompletedFees(ctx)
}

// Reconcile checks that the signed sum of the wallet's COMPLETED entries equals its balance.
func (s *service) Reconcile(ctx context.Context, w *models.Wallet) error {
	list, err := s.repo.ListTransactionsByWallet(ctx, w.ID)
	if err != nil {
		return err
	}
	sum := Balance(list)
	if !sum.Equal(w.Balance) {
		return apperr.Invariant("wallet %s balance %s does not match ledger sum %s", w.ID, w.Balance, sum)
	}
	return nil
}

// Balance is the signed sum of the entries that count toward a wallet balance.
func Balance(list []*models.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range list {
		sum = sum.Add(t.SignedAmount())
	}
	return sum
}
