// Package wallet moves money between the balance, reserved and pending sub-balances of a wallet.
// Every method runs inside the caller's transaction and locks the wallet row first.
package wallet

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

// Repo is the minimal wallet and pending-earning storage the service needs.
type Repo interface {
	GetWalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	GetWalletByAccountForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.Wallet, error)
	UpdateWalletBalances(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	InsertPendingEarning(ctx context.Context, tx pgx.Tx, p *models.PendingEarning) error
	GetPendingEarningForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PendingEarning, error)
	MarkPendingEarningReleased(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

type Service struct {
	Repo   Repo
	Ledger ledger.Service
	Now    func() time.Time
}

func NewService(repo Repo, l ledger.Service) *Service {
	return &Service{Repo: repo, Ledger: l, Now: time.Now}
}

// Balance is the read model of a wallet.
type Balance struct {
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
	Total     decimal.Decimal `json:"total"`
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	w, err := s.Repo.GetWalletByAccount(ctx, accountID)
	if err != nil {
		return nil, notFound(err, accountID)
	}
	return &Balance{
		Balance:   w.Balance,
		Reserved:  w.ReservedBalance,
		Pending:   w.PendingEarnings,
		Available: w.Available(),
		Total:     w.Total(),
	}, nil
}

// Get returns the account wallet without locking it.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	w, err := s.Repo.GetWalletByAccount(ctx, accountID)
	return w, notFound(err, accountID)
}

// Lock takes the row lock on the account wallet.
func (s *Service) Lock(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	w, err := s.Repo.GetWalletByAccountForUpdate(ctx, tx, accountID)
	return w, notFound(err, accountID)
}

// LockMany locks several wallets in ascending account id order.
func (s *Service) LockMany(ctx context.Context, tx pgx.Tx, accountIDs ...uuid.UUID) error {
	ids := append([]uuid.UUID(nil), accountIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		if _, err := s.Lock(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error, accountID uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("wallet for account %s not found", accountID)
	}
	return err
}

// Reserve earmarks amount of the available balance.
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if w.Available().LessThan(amount) {
		return nil, apperr.InsufficientFunds(amount, w.Available())
	}
	w.ReservedBalance = w.ReservedBalance.Add(amount)
	return w, s.Repo.UpdateWalletBalances(ctx, tx, w)
}

// ReleaseReserve returns a reservation to the available balance.
func (s *Service) ReleaseReserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if w.ReservedBalance.LessThan(amount) {
		return nil, apperr.Invariant("wallet %s: release %s exceeds reserved %s", w.ID, amount, w.ReservedBalance)
	}
	w.ReservedBalance = w.ReservedBalance.Sub(amount)
	return w, s.Repo.UpdateWalletBalances(ctx, tx, w)
}

// Capture turns part of a reservation into a debit.
func (s *Service) Capture(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	return w, s.capture(ctx, tx, w, amount)
}

func (s *Service) capture(ctx context.Context, tx pgx.Tx, w *models.Wallet, amount decimal.Decimal) error {
	if w.ReservedBalance.LessThan(amount) || w.Balance.LessThan(amount) {
		return apperr.Invariant("wallet %s: capture %s exceeds reserved %s or balance %s", w.ID, amount, w.ReservedBalance, w.Balance)
	}
	w.ReservedBalance = w.ReservedBalance.Sub(amount)
	w.Balance = w.Balance.Sub(amount)
	return s.Repo.UpdateWalletBalances(ctx, tx, w)
}

// CapturePending captures the amount of a PENDING debit entry (payment, fee, withdrawal) from the
// reservation it was posted against and completes the entry.
func (s *Service) CapturePending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.Transaction, error) {
	e, err := s.Ledger.Get(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Kind.Sign() >= 0 || e.Status != models.TxPending {
		return nil, apperr.Invariant("entry %s (%s %s) cannot be captured", e.ID, e.Status, e.Kind)
	}
	w, err := s.Repo.GetWalletForUpdate(ctx, tx, e.WalletID)
	if err != nil {
		return nil, err
	}
	if err := s.capture(ctx, tx, w, e.Amount); err != nil {
		return nil, err
	}
	return s.Ledger.MarkCompleted(ctx, tx, e.ID, decimal.NewNullDecimal(w.Balance))
}

// Debit takes amount from the available balance and posts a COMPLETED entry of kind.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, kind models.TransactionKind, jobID *uuid.UUID, desc string) (uuid.UUID, error) {
	if kind.Sign() >= 0 {
		return uuid.Nil, apperr.Invariant("debit with non-debit kind %s", kind)
	}
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	if w.Available().LessThan(amount) {
		return uuid.Nil, apperr.InsufficientFunds(amount, w.Available())
	}
	w.Balance = w.Balance.Sub(amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return uuid.Nil, err
	}
	return s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: kind, Amount: amount, Status: models.TxCompleted,
		BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: desc, JobID: jobID,
	})
}

// Credit adds amount to the balance and posts a COMPLETED entry of kind.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, kind models.TransactionKind, jobID *uuid.UUID, desc string) (uuid.UUID, error) {
	if kind.Sign() <= 0 {
		return uuid.Nil, apperr.Invariant("credit with non-credit kind %s", kind)
	}
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	w.Balance = w.Balance.Add(amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return uuid.Nil, err
	}
	return s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: kind, Amount: amount, Status: models.TxCompleted,
		BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: desc, JobID: jobID,
	})
}

// CreditPending credits the amount of a PENDING credit entry (a deposit) and completes it.
func (s *Service) CreditPending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.Transaction, error) {
	e, err := s.Ledger.Get(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Kind.Sign() <= 0 || e.Status != models.TxPending {
		return nil, apperr.Invariant("entry %s (%s %s) cannot be credited", e.ID, e.Status, e.Kind)
	}
	w, err := s.Repo.GetWalletForUpdate(ctx, tx, e.WalletID)
	if err != nil {
		return nil, err
	}
	w.Balance = w.Balance.Add(e.Amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return nil, err
	}
	return s.Ledger.MarkCompleted(ctx, tx, e.ID, decimal.NewNullDecimal(w.Balance))
}

// HoldPending adds amount to pending earnings, records the PendingEarning row and posts a
// PENDING_EARNING entry. The balance is untouched.
func (s *Service) HoldPending(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, recipientType models.RecipientType, amount decimal.Decimal, jobID uuid.UUID, releaseDate time.Time) (*models.PendingEarning, error) {
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	w.PendingEarnings = w.PendingEarnings.Add(amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return nil, err
	}
	p := &models.PendingEarning{
		ID:            uuid.New(),
		JobID:         jobID,
		RecipientID:   accountID,
		RecipientType: recipientType,
		WalletID:      w.ID,
		Amount:        amount,
		ReleaseDate:   releaseDate,
	}
	if err := s.Repo.InsertPendingEarning(ctx, tx, p); err != nil {
		return nil, err
	}
	_, err = s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: models.TxPendingEarning, Amount: amount, Status: models.TxCompleted,
		BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: "earning held until " + releaseDate.Format("2006-01-02"),
		JobID: &jobID,
	})
	return p, err
}

// ReleasePending moves a held earning into the balance. A row that is already released is
// returned unchanged with released=false.
func (s *Service) ReleasePending(ctx context.Context, tx pgx.Tx, pendingID uuid.UUID) (p *models.PendingEarning, released bool, err error) {
	p, err = s.Repo.GetPendingEarningForUpdate(ctx, tx, pendingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperr.NotFound("pending earning %s not found", pendingID)
	}
	if err != nil {
		return nil, false, err
	}
	if p.Released {
		return p, false, nil
	}
	w, err := s.Repo.GetWalletForUpdate(ctx, tx, p.WalletID)
	if err != nil {
		return nil, false, err
	}
	if w.PendingEarnings.LessThan(p.Amount) {
		return nil, false, apperr.Invariant("wallet %s: pending %s below held earning %s", w.ID, w.PendingEarnings, p.Amount)
	}
	w.PendingEarnings = w.PendingEarnings.Sub(p.Amount)
	w.Balance = w.Balance.Add(p.Amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return nil, false, err
	}
	now := s.Now()
	if err := s.Repo.MarkPendingEarningReleased(ctx, tx, p.ID, now); err != nil {
		return nil, false, err
	}
	p.Released, p.ReleasedAt = true, &now
	_, err = s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: models.TxEarning, Amount: p.Amount, Status: models.TxCompleted,
		BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: "earning released", JobID: &p.JobID,
	})
	return p, err == nil, err
}

// PostOffline records money that moved outside the platform. It never changes a balance.
func (s *Service) PostOffline(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, kind models.TransactionKind, jobID *uuid.UUID, desc string) (uuid.UUID, error) {
	w, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	return s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: kind, Amount: amount, Status: models.TxCompleted,
		BalanceAfter: decimal.NewNullDecimal(w.Balance), Description: desc, JobID: jobID, Offline: true,
	})
}

// FailPending fails a PENDING debit entry and returns its reservation to the available balance.
func (s *Service) FailPending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.Transaction, error) {
	e, err := s.Ledger.Get(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Kind.Sign() >= 0 || e.Status != models.TxPending {
		return nil, apperr.Invariant("entry %s (%s %s) cannot be failed back to the wallet", e.ID, e.Status, e.Kind)
	}
	w, err := s.Repo.GetWalletForUpdate(ctx, tx, e.WalletID)
	if err != nil {
		return nil, err
	}
	if w.ReservedBalance.LessThan(e.Amount) {
		return nil, apperr.Invariant("wallet %s: release %s exceeds reserved %s", w.ID, e.Amount, w.ReservedBalance)
	}
	w.ReservedBalance = w.ReservedBalance.Sub(e.Amount)
	if err := s.Repo.UpdateWalletBalances(ctx, tx, w); err != nil {
		return nil, err
	}
	return s.Ledger.MarkFailed(ctx, tx, e.ID)
}
