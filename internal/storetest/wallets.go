package storetest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// accounts, employees, categories
// ---------------------------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, _ pgx.Tx, a *models.Account) error {
	defer s.lock()()
	for _, x := range s.st.accounts {
		if x.ID == a.ID || x.Email == a.Email {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt, a.UpdatedAt = s.Now(), s.Now()
	s.st.accounts = append(s.st.accounts, clone(a))
	return nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	defer s.lock()()
	for _, a := range s.st.accounts {
		if a.ID == id {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

// LockAccountForUpdate checks the account exists. Transactions are already serialized by Begin.
func (s *Store) LockAccountForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) error {
	if err := requireTx(tx); err != nil {
		return err
	}
	_, err := s.GetAccount(context.Background(), id)
	return err
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	defer s.lock()()
	for _, a := range s.st.accounts {
		if a.Email == email {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) UpdateAccountVerification(_ context.Context, a *models.Account) error {
	defer s.lock()()
	for _, x := range s.st.accounts {
		if x.ID == a.ID {
			x.Status, x.EmailVerified, x.KYCVerified, x.UpdatedAt = a.Status, a.EmailVerified, a.KYCVerified, s.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) CreateEmployee(_ context.Context, e *models.AgencyEmployee) error {
	defer s.lock()()
	e.CreatedAt = s.Now()
	s.st.employees = append(s.st.employees, clone(e))
	return nil
}

func (s *Store) GetEmployee(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.AgencyEmployee, error) {
	defer s.lock()()
	for _, e := range s.st.employees {
		if e.ID == id {
			return clone(e), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetCategory(_ context.Context, id int64) (*models.Category, error) {
	defer s.lock()()
	for _, c := range s.st.categories {
		if c.ID == id {
			return clone(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

// ---------------------------------------------------------------------------
// wallets
// ---------------------------------------------------------------------------

func (s *Store) CreateWallet(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	defer s.lock()()
	for _, x := range s.st.wallets {
		if x.ID == w.ID || x.AccountID == w.AccountID {
			return repository.ErrDuplicate
		}
	}
	w.CreatedAt, w.UpdatedAt = s.Now(), s.Now()
	s.st.wallets = append(s.st.wallets, clone(w))
	return nil
}

func (s *Store) walletBy(match func(*models.Wallet) bool) (*models.Wallet, error) {
	defer s.lock()()
	for _, w := range s.st.wallets {
		if match(w) {
			return clone(w), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetWalletByAccount(_ context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return s.walletBy(func(w *models.Wallet) bool { return w.AccountID == accountID })
}

func (s *Store) GetWalletByAccountForUpdate(_ context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return s.walletBy(func(w *models.Wallet) bool { return w.AccountID == accountID })
}

func (s *Store) GetWalletForUpdate(_ context.Context, tx pgx.Tx, walletID uuid.UUID) (*models.Wallet, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return s.walletBy(func(w *models.Wallet) bool { return w.ID == walletID })
}

// UpdateWalletBalances enforces the wallets table CHECK constraints.
func (s *Store) UpdateWalletBalances(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	if w.Balance.IsNegative() || w.ReservedBalance.IsNegative() || w.PendingEarnings.IsNegative() ||
		w.Balance.LessThan(w.ReservedBalance) {
		return fmt.Errorf("storetest: wallet %s violates check constraint (balance %s, reserved %s, pending %s)",
			w.ID, w.Balance, w.ReservedBalance, w.PendingEarnings)
	}
	defer s.lock()()
	for _, x := range s.st.wallets {
		if x.ID == w.ID {
			x.Balance, x.ReservedBalance, x.PendingEarnings = w.Balance, w.ReservedBalance, w.PendingEarnings
			x.UpdatedAt = s.Now()
			w.UpdatedAt = x.UpdatedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

// ---------------------------------------------------------------------------
// transactions
// ---------------------------------------------------------------------------

func (s *Store) InsertTransaction(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	if !t.Amount.IsPositive() {
		return fmt.Errorf("storetest: transaction amount must be positive, got %s", t.Amount)
	}
	defer s.lock()()
	for _, x := range s.st.transactions {
		if x.ID == t.ID || (t.ExternalRef != nil && x.ExternalRef != nil && *x.ExternalRef == *t.ExternalRef) {
			return repository.ErrDuplicate
		}
	}
	t.CreatedAt = s.Now()
	s.st.transactions = append(s.st.transactions, clone(t))
	return nil
}

func (s *Store) transactionBy(match func(*models.Transaction) bool) (*models.Transaction, error) {
	defer s.lock()()
	for _, t := range s.st.transactions {
		if match(t) {
			return clone(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetTransactionForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return s.transactionBy(func(t *models.Transaction) bool { return t.ID == id })
}

func (s *Store) GetTransactionByRef(_ context.Context, ref string) (*models.Transaction, error) {
	return s.transactionBy(func(t *models.Transaction) bool { return t.ExternalRef != nil && *t.ExternalRef == ref })
}

func (s *Store) GetTransactionByRefForUpdate(_ context.Context, tx pgx.Tx, ref string) (*models.Transaction, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	return s.transactionBy(func(t *models.Transaction) bool { return t.ExternalRef != nil && *t.ExternalRef == ref })
}

func (s *Store) UpdateTransactionStatus(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	defer s.lock()()
	for _, x := range s.st.transactions {
		if x.ID == t.ID && x.Status == models.TxPending {
			x.Status, x.BalanceAfter, x.CompletedAt = t.Status, t.BalanceAfter, t.CompletedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) ListTransactionsByWallet(_ context.Context, walletID uuid.UUID) ([]*models.Transaction, error) {
	defer s.lock()()
	var out []*models.Transaction
	for _, t := range s.st.transactions {
		if t.WalletID == walletID {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (s *Store) ListPendingTransactionsByJob(_ context.Context, _ pgx.Tx, jobID uuid.UUID) ([]*models.Transaction, error) {
	defer s.lock()()
	var out []*models.Transaction
	for _, t := range s.st.transactions {
		if t.JobID != nil && *t.JobID == jobID && t.Status == models.TxPending {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (s *Store) SumCompletedFees(_ context.Context) (decimal.Decimal, error) {
	defer s.lock()()
	sum := decimal.Zero
	for _, t := range s.st.transactions {
		if t.Kind == models.TxFee && t.Status == models.TxCompleted && !t.Offline {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// pending earnings
// ---------------------------------------------------------------------------

func (s *Store) InsertPendingEarning(_ context.Context, _ pgx.Tx, p *models.PendingEarning) error {
	defer s.lock()()
	p.CreatedAt = s.Now()
	s.st.pendingEarnings = append(s.st.pendingEarnings, clone(p))
	return nil
}

func (s *Store) GetPendingEarningForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.PendingEarning, error) {
	if err := requireTx(tx); err != nil {
		return nil, err
	}
	defer s.lock()()
	for _, p := range s.st.pendingEarnings {
		if p.ID == id {
			return clone(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) MarkPendingEarningReleased(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	defer s.lock()()
	for _, p := range s.st.pendingEarnings {
		if p.ID == id && !p.Released {
			p.Released, p.ReleasedAt = true, &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) ListDuePendingEarnings(_ context.Context, now time.Time, limit int) ([]*models.PendingEarning, error) {
	defer s.lock()()
	var out []*models.PendingEarning
	for _, p := range s.st.pendingEarnings {
		if len(out) == limit {
			break
		}
		if !p.Released && !p.ReleaseDate.After(now) {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *Store) ListPendingEarningsByJob(_ context.Context, jobID uuid.UUID) ([]*models.PendingEarning, error) {
	defer s.lock()()
	var out []*models.PendingEarning
	for _, p := range s.st.pendingEarnings {
		if p.JobID == jobID {
			out = append(out, clone(p))
		}
	}
	return out, nil
}
