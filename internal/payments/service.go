// Package payments moves money between the platform and the outside world: gateway deposits and
// withdrawals, and the webhooks that settle them.
package payments

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/repository"
	"github.com/iayos/backend/internal/wallet"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Accounts interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// JobPayments settles gateway payments that belong to a job. Implemented by jobs.Service.
type JobPayments interface {
	ConfirmGCashPayment(ctx context.Context, jobID uuid.UUID, ref string) (*models.Job, error)
	FailGCashPayment(ctx context.Context, jobID uuid.UUID, ref string) (*models.Job, error)
}

type Service struct {
	DB       TxBeginner
	Accounts Accounts
	Wallet   *wallet.Service
	Ledger   ledger.Service
	Gateway  gateway.Client
	Jobs     JobPayments
	Events   events.Publisher
	Logger   *slog.Logger
}

func NewService(db TxBeginner, accounts Accounts, w *wallet.Service, l ledger.Service, gw gateway.Client, jobs JobPayments, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	return &Service{DB: db, Accounts: accounts, Wallet: w, Ledger: l, Gateway: gw, Jobs: jobs, Events: pub, Logger: logger}
}

type DepositResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Ref           string    `json:"ref"`
	CheckoutURL   string    `json:"checkout_url"`
}

type WithdrawResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Ref           string    `json:"ref"`
}

func (s *Service) tx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func amountOf(v decimal.Decimal) (decimal.Decimal, error) {
	v = models.Round2(v)
	if !v.IsPositive() {
		return v, apperr.InvalidInput("amount must be positive")
	}
	return v, nil
}

// Deposit records a PENDING deposit and opens a gateway checkout for it. The wallet is credited
// when the gateway confirms the reference.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*DepositResult, error) {
	amount, err := amountOf(amount)
	if err != nil {
		return nil, err
	}
	acc, err := s.Accounts.GetAccount(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("account %s not found", accountID)
	}
	if err != nil {
		return nil, err
	}

	ref := "dep-" + uuid.NewString()
	var id uuid.UUID
	err = s.tx(ctx, func(tx pgx.Tx) error {
		w, err := s.Wallet.Lock(ctx, tx, accountID)
		if err != nil {
			return err
		}
		id, err = s.Ledger.Post(ctx, tx, ledger.Entry{
			WalletID: w.ID, Kind: models.TxDeposit, Amount: amount, Status: models.TxPending,
			Description: "gcash deposit", ExternalRef: &ref,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	co, err := s.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		ExternalID: ref, Amount: amount, Description: "Wallet deposit", PayerEmail: acc.Email,
	})
	if err != nil {
		return nil, s.gatewayFailed(ctx, "deposit", ref, err)
	}
	return &DepositResult{TransactionID: id, Ref: ref, CheckoutURL: co.URL}, nil
}

// Withdraw reserves the amount and asks the gateway to pay it out. The reservation is captured when
// the gateway confirms and released when it fails.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, destination string) (*WithdrawResult, error) {
	amount, err := amountOf(amount)
	if err != nil {
		return nil, err
	}
	if destination == "" {
		return nil, apperr.InvalidInput("a payout destination is required")
	}

	ref := "wd-" + uuid.NewString()
	var id uuid.UUID
	err = s.tx(ctx, func(tx pgx.Tx) error {
		w, err := s.Wallet.Reserve(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}
		id, err = s.Ledger.Post(ctx, tx, ledger.Entry{
			WalletID: w.ID, Kind: models.TxWithdrawal, Amount: amount, Status: models.TxPending,
			Description: "withdrawal to " + destination, ExternalRef: &ref,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Gateway.CreatePayout(ctx, gateway.PayoutRequest{
		ExternalID: ref, Amount: amount, Destination: destination, Description: "Wallet withdrawal",
	}); err != nil {
		return nil, s.gatewayFailed(ctx, "withdraw", ref, err)
	}
	return &WithdrawResult{TransactionID: id, Ref: ref}, nil
}

// gatewayFailed maps a gateway error. A timeout leaves the entry PENDING for the webhook; a
// rejection fails it right away.
func (s *Service) gatewayFailed(ctx context.Context, op, ref string, err error) error {
	if errors.Is(err, gateway.ErrTimeout) {
		s.Logger.Warn("gateway timed out, entry left pending", "op", op, "ref", ref)
		return apperr.ExternalTimeout(err)
	}
	if ferr := s.PaymentFailed(ctx, ref); ferr != nil {
		s.Logger.Error("could not fail entry after gateway error", "op", op, "ref", ref, "error", ferr)
	}
	return apperr.ExternalFailure(err)
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*wallet.Balance, error) {
	return s.Wallet.GetBalance(ctx, accountID)
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	w, err := s.Wallet.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.Ledger.History(ctx, w.ID)
}

func (s *Service) PlatformRevenue(ctx context.Context) (decimal.Decimal, error) {
	return s.Ledger.PlatformRevenue(ctx)
}

// lookup routes a gateway reference before any transaction is open; the settling transaction
// locks the entry again.
func (s *Service) lookup(ctx context.Context, ref string) (*models.Transaction, error) {
	return s.Ledger.FindByRef(ctx, ref)
}

func jobPayment(e *models.Transaction) bool {
	return e.Kind == models.TxPayment && e.JobID != nil
}

// PaymentConfirmed settles the entry behind ref. Replaying a settled reference is a no-op.
func (s *Service) PaymentConfirmed(ctx context.Context, ref string) error {
	e, err := s.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if jobPayment(e) {
		_, err := s.Jobs.ConfirmGCashPayment(ctx, *e.JobID, ref)
		return err
	}

	var ev *events.Event
	err = s.tx(ctx, func(tx pgx.Tx) error {
		e, err := s.Ledger.GetByRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch e.Status {
		case models.TxCompleted:
			return nil
		case models.TxPending:
		default:
			return apperr.InvalidState("transaction %q is %s", ref, e.Status)
		}
		switch e.Kind {
		case models.TxDeposit:
			if _, err := s.Wallet.CreditPending(ctx, tx, e.ID); err != nil {
				return err
			}
			x := events.New(events.DepositCompleted, uuid.Nil).With("ref", ref).With("amount", e.Amount.StringFixed(2))
			ev = &x
		case models.TxWithdrawal:
			if _, err := s.Wallet.CapturePending(ctx, tx, e.ID); err != nil {
				return err
			}
			x := events.New(events.WithdrawalCompleted, uuid.Nil).With("ref", ref).With("amount", e.Amount.StringFixed(2))
			ev = &x
		default:
			return apperr.InvalidState("transaction %q (%s) is not settled by the gateway", ref, e.Kind)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if ev != nil {
		s.Events.Publish(ctx, *ev)
	}
	return nil
}

// PaymentFailed fails the entry behind ref; a withdrawal gets its reservation back. Replaying a
// failed reference is a no-op.
func (s *Service) PaymentFailed(ctx context.Context, ref string) error {
	e, err := s.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if jobPayment(e) {
		_, err := s.Jobs.FailGCashPayment(ctx, *e.JobID, ref)
		return err
	}

	failed := false
	err = s.tx(ctx, func(tx pgx.Tx) error {
		e, err := s.Ledger.GetByRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch e.Status {
		case models.TxFailed, models.TxCancelled:
			return nil
		case models.TxCompleted:
			return apperr.InvalidState("transaction %q already completed", ref)
		}
		switch e.Kind {
		case models.TxWithdrawal:
			_, err = s.Wallet.FailPending(ctx, tx, e.ID)
		default:
			_, err = s.Ledger.MarkFailed(ctx, tx, e.ID)
		}
		failed = err == nil && e.Kind == models.TxWithdrawal
		return err
	})
	if err != nil {
		return err
	}
	if failed {
		s.Events.Publish(ctx, events.New(events.WithdrawalFailed, uuid.Nil).With("ref", ref))
	}
	return nil
}
