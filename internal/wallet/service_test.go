package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/storetest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *storetest.Store
	ledger ledger.Service
	svc    *Service
	acc    uuid.UUID
	tx     pgx.Tx
}

func setup(t *testing.T, funds string) *fixture {
	t.Helper()
	s := storetest.New()
	l := ledger.NewService(s)
	acc := &models.Account{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Kind: models.AccountKindIndividual}
	s.AddAccount(acc)
	if funds != "0" {
		s.Fund(acc.ID, d(funds))
	}
	return &fixture{store: s, ledger: l, svc: NewService(s, l), acc: acc.ID, tx: s.MustBegin(t)}
}

func (f *fixture) wallet(t *testing.T) *models.Wallet {
	t.Helper()
	w, err := f.svc.Get(context.Background(), f.acc)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// reconcile asserts the balance invariants and the ledger sum.
func (f *fixture) reconcile(t *testing.T) {
	t.Helper()
	w := f.wallet(t)
	if w.Balance.IsNegative() || w.ReservedBalance.IsNegative() || w.PendingEarnings.IsNegative() || w.Balance.LessThan(w.ReservedBalance) {
		t.Fatalf("wallet invariants broken: %+v", w)
	}
	if err := f.ledger.Reconcile(context.Background(), w); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Reserve / release / capture
// ---------------------------------------------------------------------------

func TestReserveExactAvailableSucceeds(t *testing.T) {
	f := setup(t, "600")
	if _, err := f.svc.Reserve(context.Background(), f.tx, f.acc, d("600")); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := f.wallet(t).Available(); !got.IsZero() {
		t.Fatalf("available %s, want 0", got)
	}
	f.reconcile(t)
}

func TestReserveOneCentavoOverFails(t *testing.T) {
	f := setup(t, "600")
	_, err := f.svc.Reserve(context.Background(), f.tx, f.acc, d("600.01"))
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || !ae.Required.Equal(d("600.01")) || !ae.Available.Equal(d("600")) {
		t.Fatalf("unexpected details: %v", err)
	}
}

func TestReleaseReserveBeyondReservedIsInvariant(t *testing.T) {
	f := setup(t, "100")
	ctx := context.Background()
	_, _ = f.svc.Reserve(ctx, f.tx, f.acc, d("40"))
	if _, err := f.svc.ReleaseReserve(ctx, f.tx, f.acc, d("41")); !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if _, err := f.svc.ReleaseReserve(ctx, f.tx, f.acc, d("40")); err != nil {
		t.Fatal(err)
	}
	if !f.wallet(t).ReservedBalance.IsZero() {
		t.Fatal("reservation not released")
	}
}

func TestCapturePendingCompletesEntry(t *testing.T) {
	f := setup(t, "1000")
	ctx := context.Background()
	_, _ = f.svc.Reserve(ctx, f.tx, f.acc, d("300"))
	w := f.wallet(t)
	id, err := f.ledger.Post(ctx, nil, ledger.Entry{WalletID: w.ID, Kind: models.TxPayment, Amount: d("300")})
	if err != nil {
		t.Fatal(err)
	}

	e, err := f.svc.CapturePending(ctx, f.tx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != models.TxCompleted || !e.BalanceAfter.Decimal.Equal(d("700")) {
		t.Fatalf("entry %+v", e)
	}
	w = f.wallet(t)
	if !w.Balance.Equal(d("700")) || !w.ReservedBalance.IsZero() {
		t.Fatalf("wallet %+v", w)
	}
	f.reconcile(t)
}

// ---------------------------------------------------------------------------
// Debit / credit
// ---------------------------------------------------------------------------

func TestDebitRespectsReservation(t *testing.T) {
	f := setup(t, "500")
	ctx := context.Background()
	_, _ = f.svc.Reserve(ctx, f.tx, f.acc, d("400"))
	if _, err := f.svc.Debit(ctx, f.tx, f.acc, d("200"), models.TxPayment, nil, "x"); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.svc.Debit(ctx, f.tx, f.acc, d("100"), models.TxPayment, nil, "x"); err != nil {
		t.Fatal(err)
	}
	f.reconcile(t)
}

func TestCreditRejectsDebitKind(t *testing.T) {
	f := setup(t, "0")
	if _, err := f.svc.Credit(context.Background(), f.tx, f.acc, d("1"), models.TxFee, nil, ""); !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestCreditPendingDeposit(t *testing.T) {
	f := setup(t, "0")
	ctx := context.Background()
	w := f.wallet(t)
	id, _ := f.ledger.Post(ctx, nil, ledger.Entry{WalletID: w.ID, Kind: models.TxDeposit, Amount: d("250")})
	if _, err := f.svc.CreditPending(ctx, f.tx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreditPending(ctx, f.tx, id); !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("second credit: expected invariant violation, got %v", err)
	}
	if !f.wallet(t).Balance.Equal(d("250")) {
		t.Fatal("deposit not credited exactly once")
	}
	f.reconcile(t)
}

// ---------------------------------------------------------------------------
// Pending earnings
// ---------------------------------------------------------------------------

func TestHoldAndReleasePending(t *testing.T) {
	f := setup(t, "0")
	ctx := context.Background()
	job := uuid.New()

	p, err := f.svc.HoldPending(ctx, f.tx, f.acc, models.RecipientWorker, d("1000"), job, time.Now().Add(7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	w := f.wallet(t)
	if !w.PendingEarnings.Equal(d("1000")) || !w.Balance.IsZero() {
		t.Fatalf("after hold: %+v", w)
	}
	f.reconcile(t)

	_, released, err := f.svc.ReleasePending(ctx, f.tx, p.ID)
	if err != nil || !released {
		t.Fatalf("release: released=%v err=%v", released, err)
	}
	_, released, err = f.svc.ReleasePending(ctx, f.tx, p.ID)
	if err != nil || released {
		t.Fatalf("second release should be a no-op: released=%v err=%v", released, err)
	}
	w = f.wallet(t)
	if !w.PendingEarnings.IsZero() || !w.Balance.Equal(d("1000")) {
		t.Fatalf("after release: %+v", w)
	}
	f.reconcile(t)
}

func TestPostOfflineLeavesBalance(t *testing.T) {
	f := setup(t, "50")
	if _, err := f.svc.PostOffline(context.Background(), f.tx, f.acc, d("1000"), models.TxEarning, nil, "cash received"); err != nil {
		t.Fatal(err)
	}
	if !f.wallet(t).Balance.Equal(d("50")) {
		t.Fatal("offline entry changed the balance")
	}
	f.reconcile(t)
}

func TestLockManyToleratesDuplicates(t *testing.T) {
	f := setup(t, "0")
	other := &models.Account{ID: uuid.New(), Email: "o@example.com", Kind: models.AccountKindIndividual}
	f.store.AddAccount(other)
	if err := f.svc.LockMany(context.Background(), f.tx, other.ID, f.acc, other.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.LockMany(context.Background(), f.tx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailPendingReleasesReservation(t *testing.T) {
	f := setup(t, "1000")
	ctx := context.Background()
	_, _ = f.svc.Reserve(ctx, f.tx, f.acc, d("400"))
	w := f.wallet(t)
	id, err := f.ledger.Post(ctx, nil, ledger.Entry{WalletID: w.ID, Kind: models.TxWithdrawal, Amount: d("400")})
	if err != nil {
		t.Fatal(err)
	}

	e, err := f.svc.FailPending(ctx, f.tx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != models.TxFailed {
		t.Fatalf("status = %s", e.Status)
	}
	w = f.wallet(t)
	if !w.Balance.Equal(d("1000")) || !w.ReservedBalance.IsZero() {
		t.Fatalf("wallet %+v", w)
	}
	if _, err := f.svc.FailPending(ctx, f.tx, id); !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("second fail: %v", err)
	}
	f.reconcile(t)
}
