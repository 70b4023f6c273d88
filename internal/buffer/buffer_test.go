package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/storetest"
	"github.com/iayos/backend/internal/wallet"
)

func setup(t *testing.T) (*Service, *storetest.Store, *events.Recorder, uuid.UUID) {
	t.Helper()
	s := storetest.New()
	w := wallet.NewService(s, ledger.NewService(s))
	worker := &models.Account{ID: uuid.New(), Email: "worker@example.com", Kind: models.AccountKindIndividual}
	s.AddAccount(worker)
	rec := &events.Recorder{}
	return NewService(s, s, w, 7*24*time.Hour, rec, nil), s, rec, worker.ID
}

// hold commits one Hold so a later sweep can open its own transaction.
func hold(t *testing.T, svc *Service, s *storetest.Store, job, worker uuid.UUID, amount int64) *models.PendingEarning {
	t.Helper()
	tx := s.MustBegin(t)
	p, err := svc.Hold(context.Background(), tx, job, worker, models.RecipientWorker, decimal.NewFromInt(amount))
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHoldUsesWindow(t *testing.T) {
	svc, s, _, worker := setup(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	p := hold(t, svc, s, uuid.New(), worker, 500)
	if want := now.Add(7 * 24 * time.Hour); !p.ReleaseDate.Equal(want) {
		t.Fatalf("release date %s, want %s", p.ReleaseDate, want)
	}
	w, _ := svc.Wallet.Get(context.Background(), worker)
	if !w.PendingEarnings.Equal(decimal.NewFromInt(500)) || !w.Balance.IsZero() {
		t.Fatalf("unexpected wallet after hold: %+v", w)
	}
}

func TestReleaseDuePendingOnlyReleasesDueRows(t *testing.T) {
	svc, s, rec, worker := setup(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return start }
	job := uuid.New()
	hold(t, svc, s, job, worker, 300)
	svc.Now = func() time.Time { return start.Add(48 * time.Hour) }
	hold(t, svc, s, job, worker, 200)

	n, err := svc.ReleaseDuePending(ctx, start.Add(7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("released %d, want 1", n)
	}
	w, _ := svc.Wallet.Get(ctx, worker)
	if !w.Balance.Equal(decimal.NewFromInt(300)) || !w.PendingEarnings.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected wallet after first sweep: %+v", w)
	}
	if rec.Count(events.EarningReleased) != 1 {
		t.Fatalf("expected one release event, got %d", rec.Count(events.EarningReleased))
	}

	list, err := svc.ForJob(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	released := 0
	for _, p := range list {
		if p.Released {
			released++
		}
	}
	if len(list) != 2 || released != 1 {
		t.Fatalf("expected 2 rows with 1 released, got %d/%d", len(list), released)
	}
}

func TestReleaseDuePendingIsIdempotent(t *testing.T) {
	svc, s, _, worker := setup(t)
	ctx := context.Background()
	start := time.Now().Add(-8 * 24 * time.Hour)
	svc.Now = func() time.Time { return start }
	hold(t, svc, s, uuid.New(), worker, 1000)

	now := time.Now()
	if n, err := svc.ReleaseDuePending(ctx, now); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	if n, err := svc.ReleaseDuePending(ctx, now); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
	w, _ := svc.Wallet.Get(ctx, worker)
	if !w.Balance.Equal(decimal.NewFromInt(1000)) || !w.PendingEarnings.IsZero() {
		t.Fatalf("unexpected wallet: %+v", w)
	}
	if err := svc.Wallet.Ledger.Reconcile(ctx, w); err != nil {
		t.Fatal(err)
	}
}
