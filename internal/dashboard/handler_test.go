package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/wallet"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubAccounts struct{ acc *models.Account }

func (s stubAccounts) Account(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if s.acc == nil || s.acc.ID != id {
		return nil, apperr.NotFound("account %s not found", id)
	}
	return s.acc, nil
}

type stubBalances struct{}

func (stubBalances) GetBalance(context.Context, uuid.UUID) (*wallet.Balance, error) {
	return &wallet.Balance{Balance: decimal.NewFromInt(5000), Available: decimal.NewFromInt(4400)}, nil
}

type stubJobs struct{ jobs, invites []*models.Job }

func (s stubJobs) ListFor(context.Context, models.Actor) ([]*models.Job, error) { return s.jobs, nil }
func (s stubJobs) Invites(context.Context, models.Actor) ([]*models.Job, error) { return s.invites, nil }

func get(t *testing.T, h *Handler, actor models.Actor) (*httptest.ResponseRecorder, Summary) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	h.GetSummary(rec, req)
	var s Summary
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
			t.Fatal(err)
		}
	}
	return rec, s
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestClientSummary(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Email: "ana@example.com", HasClientProfile: true}
	jobs := stubJobs{jobs: []*models.Job{
		{Status: models.JobActive, EscrowAmount: decimal.NewFromInt(500)},
		{Status: models.JobInProgress, EscrowAmount: decimal.NewFromInt(1000), EscrowReleased: decimal.NewFromInt(250),
			WorkerMarkedComplete: true},
		{Status: models.JobCancelled, EscrowAmount: decimal.NewFromInt(300)},
	}}
	h := NewHandler(stubAccounts{acc}, stubBalances{}, jobs, nil)

	rec, s := get(t, h, models.Actor{AccountID: acc.ID, Profile: models.ProfileClient})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.JobsByStatus[models.JobActive] != 1 || s.JobsByStatus[models.JobCancelled] != 1 {
		t.Errorf("jobs by status %+v", s.JobsByStatus)
	}
	if !s.EscrowHeld.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("escrow held %s, want 1250", s.EscrowHeld)
	}
	if s.AwaitingAction != 1 {
		t.Errorf("awaiting action %d, want 1", s.AwaitingAction)
	}
	if !s.Wallet.Available.Equal(decimal.NewFromInt(4400)) {
		t.Errorf("wallet %+v", s.Wallet)
	}
}

func TestAgencySummaryCountsOpenInvites(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Kind: models.AccountKindAgency}
	jobs := stubJobs{invites: []*models.Job{
		{Status: models.JobActive, InviteResponse: models.InvitePending},
		{Status: models.JobCancelled, InviteResponse: models.InviteRejected},
	}}
	h := NewHandler(stubAccounts{acc}, stubBalances{}, jobs, nil)

	_, s := get(t, h, models.Actor{AccountID: acc.ID, Profile: models.ProfileAgency})
	if s.OpenInvites != 1 {
		t.Errorf("open invites %d, want 1", s.OpenInvites)
	}
}

func TestUnknownAccount(t *testing.T) {
	h := NewHandler(stubAccounts{}, stubBalances{}, stubJobs{}, nil)
	rec, _ := get(t, h, models.Actor{AccountID: uuid.New(), Profile: models.ProfileClient})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
