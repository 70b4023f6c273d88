// Package dashboard serves the per-profile home screen summary.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/handlers"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/wallet"
)

// Accounts, Balances and Jobs are satisfied by auth.Service, payments.Service and jobs.Service.
type Accounts interface {
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Balances interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*wallet.Balance, error)
}

type Jobs interface {
	ListFor(ctx context.Context, actor models.Actor) ([]*models.Job, error)
	Invites(ctx context.Context, actor models.Actor) ([]*models.Job, error)
}

type Handler struct {
	accounts Accounts
	balances Balances
	jobs     Jobs
	log      *slog.Logger
}

func NewHandler(accounts Accounts, balances Balances, jobs Jobs, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, balances: balances, jobs: jobs, log: log}
}

type Summary struct {
	Account        *models.Account          `json:"account"`
	Profile        models.Profile           `json:"profile"`
	Wallet         *wallet.Balance          `json:"wallet"`
	JobsByStatus   map[models.JobStatus]int `json:"jobs_by_status"`
	OpenInvites    int                      `json:"open_invites"`
	EscrowHeld     decimal.Decimal          `json:"escrow_held"`
	AwaitingAction int                      `json:"awaiting_action"`
}

// GET /api/v1/dashboard
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	acc, err := h.accounts.Account(r.Context(), actor.AccountID)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	bal, err := h.balances.GetBalance(r.Context(), actor.AccountID)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	s := &Summary{Account: acc, Profile: actor.Profile, Wallet: bal, JobsByStatus: map[models.JobStatus]int{}}

	if actor.Profile != models.ProfileAdmin {
		list, err := h.jobs.ListFor(r.Context(), actor)
		if err != nil {
			handlers.WriteError(w, h.log, err)
			return
		}
		for _, j := range list {
			s.JobsByStatus[j.Status]++
			if actor.Profile == models.ProfileClient && (j.Status == models.JobActive || j.Status == models.JobInProgress) {
				s.EscrowHeld = s.EscrowHeld.Add(j.UnreleasedEscrow())
			}
			if awaiting(actor.Profile, j) {
				s.AwaitingAction++
			}
		}
		invites, err := h.jobs.Invites(r.Context(), actor)
		if err != nil {
			handlers.WriteError(w, h.log, err)
			return
		}
		for _, j := range invites {
			if j.Status == models.JobActive && j.InviteResponse == models.InvitePending {
				s.OpenInvites++
			}
		}
	}
	handlers.WriteJSON(w, http.StatusOK, s)
}

// awaiting reports whether the job's next step belongs to the given profile.
func awaiting(p models.Profile, j *models.Job) bool {
	if j.Status != models.JobInProgress {
		return false
	}
	switch p {
	case models.ProfileClient:
		return j.WorkerMarkedComplete && !j.ClientMarkedComplete
	case models.ProfileWorker, models.ProfileAgency:
		return j.ClientConfirmedWorkStarted && !j.WorkerMarkedComplete
	}
	return false
}
