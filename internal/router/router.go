package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iayos/backend/internal/auth"
	"github.com/iayos/backend/internal/dashboard"
	"github.com/iayos/backend/internal/handlers"
	"github.com/iayos/backend/internal/jobs"
	"github.com/iayos/backend/internal/metrics"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/validate"
)

// Handlers bundles every HTTP handler the API serves.
type Handlers struct {
	Auth       *auth.Handler
	Jobs       *jobs.Handler
	Wallet     *handlers.WalletHandler
	Attendance *handlers.AttendanceHandler
	Admin      *handlers.AdminHandler
	Webhooks   *handlers.WebhookHandler
	Dashboard  *dashboard.Handler
}

const base = "/api/v1"

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.HandlerFunc) http.Handler {
	var out http.Handler = h
	for i := len(c) - 1; i >= 0; i-- {
		out = c[i](out)
	}
	return out
}

// New returns the API router. Every route is instrumented under its path template.
func New(h Handlers, tokens middleware.TokenValidator, schemas middleware.BodyChecker) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix(base).Subrouter()

	handle := func(method, path string, c chain, fn http.HandlerFunc) {
		api.Handle(path, metrics.Instrument(path, c.then(fn))).Methods(method)
	}

	authed := chain{middleware.Authenticate(tokens)}
	as := func(p ...models.Profile) chain {
		return chain{middleware.Authenticate(tokens), middleware.RequireProfile(p...)}
	}
	client := as(models.ProfileClient)
	worker := as(models.ProfileWorker)
	provider := as(models.ProfileWorker, models.ProfileAgency)
	agency := as(models.ProfileAgency)
	admin := as(models.ProfileAdmin)
	checked := func(c chain, schema string) chain {
		return append(append(chain{}, c...), middleware.SchemaCheck(schemas, schema))
	}

	// Accounts
	handle(http.MethodPost, "/auth/register", nil, h.Auth.Register)
	handle(http.MethodPost, "/auth/login", nil, h.Auth.Login)
	handle(http.MethodGet, "/account/me", authed, h.Auth.Me)
	handle(http.MethodGet, "/dashboard", authed, h.Dashboard.GetSummary)
	handle(http.MethodPost, "/agency/employees", agency, h.Auth.AddEmployee)

	// Jobs
	handle(http.MethodPost, "/jobs", checked(client, validate.CreateJob), h.Jobs.CreateJob)
	handle(http.MethodGet, "/jobs", authed, h.Jobs.ListJobs)
	handle(http.MethodGet, "/jobs/invites", provider, h.Jobs.Invites)
	handle(http.MethodGet, "/jobs/{jobID}", authed, h.Jobs.GetJob)
	handle(http.MethodPatch, "/jobs/{jobID}", client, h.Jobs.UpdateJob)
	handle(http.MethodDelete, "/jobs/{jobID}", client, h.Jobs.DeleteJob)
	handle(http.MethodPost, "/jobs/{jobID}/cancel", client, h.Jobs.CancelJob)
	handle(http.MethodGet, "/jobs/{jobID}/slots", authed, h.Jobs.Slots)
	handle(http.MethodGet, "/jobs/{jobID}/logs", authed, h.Jobs.Logs)

	// Applications
	handle(http.MethodPost, "/jobs/{jobID}/applications", checked(worker, validate.Apply), h.Jobs.Apply)
	handle(http.MethodGet, "/jobs/{jobID}/applications", client, h.Jobs.Applications)
	handle(http.MethodPost, "/jobs/{jobID}/applications/{appID}/accept", client, h.Jobs.AcceptApplication)
	handle(http.MethodPost, "/jobs/{jobID}/applications/{appID}/reject", client, h.Jobs.RejectApplication)
	handle(http.MethodPost, "/jobs/{jobID}/applications/{appID}/withdraw", worker, h.Jobs.WithdrawApplication)
	handle(http.MethodGet, "/applications/mine", worker, h.Jobs.MyApplications)

	// Invites and agency dispatch
	handle(http.MethodPost, "/jobs/{jobID}/invite/accept", provider, h.Jobs.AcceptInvite)
	handle(http.MethodPost, "/jobs/{jobID}/invite/reject", provider, h.Jobs.RejectInvite)
	handle(http.MethodPost, "/jobs/{jobID}/employees", agency, h.Jobs.AssignEmployees)

	// Completion
	handle(http.MethodPost, "/jobs/{jobID}/start", client, h.Jobs.ConfirmWorkStarted)
	handle(http.MethodPost, "/jobs/{jobID}/complete", provider, h.Jobs.MarkComplete)
	handle(http.MethodPost, "/jobs/{jobID}/approve", client, h.Jobs.ApproveCompletion)

	// Daily attendance
	handle(http.MethodPost, "/jobs/{jobID}/attendance/check-in", provider, h.Attendance.CheckIn)
	handle(http.MethodPost, "/jobs/{jobID}/attendance/check-out", provider, h.Attendance.CheckOut)
	handle(http.MethodGet, "/jobs/{jobID}/attendance", authed, h.Attendance.List)
	handle(http.MethodPost, "/attendance/{recordID}/confirm", client, h.Attendance.Confirm)

	// Wallet
	handle(http.MethodGet, "/wallet", authed, h.Wallet.Balance)
	handle(http.MethodGet, "/wallet/transactions", authed, h.Wallet.Transactions)
	handle(http.MethodPost, "/wallet/deposit", authed, h.Wallet.Deposit)
	handle(http.MethodPost, "/wallet/withdraw", authed, h.Wallet.Withdraw)

	// Admin
	handle(http.MethodPost, "/admin/accounts/{accountID}/kyc", admin, h.Auth.VerifyKYC)
	handle(http.MethodPost, "/admin/jobs/{jobID}/settle", admin, h.Jobs.SettleDailyEscrow)
	handle(http.MethodPost, "/admin/jobs/{jobID}/verify-cash", admin, h.Jobs.VerifyCashProof)
	handle(http.MethodGet, "/admin/jobs/{jobID}/pending-earnings", admin, h.Admin.PendingEarnings)
	handle(http.MethodGet, "/admin/revenue", admin, h.Admin.Revenue)
	handle(http.MethodPost, "/admin/sweeps/release-earnings", admin, h.Admin.ReleaseDue)
	handle(http.MethodPost, "/admin/sweeps/attendance", admin, h.Admin.SweepAttendance)

	// Gateway callbacks authenticate with the callback token, not a JWT.
	handle(http.MethodPost, "/webhooks/gateway", nil, h.Webhooks.Gateway)

	return r
}
