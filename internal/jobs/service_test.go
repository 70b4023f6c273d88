package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/assignment"
	"github.com/iayos/backend/internal/buffer"
	"github.com/iayos/backend/internal/config"
	"github.com/iayos/backend/internal/escrow"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/storetest"
	"github.com/iayos/backend/internal/wallet"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const plumbing int64 = 1

type fixture struct {
	store  *storetest.Store
	ledger ledger.Service
	wallet *wallet.Service
	buffer *buffer.Service
	gw     *gateway.Fake
	events *events.Recorder
	svc    *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New()
	l := ledger.NewService(s)
	w := wallet.NewService(s, l)
	cfg := config.Default()
	rec := &events.Recorder{}
	b := buffer.NewService(s, s, w, cfg.BufferDuration(), rec, nil)
	esc := escrow.NewController(w, l, b, cfg.Fees)
	gw := &gateway.Fake{}
	s.AddCategory(&models.Category{ID: plumbing, Name: "Plumbing", MinimumRate: d("300")})
	return &fixture{
		store: s, ledger: l, wallet: w, buffer: b, gw: gw, events: rec,
		svc: NewService(s, s, w, l, esc, assignment.NewCoordinator(s), gw, rec, nil),
	}
}

func (f *fixture) account(edit func(a *models.Account)) uuid.UUID {
	n := uuid.New()
	a := &models.Account{ID: n, Email: n.String()[:8] + "@example.com", Kind: models.AccountKindIndividual}
	edit(a)
	f.store.AddAccount(a)
	return a.ID
}

func (f *fixture) client(funds string) models.Actor {
	id := f.account(func(a *models.Account) { a.HasClientProfile, a.KYCVerified = true, true })
	if funds != "0" {
		f.store.Fund(id, d(funds))
	}
	return models.Actor{AccountID: id, Profile: models.ProfileClient}
}

func (f *fixture) worker() models.Actor {
	id := f.account(func(a *models.Account) { a.HasWorkerProfile = true })
	return models.Actor{AccountID: id, Profile: models.ProfileWorker}
}

func (f *fixture) agency() models.Actor {
	id := f.account(func(a *models.Account) { a.Kind = models.AccountKindAgency })
	return models.Actor{AccountID: id, Profile: models.ProfileAgency}
}

func (f *fixture) admin() models.Actor {
	id := f.account(func(a *models.Account) { a.IsAdmin = true })
	return models.Actor{AccountID: id, Profile: models.ProfileAdmin}
}

func listing(budget string) CreateInput {
	return CreateInput{
		Title: "Fix kitchen sink", CategoryID: plumbing, PaymentModel: models.PaymentProject,
		Budget: d(budget), JobType: models.JobListing,
	}
}

func invite(budget string, invitee uuid.UUID) CreateInput {
	in := listing(budget)
	in.JobType, in.InviteeID = models.JobInvite, &invitee
	return in
}

func daily(rate string, days int) CreateInput {
	return CreateInput{
		Title: "Paint fence", CategoryID: plumbing, PaymentModel: models.PaymentDaily,
		DailyRate: d(rate), DurationDays: days, JobType: models.JobListing,
	}
}

func (f *fixture) post(t *testing.T, client models.Actor, in CreateInput) *models.Job {
	t.Helper()
	j, err := f.svc.CreateJob(context.Background(), client, in)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func (f *fixture) apply(t *testing.T, worker models.Actor, jobID uuid.UUID, in ApplyInput) *models.Application {
	t.Helper()
	app, err := f.svc.ApplyToJob(context.Background(), worker, jobID, in)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return app
}

// hire applies at the posted budget and accepts the application.
func (f *fixture) hire(t *testing.T, client, worker models.Actor, jobID uuid.UUID) *models.Job {
	t.Helper()
	app := f.apply(t, worker, jobID, ApplyInput{})
	j, err := f.svc.AcceptApplication(context.Background(), client, jobID, app.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return j
}

// workDone runs the start confirmation and the worker side of completion.
func (f *fixture) workDone(t *testing.T, client, worker models.Actor, jobID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.ConfirmWorkStarted(ctx, client, jobID); err != nil {
		t.Fatalf("confirm started: %v", err)
	}
	if _, err := f.svc.MarkComplete(ctx, worker, jobID, "done", nil); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
}

// walletOf returns the wallet after checking that it is non-negative and agrees with its ledger.
func (f *fixture) walletOf(t *testing.T, accountID uuid.UUID) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallet.Get(ctx, accountID)
	if err != nil {
		t.Fatal(err)
	}
	if w.Balance.IsNegative() || w.ReservedBalance.IsNegative() || w.ReservedBalance.GreaterThan(w.Balance) {
		t.Fatalf("wallet out of bounds: balance %s reserved %s", w.Balance, w.ReservedBalance)
	}
	if err := f.ledger.Reconcile(ctx, w); err != nil {
		t.Fatal(err)
	}
	return w
}

func (f *fixture) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := f.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("got %v, want %v", err, kind)
	}
}

func money(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s = %s, want %s", what, got.StringFixed(2), want)
	}
}

// ---------------------------------------------------------------------------
// Create / update / cancel / delete
// ---------------------------------------------------------------------------

func TestCreateListingReservesEscrowAndFee(t *testing.T) {
	f := setup(t)
	client := f.client("5000")
	j := f.post(t, client, listing("1000"))

	money(t, "escrow", j.EscrowAmount, "500")
	money(t, "fee", j.PlatformFee, "100")
	money(t, "remaining", j.RemainingPayment, "500")
	if j.EscrowPaid || j.Status != models.JobActive {
		t.Fatalf("job %+v", j)
	}
	w := f.walletOf(t, client.AccountID)
	money(t, "balance", w.Balance, "5000")
	money(t, "reserved", w.ReservedBalance, "600")

	pending, _ := f.ledger.PendingForJob(context.Background(), nil, j.ID)
	if len(pending) != 2 {
		t.Fatalf("pending entries = %d, want 2", len(pending))
	}
	logs, _ := f.svc.Logs(context.Background(), j.ID)
	if len(logs) != 1 || logs[0].Event != "created" {
		t.Fatalf("logs %+v", logs)
	}
}

func TestCreateRequiresKYC(t *testing.T) {
	f := setup(t)
	id := f.account(func(a *models.Account) { a.HasClientProfile = true })
	_, err := f.svc.CreateJob(context.Background(), models.Actor{AccountID: id, Profile: models.ProfileClient}, listing("1000"))
	wantKind(t, err, apperr.ErrForbidden)
}

func TestCreateAgainstExactAvailable(t *testing.T) {
	f := setup(t)
	exact := f.client("600")
	f.post(t, exact, listing("1000"))
	money(t, "available", f.walletOf(t, exact.AccountID).Available(), "0")

	short := f.client("599.99")
	_, err := f.svc.CreateJob(context.Background(), short, listing("1000"))
	wantKind(t, err, apperr.ErrInsufficientFunds)
	if list, _ := f.svc.ListFor(context.Background(), short); len(list) != 0 {
		t.Fatalf("job stored after a failed reservation: %+v", list)
	}
	money(t, "reserved", f.walletOf(t, short.AccountID).ReservedBalance, "0")
}

func TestCreateInviteCapturesImmediately(t *testing.T) {
	f := setup(t)
	client, worker := f.client("3000"), f.worker()
	j := f.post(t, client, invite("600", worker.AccountID))

	if !j.EscrowPaid || j.InviteResponse != models.InvitePending || !j.IsAssignedWorker(worker.AccountID) {
		t.Fatalf("job %+v", j)
	}
	w := f.walletOf(t, client.AccountID)
	money(t, "balance", w.Balance, "2640")
	money(t, "reserved", w.ReservedBalance, "0")
}

func TestCreateInviteYourselfConflict(t *testing.T) {
	f := setup(t)
	client := f.client("3000")
	_, err := f.svc.CreateJob(context.Background(), client, invite("600", client.AccountID))
	wantKind(t, err, apperr.ErrConflict)
}

func TestCreateDailyCapturesFullBudget(t *testing.T) {
	f := setup(t)
	client := f.client("10000")
	j := f.post(t, client, daily("500", 3))

	money(t, "budget", j.Budget, "1500")
	money(t, "escrow", j.EscrowAmount, "1500")
	money(t, "fee", j.PlatformFee, "150")
	money(t, "balance", f.walletOf(t, client.AccountID).Balance, "8350")
}

func TestCreateTeamSharesMustSumToBudget(t *testing.T) {
	f := setup(t)
	client := f.client("5000")
	in := listing("1000")
	in.Slots = []SlotInput{
		{Specialization: "Plumber", WorkersNeeded: 1, BudgetShare: d("600")},
		{Specialization: "Electrician", WorkersNeeded: 1, BudgetShare: d("300")},
	}
	_, err := f.svc.CreateJob(context.Background(), client, in)
	wantKind(t, err, apperr.ErrInvalidInput)
}

func TestUpdateBudgetRereserves(t *testing.T) {
	f := setup(t)
	client := f.client("5000")
	j := f.post(t, client, listing("1000"))

	budget := d("1500")
	j, err := f.svc.UpdateJob(context.Background(), client, j.ID, Patch{Budget: &budget})
	if err != nil {
		t.Fatal(err)
	}
	money(t, "escrow", j.EscrowAmount, "750")
	w := f.walletOf(t, client.AccountID)
	money(t, "reserved", w.ReservedBalance, "900")

	pending, _ := f.ledger.PendingForJob(context.Background(), nil, j.ID)
	if len(pending) != 2 {
		t.Fatalf("pending entries = %d, want 2 after re-reserve", len(pending))
	}
}

func TestUpdateBudgetGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.client("5000")
	j := f.post(t, client, listing("1000"))

	low := d("200")
	_, err := f.svc.UpdateJob(ctx, client, j.ID, Patch{Budget: &low})
	wantKind(t, err, apperr.ErrInvalidInput)

	f.apply(t, f.worker(), j.ID, ApplyInput{})
	more := d("1200")
	_, err = f.svc.UpdateJob(ctx, client, j.ID, Patch{Budget: &more})
	wantKind(t, err, apperr.ErrInvalidState)

	title := "Fix bathroom sink"
	if _, err := f.svc.UpdateJob(ctx, client, j.ID, Patch{Title: &title}); err != nil {
		t.Fatalf("title change with pending applications: %v", err)
	}
	money(t, "reserved", f.walletOf(t, client.AccountID).ReservedBalance, "600")
}

func TestUpdateByStrangerForbidden(t *testing.T) {
	f := setup(t)
	j := f.post(t, f.client("5000"), listing("1000"))
	title := "mine now"
	_, err := f.svc.UpdateJob(context.Background(), f.client("0"), j.ID, Patch{Title: &title})
	wantKind(t, err, apperr.ErrForbidden)
}

func TestCancelRestoresWallet(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   func(f *fixture) CreateInput
	}{
		{"listing", func(*fixture) CreateInput { return listing("1000") }},
		{"invite", func(f *fixture) CreateInput { return invite("1000", f.worker().AccountID) }},
		{"daily", func(*fixture) CreateInput { return daily("500", 2) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			client := f.client("5000")
			j := f.post(t, client, tc.in(f))
			applicant := f.worker()
			if j.JobType == models.JobListing {
				f.apply(t, applicant, j.ID, ApplyInput{})
			}

			j, err := f.svc.CancelJob(context.Background(), client, j.ID, "changed plans")
			if err != nil {
				t.Fatal(err)
			}
			if j.Status != models.JobCancelled || j.CancelledAt == nil {
				t.Fatalf("job %+v", j)
			}
			w := f.walletOf(t, client.AccountID)
			money(t, "balance", w.Balance, "5000")
			money(t, "reserved", w.ReservedBalance, "0")
			if pending, _ := f.ledger.PendingForJob(context.Background(), nil, j.ID); len(pending) != 0 {
				t.Fatalf("pending entries left: %+v", pending)
			}
			if apps, _ := f.svc.MyApplications(context.Background(), applicant); len(apps) > 0 && apps[0].Status != models.ApplicationRejected {
				t.Fatalf("application %s after cancel", apps[0].Status)
			}
		})
	}
}

func TestCancelInProgressInvalidState(t *testing.T) {
	f := setup(t)
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	_, err := f.svc.CancelJob(context.Background(), client, j.ID, "")
	wantKind(t, err, apperr.ErrInvalidState)
}

func TestDeleteActiveJobRefunds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.client("3000")
	j := f.post(t, client, invite("1000", f.worker().AccountID))

	if err := f.svc.DeleteJob(ctx, client, j.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Get(ctx, j.ID)
	wantKind(t, err, apperr.ErrNotFound)
	money(t, "balance", f.walletOf(t, client.AccountID).Balance, "3000")
	if f.events.Count(events.JobDeleted) != 1 {
		t.Fatal("no delete event")
	}
}

func TestDeleteHiredJobInvalidState(t *testing.T) {
	f := setup(t)
	client, worker := f.client("3000"), f.worker()
	j := f.post(t, client, invite("1000", worker.AccountID))
	if _, err := f.svc.AcceptInvite(context.Background(), worker, j.ID); err != nil {
		t.Fatal(err)
	}
	wantKind(t, f.svc.DeleteJob(context.Background(), client, j.ID), apperr.ErrInvalidState)
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

func TestApplyGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner := f.account(func(a *models.Account) {
		a.HasClientProfile, a.KYCVerified, a.HasWorkerProfile = true, true, true
	})
	f.store.Fund(owner, d("5000"))
	j := f.post(t, models.Actor{AccountID: owner, Profile: models.ProfileClient}, listing("1000"))

	_, err := f.svc.ApplyToJob(ctx, models.Actor{AccountID: owner, Profile: models.ProfileWorker}, j.ID, ApplyInput{})
	wantKind(t, err, apperr.ErrConflict)

	worker := f.worker()
	f.apply(t, worker, j.ID, ApplyInput{})
	_, err = f.svc.ApplyToJob(ctx, worker, j.ID, ApplyInput{})
	wantKind(t, err, apperr.ErrConflict)

	_, err = f.svc.ApplyToJob(ctx, models.Actor{AccountID: worker.AccountID, Profile: models.ProfileClient}, j.ID, ApplyInput{})
	wantKind(t, err, apperr.ErrForbidden)
}

func TestAcceptRejectsCompetingApplications(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.client("5000")
	j := f.post(t, client, listing("1000"))
	w1, w2 := f.worker(), f.worker()
	a1 := f.apply(t, w1, j.ID, ApplyInput{})
	f.apply(t, w2, j.ID, ApplyInput{})

	j, err := f.svc.AcceptApplication(ctx, client, j.ID, a1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != models.JobInProgress || !j.EscrowPaid || !j.IsAssignedWorker(w1.AccountID) {
		t.Fatalf("job %+v", j)
	}
	apps, _ := f.svc.Applications(ctx, client, j.ID)
	for _, a := range apps {
		want := models.ApplicationRejected
		if a.ID == a1.ID {
			want = models.ApplicationAccepted
		}
		if a.Status != want {
			t.Fatalf("application of %s is %s, want %s", a.WorkerID, a.Status, want)
		}
	}
	w := f.walletOf(t, client.AccountID)
	money(t, "balance", w.Balance, "4400")
	money(t, "reserved", w.ReservedBalance, "0")
}

func TestAcceptBusyWorkerConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	c1, c2, worker := f.client("5000"), f.client("5000"), f.worker()
	j1 := f.post(t, c1, listing("1000"))
	j2 := f.post(t, c2, listing("1000"))
	app2 := f.apply(t, worker, j2.ID, ApplyInput{})
	f.hire(t, c1, worker, j1.ID)

	_, err := f.svc.AcceptApplication(ctx, c2, j2.ID, app2.ID)
	wantKind(t, err, apperr.ErrInvalidState)

	// A fresh application on a third job is still blocked by the engagement.
	j3 := f.post(t, c2, listing("800"))
	app3 := f.apply(t, worker, j3.ID, ApplyInput{})
	_, err = f.svc.AcceptApplication(ctx, c2, j3.ID, app3.ID)
	wantKind(t, err, apperr.ErrConflict)
	money(t, "reserved", f.walletOf(t, c2.AccountID).ReservedBalance, "1080")
}

func TestRenegotiatedAcceptanceCapturesNewBudget(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	app := f.apply(t, worker, j.ID, ApplyInput{BudgetOption: models.BudgetNegotiate, ProposedBudget: d("1200")})

	j, err := f.svc.AcceptApplication(ctx, client, j.ID, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	money(t, "budget", j.Budget, "1200")
	money(t, "escrow", j.EscrowAmount, "600")
	w := f.walletOf(t, client.AccountID)
	money(t, "balance", w.Balance, "4280")
	money(t, "reserved", w.ReservedBalance, "0")
}

func TestNegotiateNotAllowedOnDaily(t *testing.T) {
	f := setup(t)
	j := f.post(t, f.client("5000"), daily("500", 2))
	_, err := f.svc.ApplyToJob(context.Background(), f.worker(), j.ID, ApplyInput{BudgetOption: models.BudgetNegotiate, ProposedBudget: d("800")})
	wantKind(t, err, apperr.ErrInvalidInput)
}

func TestRejectAndWithdrawApplication(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.client("5000")
	j := f.post(t, client, listing("1000"))
	w1, w2 := f.worker(), f.worker()
	a1 := f.apply(t, w1, j.ID, ApplyInput{})
	a2 := f.apply(t, w2, j.ID, ApplyInput{})

	if _, err := f.svc.RejectApplication(ctx, client, j.ID, a1.ID, "too far"); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.WithdrawApplication(ctx, w1, j.ID, a2.ID)
	wantKind(t, err, apperr.ErrForbidden)
	app, err := f.svc.WithdrawApplication(ctx, w2, j.ID, a2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if app.Status != models.ApplicationWithdrawn {
		t.Fatalf("status %s", app.Status)
	}
	_, err = f.svc.AcceptApplication(ctx, client, j.ID, a2.ID)
	wantKind(t, err, apperr.ErrInvalidState)

	// A withdrawn application does not block a new one.
	f.apply(t, w2, j.ID, ApplyInput{})
}

// ---------------------------------------------------------------------------
// Invites
// ---------------------------------------------------------------------------

func TestAcceptInviteStartsJob(t *testing.T) {
	f := setup(t)
	client, worker := f.client("3000"), f.worker()
	j := f.post(t, client, invite("600", worker.AccountID))

	_, err := f.svc.AcceptInvite(context.Background(), f.worker(), j.ID)
	wantKind(t, err, apperr.ErrForbidden)

	j, err = f.svc.AcceptInvite(context.Background(), worker, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != models.JobInProgress || j.InviteResponse != models.InviteAccepted {
		t.Fatalf("job %+v", j)
	}
	if list, _ := f.svc.ListFor(context.Background(), worker); len(list) != 1 {
		t.Fatalf("worker sees %d jobs", len(list))
	}
}

func TestInviteAndApplicationRaceForOneWorker(t *testing.T) {
	f := setup(t)
	c1, c2, worker := f.client("5000"), f.client("5000"), f.worker()
	inv := f.post(t, c1, invite("600", worker.AccountID))
	j2 := f.post(t, c2, listing("1000"))
	app := f.apply(t, worker, j2.ID, ApplyInput{})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.AcceptInvite(context.Background(), worker, inv.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.AcceptApplication(context.Background(), c2, j2.ID, app.ID)
	}()
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || conflicts != 1 {
		t.Fatalf("won=%d conflicts=%d, want exactly one hire", won, conflicts)
	}
	var started int
	for _, id := range []uuid.UUID{inv.ID, j2.ID} {
		if f.job(t, id).Status == models.JobInProgress {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("%d jobs in progress for one worker", started)
	}
}

func TestRejectInviteAfterAcceptInvalidState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("3000"), f.worker()
	j := f.post(t, client, invite("600", worker.AccountID))
	if _, err := f.svc.AcceptInvite(ctx, worker, j.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.RejectInvite(ctx, worker, j.ID, "changed my mind")
	wantKind(t, err, apperr.ErrInvalidState)
	money(t, "balance", f.walletOf(t, client.AccountID).Balance, "2640")
}

func TestAgencyInviteDispatchesEmployees(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, agency := f.client("3000"), f.agency()
	j := f.post(t, client, invite("1000", agency.AccountID))
	if !j.IsAssignedAgency(agency.AccountID) {
		t.Fatalf("job %+v", j)
	}

	e1 := &models.AgencyEmployee{ID: uuid.New(), AgencyID: agency.AccountID, Name: "Ana", Active: true}
	e2 := &models.AgencyEmployee{ID: uuid.New(), AgencyID: agency.AccountID, Name: "Ben", Active: true}
	f.store.CreateEmployee(ctx, e1)
	f.store.CreateEmployee(ctx, e2)

	_, err := f.svc.AssignEmployees(ctx, agency, j.ID, []uuid.UUID{e1.ID})
	wantKind(t, err, apperr.ErrInvalidState)

	if _, err := f.svc.AcceptInvite(ctx, agency, j.ID); err != nil {
		t.Fatal(err)
	}
	list, err := f.svc.AssignEmployees(ctx, agency, j.ID, []uuid.UUID{e1.ID, e2.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("assigned %d employees", len(list))
	}

	f.workDone(t, client, agency, j.ID)
	if _, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, ""); err != nil {
		t.Fatal(err)
	}
	money(t, "agency pending", f.walletOf(t, agency.AccountID).PendingEarnings, "1000")
	held, _ := f.buffer.ForJob(ctx, j.ID)
	if len(held) != 1 || held[0].RecipientType != models.RecipientAgency {
		t.Fatalf("held %+v", held)
	}
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestMarkCompleteNeedsStartConfirmation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)

	_, err := f.svc.MarkComplete(ctx, worker, j.ID, "", nil)
	wantKind(t, err, apperr.ErrInvalidState)
	_, err = f.svc.ConfirmWorkStarted(ctx, models.Actor{AccountID: worker.AccountID, Profile: models.ProfileClient}, j.ID)
	wantKind(t, err, apperr.ErrForbidden)

	f.workDone(t, client, worker, j.ID)
	_, err = f.svc.MarkComplete(ctx, worker, j.ID, "", nil)
	wantKind(t, err, apperr.ErrInvalidState)
	_, err = f.svc.ApproveCompletion(ctx, client, j.ID, "BITCOIN", "")
	wantKind(t, err, apperr.ErrInvalidInput)
}

func TestApproveBeforeMarkCompleteInvalidState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	_, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, "")
	wantKind(t, err, apperr.ErrInvalidState)
}

func TestWalletApprovalInsufficientFundsRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("600"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	_, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, "")
	wantKind(t, err, apperr.ErrInsufficientFunds)
	j = f.job(t, j.ID)
	if j.Status != models.JobInProgress || j.RemainingPaymentPaid || !j.EscrowReleased.IsZero() {
		t.Fatalf("job changed by a failed approval: %+v", j)
	}
	money(t, "worker pending", f.walletOf(t, worker.AccountID).PendingEarnings, "0")
}

func TestCashApprovalNeedsProof(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	_, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodCash, "  ")
	wantKind(t, err, apperr.ErrInvalidInput)
}

func TestGCashApprovalFlow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	ap, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodGCash, "")
	if err != nil {
		t.Fatal(err)
	}
	if ap.CheckoutURL != "https://checkout.test/"+ap.PaymentRef || len(f.gw.Checkouts) != 1 {
		t.Fatalf("approval %+v", ap)
	}
	money(t, "checkout amount", f.gw.Checkouts[0].Amount, "500")
	if j := f.job(t, j.ID); j.Status != models.JobInProgress || j.FinalPaymentMethod != models.MethodGCash {
		t.Fatalf("job %+v while awaiting payment", j)
	}
	_, err = f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, "")
	wantKind(t, err, apperr.ErrConflict)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ConfirmGCashPayment(ctx, j.ID, ap.PaymentRef); err != nil {
			t.Fatalf("confirmation %d: %v", i+1, err)
		}
	}
	j = f.job(t, j.ID)
	if j.Status != models.JobCompleted || !j.RemainingPaymentPaid {
		t.Fatalf("job %+v", j)
	}
	money(t, "escrow", j.EscrowAmount, "1000")
	money(t, "released", j.EscrowReleased, "1000")
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "4400")
	money(t, "worker pending", f.walletOf(t, worker.AccountID).PendingEarnings, "1000")
	if f.events.Count(events.JobCompleted) != 1 {
		t.Fatalf("completed events = %d", f.events.Count(events.JobCompleted))
	}
}

func TestGCashFailureReopensApproval(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker := f.client("5000"), f.worker()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	ap, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodGCash, "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.FailGCashPayment(ctx, j.ID, ap.PaymentRef); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	_, err = f.svc.ConfirmGCashPayment(ctx, j.ID, ap.PaymentRef)
	wantKind(t, err, apperr.ErrInvalidState)

	if _, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, ""); err != nil {
		t.Fatal(err)
	}
	j = f.job(t, j.ID)
	if j.Status != models.JobCompleted || j.FinalPaymentMethod != models.MethodWallet {
		t.Fatalf("job %+v", j)
	}
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "3900")
}

func TestGCashCheckoutErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		err      error
		want     error
		reopened bool
	}{
		{"timeout", fmt.Errorf("create invoice: %w", gateway.ErrTimeout), apperr.ErrExternalTimeout, false},
		{"rejected", gateway.ErrRejected, apperr.ErrExternalFailure, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			client, worker := f.client("5000"), f.worker()
			j := f.post(t, client, listing("1000"))
			f.hire(t, client, worker, j.ID)
			f.workDone(t, client, worker, j.ID)

			f.gw.Err = tc.err
			_, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodGCash, "")
			wantKind(t, err, tc.want)

			f.gw.Err = nil
			_, err = f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, "")
			if tc.reopened && err != nil {
				t.Fatalf("approval after a rejected checkout: %v", err)
			}
			if !tc.reopened {
				wantKind(t, err, apperr.ErrConflict)
			}
		})
	}
}

func TestTeamJobSplitsPayout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := f.client("5000")
	in := listing("1000")
	in.Slots = []SlotInput{
		{Specialization: "Plumber", WorkersNeeded: 2, BudgetShare: d("600")},
		{Specialization: "Electrician", WorkersNeeded: 1, BudgetShare: d("400")},
	}
	j := f.post(t, client, in)
	if !j.IsTeamJob || j.TotalWorkersNeeded != 3 {
		t.Fatalf("job %+v", j)
	}
	slots, err := f.svc.Slots(ctx, j.ID)
	if err != nil || len(slots) != 2 {
		t.Fatalf("slots %v %v", slots, err)
	}

	_, err = f.svc.ApplyToJob(ctx, f.worker(), j.ID, ApplyInput{BudgetOption: models.BudgetNegotiate, ProposedBudget: d("2000"), SlotID: &slots[0].ID})
	wantKind(t, err, apperr.ErrInvalidInput)

	workers := []models.Actor{f.worker(), f.worker(), f.worker()}
	slotOf := []uuid.UUID{slots[0].ID, slots[0].ID, slots[1].ID}
	for i, w := range workers {
		app := f.apply(t, w, j.ID, ApplyInput{SlotID: &slotOf[i]})
		j, err = f.svc.AcceptApplication(ctx, client, j.ID, app.ID)
		if err != nil {
			t.Fatalf("accept worker %d: %v", i, err)
		}
		if want := i == 2; (j.Status == models.JobInProgress) != want {
			t.Fatalf("after %d accepts the job is %s", i+1, j.Status)
		}
	}
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "4400")

	if _, err := f.svc.ConfirmWorkStarted(ctx, client, j.ID); err != nil {
		t.Fatal(err)
	}
	for i, w := range workers {
		j, err = f.svc.MarkComplete(ctx, w, j.ID, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		if j.WorkerMarkedComplete != (i == 2) {
			t.Fatalf("job flag after %d of 3 marked complete: %v", i+1, j.WorkerMarkedComplete)
		}
	}
	if _, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodWallet, ""); err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"300", "300", "400"} {
		money(t, fmt.Sprintf("worker %d pending", i), f.walletOf(t, workers[i].AccountID).PendingEarnings, want)
	}
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "3900")
}

func TestSplitGivesCentsToFirstShare(t *testing.T) {
	shares := []share{{weight: one}, {weight: one}, {weight: one}}
	parts := split(d("100"), shares)
	want := []string{"33.34", "33.33", "33.33"}
	sum := decimal.Zero
	for i, p := range parts {
		money(t, fmt.Sprintf("part %d", i), p, want[i])
		sum = sum.Add(p)
	}
	money(t, "sum", sum, "100")
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestSettleDailyEscrow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker, admin := f.client("10000"), f.worker(), f.admin()
	j := f.post(t, client, daily("500", 3))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	_, err := f.svc.SettleDailyEscrow(ctx, admin, j.ID, models.DailyRefunded)
	wantKind(t, err, apperr.ErrInvalidState)

	ap, err := f.svc.ApproveCompletion(ctx, client, j.ID, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if ap.Job.Status != models.JobCompleted {
		t.Fatalf("daily job %s after approval", ap.Job.Status)
	}
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "8350")

	_, err = f.svc.SettleDailyEscrow(ctx, client, j.ID, models.DailyRefunded)
	wantKind(t, err, apperr.ErrForbidden)

	j, err = f.svc.SettleDailyEscrow(ctx, admin, j.ID, models.DailyRefunded)
	if err != nil {
		t.Fatal(err)
	}
	if j.DailySettlement != models.DailyRefunded || j.DailySettledAt == nil {
		t.Fatalf("job %+v", j)
	}
	money(t, "client balance", f.walletOf(t, client.AccountID).Balance, "9850")
	money(t, "revenue", mustRevenue(t, f), "150")

	_, err = f.svc.SettleDailyEscrow(ctx, admin, j.ID, models.DailyReleased)
	wantKind(t, err, apperr.ErrInvalidState)
}

func TestSettleDailyEscrowRelease(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker, admin := f.client("10000"), f.worker(), f.admin()
	j := f.post(t, client, daily("500", 2))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)
	if _, err := f.svc.ApproveCompletion(ctx, client, j.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SettleDailyEscrow(ctx, admin, j.ID, models.DailyReleased); err != nil {
		t.Fatal(err)
	}
	money(t, "worker pending", f.walletOf(t, worker.AccountID).PendingEarnings, "1000")
}

func TestVerifyCashProof(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client, worker, admin := f.client("5000"), f.worker(), f.admin()
	j := f.post(t, client, listing("1000"))
	f.hire(t, client, worker, j.ID)
	f.workDone(t, client, worker, j.ID)

	_, err := f.svc.VerifyCashProof(ctx, admin, j.ID)
	wantKind(t, err, apperr.ErrInvalidState)

	if _, err := f.svc.ApproveCompletion(ctx, client, j.ID, models.MethodCash, "https://files.test/receipt.jpg"); err != nil {
		t.Fatal(err)
	}
	j, err = f.svc.VerifyCashProof(ctx, admin, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !j.CashPaymentApproved {
		t.Fatal("cash payment not approved")
	}
	_, err = f.svc.VerifyCashProof(ctx, admin, j.ID)
	wantKind(t, err, apperr.ErrInvalidState)
}

func mustRevenue(t *testing.T, f *fixture) decimal.Decimal {
	t.Helper()
	r, err := f.ledger.PlatformRevenue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// releaseAll runs the buffer past the hold window.
func (f *fixture) releaseAll(t *testing.T) int {
	t.Helper()
	n, err := f.buffer.ReleaseDuePending(context.Background(), time.Now().Add(8*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	return n
}
