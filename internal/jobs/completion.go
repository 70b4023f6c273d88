package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
)

// ConfirmWorkStarted records that the client saw work begin. Workers cannot mark complete before it.
func (s *Service) ConfirmWorkStarted(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "confirm_work_started", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if j.Status != models.JobInProgress {
			return nil, apperr.InvalidState("job %s is %s", j.ID, j.Status)
		}
		if j.ClientConfirmedWorkStarted {
			return nil, apperr.InvalidState("work on job %s was already confirmed", j.ID)
		}
		j.ClientConfirmedWorkStarted, j.ClientConfirmedWorkStartedAt = true, s.now()
		if err := s.save(ctx, tx, j, &actor, "work_started", j.Status, ""); err != nil {
			return nil, err
		}
		others, err := s.participants(ctx, tx, j)
		if err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.JobWorkStarted, j.ID, others...)}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// MarkComplete is the worker side of completion. On a team job each assignment marks separately and
// the job flag is raised once every active assignment has marked.
func (s *Service) MarkComplete(ctx context.Context, actor models.Actor, jobID uuid.UUID, notes string, photos []string) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "mark_complete", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if j.Status != models.JobInProgress {
			return nil, apperr.InvalidState("job %s is %s", j.ID, j.Status)
		}
		if !j.ClientConfirmedWorkStarted {
			return nil, apperr.InvalidState("client has not confirmed that work on job %s started", j.ID)
		}
		if j.WorkerMarkedComplete {
			return nil, apperr.InvalidState("job %s is already marked complete", j.ID)
		}

		allDone := true
		switch {
		case actor.Profile == models.ProfileAgency && j.IsAssignedAgency(actor.AccountID):
		case actor.Profile == models.ProfileWorker && j.IsAssignedWorker(actor.AccountID):
		case actor.Profile == models.ProfileWorker && j.IsTeamJob:
			if allDone, err = s.markAssignment(ctx, tx, j, actor.AccountID); err != nil {
				return nil, err
			}
		default:
			return nil, apperr.Forbidden("you are not assigned to job %s", j.ID)
		}

		if notes != "" {
			j.CompletionNotes = notes
		}
		j.CompletionPhotos = append(j.CompletionPhotos, photos...)
		if allDone {
			j.WorkerMarkedComplete, j.WorkerMarkedCompleteAt = true, s.now()
		}
		if err := s.save(ctx, tx, j, &actor, "marked_complete", j.Status, notes); err != nil {
			return nil, err
		}
		if !allDone {
			return nil, nil
		}
		return []events.Event{events.New(events.JobMarkedComplete, j.ID, j.ClientID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// markAssignment flags the worker's team assignment and reports whether every active one is flagged.
func (s *Service) markAssignment(ctx context.Context, tx pgx.Tx, j *models.Job, workerID uuid.UUID) (bool, error) {
	list, err := s.Repo.ListWorkerAssignments(ctx, tx, j.ID)
	if err != nil {
		return false, err
	}
	var mine *models.WorkerAssignment
	for _, a := range list {
		if a.WorkerID == workerID && a.Status == models.AssignmentActive {
			mine = a
		}
	}
	if mine == nil {
		return false, apperr.Forbidden("you are not assigned to job %s", j.ID)
	}
	if mine.WorkerMarkedComplete {
		return false, apperr.InvalidState("you already marked job %s complete", j.ID)
	}
	mine.WorkerMarkedComplete, mine.MarkedCompleteAt = true, s.now()
	if err := s.Repo.UpdateWorkerAssignment(ctx, tx, mine); err != nil {
		return false, err
	}
	for _, a := range list {
		if a.Status == models.AssignmentActive && !a.WorkerMarkedComplete {
			return false, nil
		}
	}
	return true, nil
}

// Approval is the result of ApproveCompletion. A GCASH approval leaves the job IN_PROGRESS and
// carries the checkout the client must pay.
type Approval struct {
	Job         *models.Job `json:"job"`
	PaymentRef  string      `json:"payment_ref,omitempty"`
	CheckoutURL string      `json:"checkout_url,omitempty"`
}

// ApproveCompletion is the client side of completion.
//
// WALLET debits the remaining payment into escrow and holds the full budget for the recipients.
// CASH needs a proof of payment; the recipients get the captured escrow through the buffer and the
// remaining payment is recorded as an offline earning. GCASH opens a gateway checkout for the
// remaining payment and completes the job when the gateway confirms it. DAILY jobs pay per attended
// day, so approving one only closes it.
func (s *Service) ApproveCompletion(ctx context.Context, actor models.Actor, jobID uuid.UUID, method models.PaymentMethod, cashProof string) (*Approval, error) {
	var (
		j      *models.Job
		ref    string
		amount decimal.Decimal
	)
	err := s.run(ctx, "approve_completion", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		if err := requireClient(j, actor); err != nil {
			return nil, err
		}
		if j.Status != models.JobInProgress {
			return nil, apperr.InvalidState("job %s is %s", j.ID, j.Status)
		}
		if !j.WorkerMarkedComplete {
			return nil, apperr.InvalidState("job %s has not been marked complete", j.ID)
		}
		if pending, err := s.pendingGCash(ctx, tx, j); err != nil {
			return nil, err
		} else if pending != nil {
			return nil, apperr.Conflict("a GCash payment for job %s is still pending", j.ID)
		}

		if j.PaymentModel == models.PaymentDaily {
			if err := s.finish(ctx, tx, j, &actor, "completed", "daily"); err != nil {
				return nil, err
			}
			return s.completedEvents(ctx, tx, j)
		}

		switch method {
		case models.MethodWallet:
			err = s.settleWallet(ctx, tx, j)
		case models.MethodCash:
			err = s.settleCash(ctx, tx, j, strings.TrimSpace(cashProof))
		case models.MethodGCash:
			if !j.RemainingPayment.IsPositive() || j.RemainingPaymentPaid {
				err = s.settleWallet(ctx, tx, j)
				break
			}
			amount = j.RemainingPayment
			ref, err = s.openGCash(ctx, tx, j, amount)
			if err != nil {
				return nil, err
			}
			if err := s.log(ctx, tx, j, &actor, "awaiting_payment", j.Status, ref); err != nil {
				return nil, err
			}
			return []events.Event{events.New(events.JobAwaitingPayment, j.ID, j.ClientID).With("ref", ref)}, nil
		default:
			return nil, apperr.InvalidInput("unknown payment method %q", method)
		}
		if err != nil {
			return nil, err
		}
		if err := s.finish(ctx, tx, j, &actor, "completed", string(j.FinalPaymentMethod)); err != nil {
			return nil, err
		}
		return s.completedEvents(ctx, tx, j)
	})
	if err != nil {
		return nil, err
	}
	if ref == "" {
		return &Approval{Job: j}, nil
	}
	return s.checkout(ctx, j, ref, amount)
}

func (s *Service) completedEvents(ctx context.Context, tx pgx.Tx, j *models.Job) ([]events.Event, error) {
	others, err := s.participants(ctx, tx, j)
	if err != nil {
		return nil, err
	}
	e := events.New(events.JobCompleted, j.ID, append(others, j.ClientID)...)
	if j.FinalPaymentMethod != "" {
		e = e.With("method", string(j.FinalPaymentMethod))
	}
	return []events.Event{e}, nil
}

func (s *Service) settleWallet(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	shares, err := s.recipients(ctx, tx, j)
	if err != nil {
		return err
	}
	if err := s.lockWallets(ctx, tx, j, shares); err != nil {
		return err
	}
	if j.RemainingPayment.IsPositive() && !j.RemainingPaymentPaid {
		if err := s.Escrow.AddToEscrow(ctx, tx, j, j.RemainingPayment, "remaining payment for "+j.Title); err != nil {
			return err
		}
	}
	j.RemainingPaymentPaid, j.RemainingPaymentPaidAt = true, s.now()
	if j.FinalPaymentMethod == "" {
		j.FinalPaymentMethod = models.MethodWallet
	}
	return s.payout(ctx, tx, j, shares, j.UnreleasedEscrow())
}

func (s *Service) settleCash(ctx context.Context, tx pgx.Tx, j *models.Job, proof string) error {
	if proof == "" {
		return apperr.InvalidInput("cash payments need a proof of payment")
	}
	shares, err := s.recipients(ctx, tx, j)
	if err != nil {
		return err
	}
	if err := s.lockWallets(ctx, tx, j, shares); err != nil {
		return err
	}
	jobID := j.ID
	for i, amount := range split(j.RemainingPayment, shares) {
		if !amount.IsPositive() {
			continue
		}
		if _, err := s.Wallet.PostOffline(ctx, tx, shares[i].id, amount, models.TxEarning, &jobID, "cash received for "+j.Title); err != nil {
			return err
		}
	}
	j.CashProofURL = proof
	j.FinalPaymentMethod = models.MethodCash
	j.RemainingPaymentPaid, j.RemainingPaymentPaidAt = true, s.now()
	return s.payout(ctx, tx, j, shares, j.UnreleasedEscrow())
}

// pendingGCash returns the job's PENDING gateway payment entry, if any.
func (s *Service) pendingGCash(ctx context.Context, tx pgx.Tx, j *models.Job) (*models.Transaction, error) {
	list, err := s.Ledger.PendingForJob(ctx, tx, j.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		if t.Kind == models.TxPayment && t.ExternalRef != nil {
			return t, nil
		}
	}
	return nil, nil
}

// openGCash posts the PENDING payment entry the gateway webhook later settles.
func (s *Service) openGCash(ctx context.Context, tx pgx.Tx, j *models.Job, amount decimal.Decimal) (string, error) {
	w, err := s.Wallet.Lock(ctx, tx, j.ClientID)
	if err != nil {
		return "", err
	}
	ref := "job-" + uuid.NewString()
	jobID := j.ID
	if _, err := s.Ledger.Post(ctx, tx, ledger.Entry{
		WalletID: w.ID, Kind: models.TxPayment, Amount: amount, Status: models.TxPending,
		Description: "gcash payment for " + j.Title, JobID: &jobID, ExternalRef: &ref,
	}); err != nil {
		return "", err
	}
	j.FinalPaymentMethod = models.MethodGCash
	return ref, s.Repo.UpdateJob(ctx, tx, j)
}

// checkout asks the gateway for the payment page. It runs after the approval committed, so no row
// lock is held. A timeout leaves the entry PENDING for the webhook or a retry; any other failure
// fails the entry so the client can approve again.
func (s *Service) checkout(ctx context.Context, j *models.Job, ref string, amount decimal.Decimal) (*Approval, error) {
	client, err := s.Repo.GetAccount(ctx, j.ClientID)
	if err != nil {
		return nil, err
	}
	co, err := s.Gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		ExternalID:  ref,
		Amount:      amount,
		Description: "Final payment for " + j.Title,
		PayerEmail:  client.Email,
	})
	if err == nil {
		return &Approval{Job: j, PaymentRef: ref, CheckoutURL: co.URL}, nil
	}
	if errors.Is(err, gateway.ErrTimeout) {
		s.Logger.Warn("gcash checkout timed out, payment left pending", "job_id", j.ID, "ref", ref)
		return nil, apperr.ExternalTimeout(err)
	}
	if _, ferr := s.FailGCashPayment(ctx, j.ID, ref); ferr != nil {
		s.Logger.Error("could not fail gcash payment after gateway error", "job_id", j.ID, "ref", ref, "error", ferr)
	}
	return nil, apperr.ExternalFailure(err)
}

// gcashEntry locks the gateway payment entry and checks it belongs to the job.
func (s *Service) gcashEntry(ctx context.Context, tx pgx.Tx, j *models.Job, ref string) (*models.Transaction, error) {
	e, err := s.Ledger.GetByRef(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if e.Kind != models.TxPayment || e.JobID == nil || *e.JobID != j.ID {
		return nil, apperr.NotFound("no payment %q on job %s", ref, j.ID)
	}
	return e, nil
}

// ConfirmGCashPayment settles a confirmed gateway payment: the client is credited the deposit, the
// pending payment is captured into escrow, the budget is held for the recipients and the job
// completes. A replay of an already settled reference returns the job unchanged.
func (s *Service) ConfirmGCashPayment(ctx context.Context, jobID uuid.UUID, ref string) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "confirm_gcash", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		e, err := s.gcashEntry(ctx, tx, j, ref)
		if err != nil {
			return nil, err
		}
		switch e.Status {
		case models.TxCompleted:
			return nil, nil
		case models.TxPending:
		default:
			return nil, apperr.InvalidState("payment %q is %s", ref, e.Status)
		}
		if j.Status != models.JobInProgress {
			return nil, apperr.Invariant("pending gcash payment %q on %s job %s", ref, j.Status, j.ID)
		}

		shares, err := s.recipients(ctx, tx, j)
		if err != nil {
			return nil, err
		}
		if err := s.lockWallets(ctx, tx, j, shares); err != nil {
			return nil, err
		}
		id := j.ID
		if _, err := s.Wallet.Credit(ctx, tx, j.ClientID, e.Amount, models.TxDeposit, &id, "gcash deposit "+ref); err != nil {
			return nil, err
		}
		if _, err := s.Wallet.Reserve(ctx, tx, j.ClientID, e.Amount); err != nil {
			return nil, err
		}
		if _, err := s.Wallet.CapturePending(ctx, tx, e.ID); err != nil {
			return nil, err
		}
		j.EscrowAmount = j.EscrowAmount.Add(e.Amount)
		j.RemainingPaymentPaid, j.RemainingPaymentPaidAt = true, s.now()
		if err := s.payout(ctx, tx, j, shares, j.UnreleasedEscrow()); err != nil {
			return nil, err
		}
		if err := s.finish(ctx, tx, j, nil, "completed", ref); err != nil {
			return nil, err
		}
		return s.completedEvents(ctx, tx, j)
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// FailGCashPayment fails a pending gateway payment and reopens the job for approval.
func (s *Service) FailGCashPayment(ctx context.Context, jobID uuid.UUID, ref string) (*models.Job, error) {
	var j *models.Job
	err := s.run(ctx, "fail_gcash", func(tx pgx.Tx) ([]events.Event, error) {
		var err error
		if j, err = s.lock(ctx, tx, jobID); err != nil {
			return nil, err
		}
		e, err := s.gcashEntry(ctx, tx, j, ref)
		if err != nil {
			return nil, err
		}
		switch e.Status {
		case models.TxFailed, models.TxCancelled:
			return nil, nil
		case models.TxCompleted:
			return nil, apperr.InvalidState("payment %q already completed", ref)
		}
		if _, err := s.Ledger.MarkFailed(ctx, tx, e.ID); err != nil {
			return nil, err
		}
		j.FinalPaymentMethod = ""
		if err := s.save(ctx, tx, j, nil, "payment_failed", j.Status, ref); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.PaymentFailed, j.ID, j.ClientID).With("ref", ref)}, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}
