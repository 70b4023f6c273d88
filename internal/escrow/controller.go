// Package escrow ties wallet movements to jobs: the reservation taken when a listing is posted, the
// capture into held escrow plus platform fee, refunds, and payouts through the payment buffer.
package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/config"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/wallet"
)

// Holder delays payouts. Implemented by the payment buffer.
type Holder interface {
	Hold(ctx context.Context, tx pgx.Tx, jobID, recipientID uuid.UUID, recipientType models.RecipientType, amount decimal.Decimal) (*models.PendingEarning, error)
}

type Controller struct {
	Wallet *wallet.Service
	Ledger ledger.Service
	Buffer Holder
	Fees   config.Fees
	Now    func() time.Time
}

func NewController(w *wallet.Service, l ledger.Service, b Holder, fees config.Fees) *Controller {
	return &Controller{Wallet: w, Ledger: l, Buffer: b, Fees: fees, Now: time.Now}
}

// Amounts is the money a job takes from its client up front.
type Amounts struct {
	Escrow    decimal.Decimal
	Fee       decimal.Decimal
	Remaining decimal.Decimal
}

// Capture is escrow plus fee.
func (a Amounts) Capture() decimal.Decimal { return a.Escrow.Add(a.Fee) }

// Quote computes the escrow split for a job from its payment model, type and channel.
// DAILY jobs hold the full rate times days; PROJECT jobs hold the escrow fraction of the budget.
func (c *Controller) Quote(job *models.Job) Amounts {
	if job.PaymentModel == models.PaymentDaily {
		total := job.DailyRate.Mul(decimal.NewFromInt(int64(job.DurationDays)))
		return Amounts{
			Escrow: models.Round2(total),
			Fee:    models.Round2(total.Mul(c.Fees.DailyFeeFraction)),
		}
	}
	feeFraction := c.Fees.ProjectFeeFraction
	if job.JobType == models.JobInvite && job.Channel == models.ChannelMobile {
		feeFraction = c.Fees.MobileInviteFeeFraction
	}
	escrow := models.Round2(job.Budget.Mul(c.Fees.ProjectEscrowFraction))
	return Amounts{
		Escrow:    escrow,
		Fee:       models.Round2(job.Budget.Mul(feeFraction)),
		Remaining: job.Budget.Sub(escrow),
	}
}

// Price stamps the quoted amounts on the job.
func (c *Controller) Price(job *models.Job) Amounts {
	a := c.Quote(job)
	job.EscrowAmount, job.PlatformFee, job.RemainingPayment = a.Escrow, a.Fee, a.Remaining
	return a
}

// ReserveFor earmarks escrow plus fee on the client wallet and posts the two PENDING entries that
// CaptureFor later completes.
func (c *Controller) ReserveFor(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	w, err := c.Wallet.Reserve(ctx, tx, job.ClientID, job.Capture())
	if err != nil {
		return err
	}
	return c.postPending(ctx, tx, w.ID, job)
}

func (c *Controller) postPending(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, job *models.Job) error {
	jobID := job.ID
	if job.EscrowAmount.IsPositive() {
		if _, err := c.Ledger.Post(ctx, tx, ledger.Entry{
			WalletID: walletID, Kind: models.TxPayment, Amount: job.EscrowAmount, Status: models.TxPending,
			Description: "escrow for " + job.Title, JobID: &jobID,
		}); err != nil {
			return err
		}
	}
	if job.PlatformFee.IsPositive() {
		if _, err := c.Ledger.Post(ctx, tx, ledger.Entry{
			WalletID: walletID, Kind: models.TxFee, Amount: job.PlatformFee, Status: models.TxPending,
			Description: "platform fee for " + job.Title, JobID: &jobID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// reservationEntries returns the PENDING escrow and fee entries of a reserved job.
func (c *Controller) reservationEntries(ctx context.Context, tx pgx.Tx, job *models.Job) ([]*models.Transaction, error) {
	list, err := c.Ledger.PendingForJob(ctx, tx, job.ID)
	if err != nil {
		return nil, err
	}
	var out []*models.Transaction
	for _, t := range list {
		if t.ExternalRef == nil && (t.Kind == models.TxPayment || t.Kind == models.TxFee) {
			out = append(out, t)
		}
	}
	return out, nil
}

// CaptureFor moves escrow plus fee out of the client balance. A reserved job has its PENDING
// entries captured one by one; a job without a reservation is debited directly.
func (c *Controller) CaptureFor(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	if job.EscrowPaid {
		return apperr.Invariant("job %s escrow already captured", job.ID)
	}
	entries, err := c.reservationEntries(ctx, tx, job)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		captured := decimal.Zero
		for _, e := range entries {
			if _, err := c.Wallet.CapturePending(ctx, tx, e.ID); err != nil {
				return err
			}
			captured = captured.Add(e.Amount)
		}
		if !captured.Equal(job.Capture()) {
			return apperr.Invariant("job %s captured %s, expected %s", job.ID, captured, job.Capture())
		}
	} else {
		w, err := c.Wallet.Lock(ctx, tx, job.ClientID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(job.Capture()) {
			return apperr.InsufficientFunds(job.Capture(), w.Available())
		}
		jobID := job.ID
		if job.EscrowAmount.IsPositive() {
			if _, err := c.Wallet.Debit(ctx, tx, job.ClientID, job.EscrowAmount, models.TxPayment, &jobID, "escrow for "+job.Title); err != nil {
				return err
			}
		}
		if job.PlatformFee.IsPositive() {
			if _, err := c.Wallet.Debit(ctx, tx, job.ClientID, job.PlatformFee, models.TxFee, &jobID, "platform fee for "+job.Title); err != nil {
				return err
			}
		}
	}
	now := c.Now()
	job.EscrowPaid, job.EscrowPaidAt = true, &now
	return nil
}

// ReleaseReserveFor drops the reservation of a job that was never captured and cancels its
// PENDING entries.
func (c *Controller) ReleaseReserveFor(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	entries, err := c.reservationEntries(ctx, tx, job)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	if total.IsPositive() {
		if _, err := c.Wallet.ReleaseReserve(ctx, tx, job.ClientID, total); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if _, err := c.Ledger.MarkCancelled(ctx, tx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// Rereserve replaces the reservation of an uncaptured job with one for its current amounts.
// The old reservation is released first, so the new one is checked against the full available balance.
func (c *Controller) Rereserve(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	if job.EscrowPaid {
		return apperr.Invariant("job %s escrow already captured", job.ID)
	}
	if err := c.ReleaseReserveFor(ctx, tx, job); err != nil {
		return err
	}
	c.Price(job)
	return c.ReserveFor(ctx, tx, job)
}

// RefundFor undoes what the client paid for a job that pays nobody: captured escrow and fee are
// credited back as one REFUND, an uncaptured reservation is released. It returns the refunded amount.
func (c *Controller) RefundFor(ctx context.Context, tx pgx.Tx, job *models.Job) (decimal.Decimal, error) {
	if !job.EscrowPaid {
		return decimal.Zero, c.ReleaseReserveFor(ctx, tx, job)
	}
	if job.EscrowReleased.IsPositive() {
		return decimal.Zero, apperr.Invariant("job %s already paid out %s", job.ID, job.EscrowReleased)
	}
	amount := job.Capture()
	jobID := job.ID
	if _, err := c.Wallet.Credit(ctx, tx, job.ClientID, amount, models.TxRefund, &jobID, "refund for "+job.Title); err != nil {
		return decimal.Zero, err
	}
	job.EscrowReleased = job.EscrowAmount
	return amount, nil
}

// RefundUnreleased returns the escrow not yet paid out to the client. The fee is kept.
func (c *Controller) RefundUnreleased(ctx context.Context, tx pgx.Tx, job *models.Job) (decimal.Decimal, error) {
	amount := job.UnreleasedEscrow()
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	jobID := job.ID
	if _, err := c.Wallet.Credit(ctx, tx, job.ClientID, amount, models.TxRefund, &jobID, "unreleased escrow for "+job.Title); err != nil {
		return decimal.Zero, err
	}
	job.EscrowReleased = job.EscrowAmount
	return amount, nil
}

// AddToEscrow debits a further payment from the client into the job's held escrow.
func (c *Controller) AddToEscrow(ctx context.Context, tx pgx.Tx, job *models.Job, amount decimal.Decimal, desc string) error {
	jobID := job.ID
	if _, err := c.Wallet.Debit(ctx, tx, job.ClientID, amount, models.TxPayment, &jobID, desc); err != nil {
		return err
	}
	job.EscrowAmount = job.EscrowAmount.Add(amount)
	return nil
}

// SettlePayout releases amount of the held escrow to a recipient through the payment buffer.
func (c *Controller) SettlePayout(ctx context.Context, tx pgx.Tx, job *models.Job, amount decimal.Decimal, recipientID uuid.UUID, recipientType models.RecipientType) (*models.PendingEarning, error) {
	if !amount.IsPositive() {
		return nil, apperr.Invariant("payout amount must be positive, got %s", amount)
	}
	if !job.EscrowPaid {
		return nil, apperr.Invariant("job %s pays out before escrow was captured", job.ID)
	}
	if job.EscrowReleased.Add(amount).GreaterThan(job.EscrowAmount) {
		return nil, apperr.Invariant("job %s payout %s exceeds unreleased escrow %s", job.ID, amount, job.UnreleasedEscrow())
	}
	p, err := c.Buffer.Hold(ctx, tx, job.ID, recipientID, recipientType, amount)
	if err != nil {
		return nil, err
	}
	job.EscrowReleased = job.EscrowReleased.Add(amount)
	return p, nil
}
