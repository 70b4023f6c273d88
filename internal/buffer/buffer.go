// Package buffer holds worker payouts for a grace period before they become spendable.
package buffer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/metrics"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/wallet"
)

// TxBeginner starts database transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repo interface {
	ListDuePendingEarnings(ctx context.Context, now time.Time, limit int) ([]*models.PendingEarning, error)
	ListPendingEarningsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PendingEarning, error)
}

const batchSize = 100

type Service struct {
	DB     TxBeginner
	Repo   Repo
	Wallet *wallet.Service
	Window time.Duration
	Events events.Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(db TxBeginner, repo Repo, w *wallet.Service, window time.Duration, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	return &Service{DB: db, Repo: repo, Wallet: w, Window: window, Events: pub, Logger: logger, Now: time.Now}
}

// Hold creates a pending earning released after the buffer window. Call within a transaction.
func (s *Service) Hold(ctx context.Context, tx pgx.Tx, jobID, recipientID uuid.UUID, recipientType models.RecipientType, amount decimal.Decimal) (*models.PendingEarning, error) {
	return s.Wallet.HoldPending(ctx, tx, recipientID, recipientType, amount, jobID, s.Now().Add(s.Window))
}

func (s *Service) ForJob(ctx context.Context, jobID uuid.UUID) ([]*models.PendingEarning, error) {
	return s.Repo.ListPendingEarningsByJob(ctx, jobID)
}

// ReleaseDuePending releases every unreleased earning whose release date is not after now. Each
// earning is released in its own transaction, so one failure does not block the others. It is safe
// to run concurrently and repeatedly.
func (s *Service) ReleaseDuePending(ctx context.Context, now time.Time) (int, error) {
	released := 0
	seen := map[uuid.UUID]bool{}
	for {
		due, err := s.Repo.ListDuePendingEarnings(ctx, now, batchSize)
		if err != nil {
			return released, err
		}
		progressed := false
		for _, p := range due {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			progressed = true
			ok, err := s.releaseOne(ctx, p.ID)
			if err != nil {
				s.Logger.Error("release pending earning", "pending_earning_id", p.ID, "job_id", p.JobID, "error", err)
				continue
			}
			if ok {
				released++
				metrics.EarningsReleased.Inc()
				s.Events.Publish(ctx, events.New(events.EarningReleased, p.JobID, p.RecipientID).With("amount", p.Amount.StringFixed(2)))
			}
		}
		if len(due) < batchSize || !progressed {
			return released, nil
		}
	}
}

func (s *Service) releaseOne(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	_, released, err := s.Wallet.ReleasePending(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return released, nil
}
