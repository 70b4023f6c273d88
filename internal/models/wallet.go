package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Money is a fixed-scale PHP amount.
type Money = decimal.Decimal

// Round2 rounds an amount to centavos.
func Round2(m Money) Money { return m.Round(2) }

type Wallet struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"account_id"`
	Balance         Money     `json:"balance"`
	ReservedBalance Money     `json:"reserved_balance"`
	PendingEarnings Money     `json:"pending_earnings"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available is balance minus reserved.
func (w *Wallet) Available() Money { return w.Balance.Sub(w.ReservedBalance) }

// Total is balance plus pending earnings.
func (w *Wallet) Total() Money { return w.Balance.Add(w.PendingEarnings) }

type TransactionKind string

const (
	TxDeposit        TransactionKind = "DEPOSIT"
	TxWithdrawal     TransactionKind = "WITHDRAWAL"
	TxPayment        TransactionKind = "PAYMENT"
	TxEarning        TransactionKind = "EARNING"
	TxPendingEarning TransactionKind = "PENDING_EARNING"
	TxRefund         TransactionKind = "REFUND"
	TxFee            TransactionKind = "FEE"
)

// Sign is +1 for kinds that add to balance, -1 for kinds that take from it, 0 otherwise.
func (k TransactionKind) Sign() int {
	switch k {
	case TxDeposit, TxEarning, TxRefund:
		return 1
	case TxWithdrawal, TxPayment, TxFee:
		return -1
	}
	return 0
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Transaction is a ledger entry. Offline entries record money that moved outside
// the platform (cash) and never count toward the wallet balance.
type Transaction struct {
	ID           uuid.UUID           `json:"id"`
	WalletID     uuid.UUID           `json:"wallet_id"`
	Kind         TransactionKind     `json:"kind"`
	Amount       Money               `json:"amount"`
	Status       TransactionStatus   `json:"status"`
	BalanceAfter decimal.NullDecimal `json:"balance_after"`
	Description  string              `json:"description"`
	JobID        *uuid.UUID          `json:"job_id,omitempty"`
	ExternalRef  *string             `json:"external_ref,omitempty"`
	Offline      bool                `json:"offline"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// SignedAmount is the entry's contribution to the wallet balance.
func (t *Transaction) SignedAmount() Money {
	if t.Status != TxCompleted || t.Offline {
		return decimal.Zero
	}
	return t.Amount.Mul(decimal.NewFromInt(int64(t.Kind.Sign())))
}

type RecipientType string

const (
	RecipientWorker RecipientType = "WORKER"
	RecipientAgency RecipientType = "AGENCY"
)

// PendingEarning is a payout held by the payment buffer until ReleaseDate.
type PendingEarning struct {
	ID            uuid.UUID     `json:"id"`
	JobID         uuid.UUID     `json:"job_id"`
	RecipientID   uuid.UUID     `json:"recipient_id"`
	RecipientType RecipientType `json:"recipient_type"`
	WalletID      uuid.UUID     `json:"wallet_id"`
	Amount        Money         `json:"amount"`
	CreatedAt     time.Time     `json:"created_at"`
	ReleaseDate   time.Time     `json:"release_date"`
	Released      bool          `json:"released"`
	ReleasedAt    *time.Time    `json:"released_at,omitempty"`
}
