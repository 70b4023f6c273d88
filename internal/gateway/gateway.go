// Package gateway is the payment gateway contract: create a checkout or payout keyed by an
// external reference, then wait for a webhook that confirms or fails it.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	ExternalID  string
	Amount      decimal.Decimal
	Description string
	PayerEmail  string
}

type Checkout struct {
	ID  string
	URL string
}

type PayoutRequest struct {
	ExternalID  string
	Amount      decimal.Decimal
	Destination string
	Description string
}

type Payout struct {
	ID     string
	Status string
}

// Client talks to the gateway. Calls must never be made while holding row locks.
type Client interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
	VerifyCallback(token string) error
}

var (
	// ErrTimeout is returned when the gateway did not answer within the client timeout.
	ErrTimeout     = errors.New("gateway: timeout")
	ErrRejected    = errors.New("gateway: request rejected")
	ErrBadCallback = errors.New("gateway: invalid callback token")
)
