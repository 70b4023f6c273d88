package gateway

import (
	"context"
	"sync"
)

// Fake records requests in memory. Err, when set, is returned by every create call.
type Fake struct {
	mu        sync.Mutex
	Err       error
	Token     string
	Checkouts []CheckoutRequest
	Payouts   []PayoutRequest
}

var _ Client = (*Fake)(nil)

func (f *Fake) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Checkouts = append(f.Checkouts, req)
	return &Checkout{ID: "inv-" + req.ExternalID, URL: "https://checkout.test/" + req.ExternalID}, nil
}

func (f *Fake) CreatePayout(_ context.Context, req PayoutRequest) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Payouts = append(f.Payouts, req)
	return &Payout{ID: "po-" + req.ExternalID, Status: "PENDING"}, nil
}

func (f *Fake) VerifyCallback(token string) error {
	if token != f.Token {
		return ErrBadCallback
	}
	return nil
}
