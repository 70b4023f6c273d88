package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/iayos/backend/internal/config"
	"github.com/iayos/backend/internal/metrics"
)

// Xendit creates invoices (checkouts) and disbursements (payouts) on the Xendit API.
type Xendit struct {
	baseURL       string
	apiKey        string
	callbackToken string
	client        *http.Client
}

func NewXendit(cfg config.Gateway) *Xendit {
	return &Xendit{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		callbackToken: cfg.CallbackToken,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

var _ Client = (*Xendit)(nil)

func (x *Xendit) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	body := map[string]any{
		"external_id":      req.ExternalID,
		"amount":           req.Amount.InexactFloat64(),
		"description":      req.Description,
		"payer_email":      req.PayerEmail,
		"currency":         "PHP",
		"payment_methods":  []string{"GCASH"},
		"invoice_duration": 86400,
	}
	var out struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
	}
	if err := x.post(ctx, "checkout", "/v2/invoices", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty invoice id", ErrRejected)
	}
	return &Checkout{ID: out.ID, URL: out.InvoiceURL}, nil
}

func (x *Xendit) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	body := map[string]any{
		"external_id":         req.ExternalID,
		"amount":              req.Amount.InexactFloat64(),
		"bank_code":           "GCASH",
		"account_number":      req.Destination,
		"account_holder_name": req.Destination,
		"description":         req.Description,
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := x.post(ctx, "payout", "/disbursements", body, &out); err != nil {
		return nil, err
	}
	return &Payout{ID: out.ID, Status: out.Status}, nil
}

// VerifyCallback checks the X-Callback-Token header value against the configured token.
func (x *Xendit) VerifyCallback(token string) error {
	if x.callbackToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(x.callbackToken)) != 1 {
		return ErrBadCallback
	}
	return nil
}

func (x *Xendit) post(ctx context.Context, op, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrTimeout):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		metrics.GatewayCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.SetBasicAuth(x.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s", ErrRejected, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
