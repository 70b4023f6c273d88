package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
	"github.com/iayos/backend/internal/events"
	"github.com/iayos/backend/internal/gateway"
	"github.com/iayos/backend/internal/ledger"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
	"github.com/iayos/backend/internal/payments"
	"github.com/iayos/backend/internal/storetest"
	"github.com/iayos/backend/internal/wallet"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type noJobs struct{}

func (noJobs) ConfirmGCashPayment(context.Context, uuid.UUID, string) (*models.Job, error) {
	return nil, errors.New("unexpected job payment")
}

func (noJobs) FailGCashPayment(context.Context, uuid.UUID, string) (*models.Job, error) {
	return nil, errors.New("unexpected job payment")
}

type fixture struct {
	router *mux.Router
	gw     *gateway.Fake
	pay    *payments.Service
	actor  models.Actor
}

func setup(t *testing.T, funds string) *fixture {
	t.Helper()
	s := storetest.New()
	l := ledger.NewService(s)
	acc := &models.Account{ID: uuid.New(), Email: "ana@example.com", Kind: models.AccountKindIndividual, HasClientProfile: true}
	s.AddAccount(acc)
	if funds != "0" {
		s.Fund(acc.ID, decimal.RequireFromString(funds))
	}
	gw := &gateway.Fake{Token: "cb-secret"}
	pay := payments.NewService(s, s, wallet.NewService(s, l), l, gw, noJobs{}, &events.Recorder{}, nil)
	f := &fixture{gw: gw, pay: pay, actor: models.Actor{AccountID: acc.ID, Profile: models.ProfileClient}}

	wh := NewWalletHandler(pay, nil)
	hooks := NewWebhookHandler(gw, pay, nil)
	r := mux.NewRouter()
	authed := func(h http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r.WithContext(middleware.WithActor(r.Context(), f.actor)))
		})
	}
	r.Handle("/wallet", authed(wh.Balance)).Methods(http.MethodGet)
	r.Handle("/wallet/transactions", authed(wh.Transactions)).Methods(http.MethodGet)
	r.Handle("/wallet/deposit", authed(wh.Deposit)).Methods(http.MethodPost)
	r.Handle("/wallet/withdraw", authed(wh.Withdraw)).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/gateway", hooks.Gateway).Methods(http.MethodPost)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) balance(t *testing.T) wallet.Balance {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/wallet", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body.String())
	}
	var b wallet.Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	return b
}

func (f *fixture) callback(t *testing.T, ref, status string) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"external_id":%q,"status":%q}`, ref, status)
	return f.do(t, http.MethodPost, "/webhooks/gateway", body, CallbackHeader, "cb-secret")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.Forbidden("x"), http.StatusForbidden},
		{apperr.InvalidState("x"), http.StatusConflict},
		{apperr.Conflict("x"), http.StatusConflict},
		{apperr.InvalidInput("x"), http.StatusBadRequest},
		{apperr.InsufficientFunds(decimal.NewFromInt(2), decimal.NewFromInt(1)), http.StatusPaymentRequired},
		{apperr.ExternalTimeout(gateway.ErrTimeout), http.StatusGatewayTimeout},
		{apperr.ExternalFailure(gateway.ErrRejected), http.StatusBadGateway},
		{apperr.Invariant("x"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", apperr.NotFound("x")), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorBodies(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, apperr.InsufficientFunds(decimal.RequireFromString("660"), decimal.RequireFromString("659.99")))
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != "insufficient_funds" || body.Required != "660.00" || body.Available != "659.99" {
		t.Fatalf("body %+v", body)
	}

	rec = httptest.NewRecorder()
	WriteError(rec, nil, errors.New("pq: connection reset"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "pq") {
		t.Fatalf("internal error leaked: %d %s", rec.Code, rec.Body.String())
	}
}

func TestDecode(t *testing.T) {
	decode := func(body string) error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst WithdrawRequest
		return Decode(req, &dst)
	}
	if err := decode(`{"amount":"10.50","destination":"09171234567"}`); err != nil {
		t.Fatalf("valid: %v", err)
	}
	for name, body := range map[string]string{
		"zero amount":    `{"amount":"0","destination":"09171234567"}`,
		"no destination": `{"amount":"10"}`,
		"unknown field":  `{"amount":"10","destination":"x","memo":"hi"}`,
		"malformed":      `{"amount":`,
		"empty":          ``,
	} {
		if err := decode(body); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("%s: got %v, want invalid input", name, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Wallet + webhooks
// ---------------------------------------------------------------------------

func TestDepositConfirmedByWebhook(t *testing.T) {
	f := setup(t, "0")

	rec := f.do(t, http.MethodPost, "/wallet/deposit", `{"amount":"500"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}
	var res payments.DepositResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !f.balance(t).Balance.IsZero() {
		t.Fatal("credited before confirmation")
	}

	for i := 0; i < 2; i++ {
		if rec := f.callback(t, res.Ref, "PAID"); rec.Code != http.StatusOK {
			t.Fatalf("callback %d: %d %s", i+1, rec.Code, rec.Body.String())
		}
	}
	if b := f.balance(t); !b.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("balance %s, want 500", b.Balance)
	}

	rec = f.do(t, http.MethodGet, "/wallet/transactions", "")
	var list []models.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != models.TxCompleted {
		t.Fatalf("transactions %+v", list)
	}
}

func TestWithdrawFailedByWebhook(t *testing.T) {
	f := setup(t, "1000")
	rec := f.do(t, http.MethodPost, "/wallet/withdraw", `{"amount":"400","destination":"09171234567"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("withdraw: %d %s", rec.Code, rec.Body.String())
	}
	var res payments.WithdrawResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if b := f.balance(t); !b.Reserved.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("reserved %s", b.Reserved)
	}
	if rec := f.callback(t, res.Ref, "FAILED"); rec.Code != http.StatusOK {
		t.Fatalf("callback: %d %s", rec.Code, rec.Body.String())
	}
	if b := f.balance(t); !b.Reserved.IsZero() || !b.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("after failure %+v", b)
	}
}

func TestWithdrawInsufficientFundsIs402(t *testing.T) {
	f := setup(t, "100")
	rec := f.do(t, http.MethodPost, "/wallet/withdraw", `{"amount":"100.01","destination":"09171234567"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDepositGatewayErrors(t *testing.T) {
	f := setup(t, "0")
	f.gw.Err = gateway.ErrTimeout
	if rec := f.do(t, http.MethodPost, "/wallet/deposit", `{"amount":"10"}`); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("timeout: %d", rec.Code)
	}
	f.gw.Err = gateway.ErrRejected
	if rec := f.do(t, http.MethodPost, "/wallet/deposit", `{"amount":"10"}`); rec.Code != http.StatusBadGateway {
		t.Fatalf("rejected: %d", rec.Code)
	}
}

func TestWebhookGuards(t *testing.T) {
	f := setup(t, "0")
	body := `{"external_id":"dep-x","status":"PAID"}`
	if rec := f.do(t, http.MethodPost, "/webhooks/gateway", body, CallbackHeader, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/webhooks/gateway", `{"status":"PAID"}`, CallbackHeader, "cb-secret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("no reference: %d", rec.Code)
	}
	if rec := f.callback(t, "dep-unknown", "PAID"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown reference: %d", rec.Code)
	}
	if rec := f.callback(t, "dep-unknown", "PENDING"); rec.Code != http.StatusOK {
		t.Fatalf("ignored status: %d", rec.Code)
	}
}
