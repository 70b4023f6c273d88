package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iayos/backend/internal/gateway"
)

// CallbackHeader carries the shared secret the gateway sends with every webhook.
const CallbackHeader = "X-Callback-Token"

// PaymentEvents settles ledger entries by gateway reference. payments.Service implements it.
type PaymentEvents interface {
	PaymentConfirmed(ctx context.Context, ref string) error
	PaymentFailed(ctx context.Context, ref string) error
}

// callback is the subset of the invoice and disbursement payloads the platform reads.
type callback struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

type WebhookHandler struct {
	gw     gateway.Client
	events PaymentEvents
	log    *slog.Logger
}

func NewWebhookHandler(gw gateway.Client, events PaymentEvents, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{gw: gw, events: events, log: log}
}

// Gateway handles invoice and payout callbacks. Replays are acknowledged with 200.
func (h *WebhookHandler) Gateway(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.VerifyCallback(r.Header.Get(CallbackHeader)); err != nil {
		WriteJSON(w, http.StatusUnauthorized, ErrorBody{Error: "invalid callback token"})
		return
	}
	var cb callback
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&cb); err != nil || cb.ExternalID == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid callback payload"})
		return
	}

	var err error
	switch strings.ToUpper(cb.Status) {
	case "PAID", "SETTLED", "COMPLETED", "SUCCEEDED":
		err = h.events.PaymentConfirmed(r.Context(), cb.ExternalID)
	case "EXPIRED", "FAILED", "CANCELLED", "VOIDED":
		err = h.events.PaymentFailed(r.Context(), cb.ExternalID)
	default:
		h.log.Info("ignoring gateway callback", "ref", cb.ExternalID, "status", cb.Status)
		WriteJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}
	if err != nil {
		h.log.Warn("gateway callback rejected", "ref", cb.ExternalID, "status", cb.Status, "error", err)
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
