package handlers

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/payments"
)

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Destination string          `json:"destination" validate:"required,max=64"`
}

// WalletHandler serves the caller's own wallet.
type WalletHandler struct {
	svc *payments.Service
	log *slog.Logger
}

func NewWalletHandler(svc *payments.Service, log *slog.Logger) *WalletHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WalletHandler{svc: svc, log: log}
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	b, err := h.svc.GetBalance(r.Context(), actor.AccountID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	list, err := h.svc.History(r.Context(), actor.AccountID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	res, err := h.svc.Deposit(r.Context(), actor.AccountID, req.Amount)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	res, err := h.svc.Withdraw(r.Context(), actor.AccountID, req.Amount, req.Destination)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}
