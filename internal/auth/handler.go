package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iayos/backend/internal/handlers"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required,max=120"`
	Kind        string `json:"kind" validate:"omitempty,oneof=INDIVIDUAL AGENCY"`
	Client      bool   `json:"client"`
	Worker      bool   `json:"worker"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Profile  string `json:"profile" validate:"omitempty,oneof=CLIENT WORKER AGENCY ADMIN"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type EmployeeRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := handlers.Decode(r, &req); err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	acc, err := h.svc.Register(r.Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Kind:        models.AccountKind(req.Kind),
		Client:      req.Client,
		Worker:      req.Worker,
	})
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := handlers.Decode(r, &req); err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password, models.Profile(req.Profile))
	if errors.Is(err, ErrInvalidCredentials) {
		handlers.WriteJSON(w, http.StatusUnauthorized, handlers.ErrorBody{Error: "invalid credentials"})
		return
	}
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Me returns the caller's account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromCtx(r.Context())
	acc, err := h.svc.Account(r.Context(), actor.AccountID)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) VerifyKYC(w http.ResponseWriter, r *http.Request) {
	id, err := handlers.PathID(r, "accountID")
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	acc, err := h.svc.VerifyKYC(r.Context(), actor, id)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) AddEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeRequest
	if err := handlers.Decode(r, &req); err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	e, err := h.svc.AddEmployee(r.Context(), actor, req.Name)
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, e)
}
