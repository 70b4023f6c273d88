package jobs

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/handlers"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
)

// Request structs use snake_case JSON. Create and apply bodies are also checked against the
// create_job and apply schemas before they reach the handler.

type SlotRequest struct {
	Specialization string          `json:"specialization" validate:"required"`
	WorkersNeeded  int             `json:"workers_needed" validate:"min=1"`
	SkillLevel     string          `json:"skill_level"`
	BudgetShare    decimal.Decimal `json:"budget_share"`
}

type CreateJobRequest struct {
	Title        string          `json:"title" validate:"required,min=3,max=200"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	CategoryID   int64           `json:"category_id" validate:"min=1"`
	Urgency      string          `json:"urgency"`
	Channel      string          `json:"channel"`
	Materials    []string        `json:"materials"`
	PaymentModel string          `json:"payment_model" validate:"oneof=PROJECT DAILY"`
	JobType      string          `json:"job_type" validate:"oneof=LISTING INVITE"`
	Budget       decimal.Decimal `json:"budget"`
	DailyRate    decimal.Decimal `json:"daily_rate"`
	DurationDays int             `json:"duration_days"`
	InviteeID    *uuid.UUID      `json:"invitee_id"`
	Slots        []SlotRequest   `json:"slots" validate:"dive"`
}

type UpdateJobRequest struct {
	Title       *string          `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string          `json:"description"`
	Location    *string          `json:"location"`
	Urgency     *string          `json:"urgency" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Materials   []string         `json:"materials"`
	Budget      *decimal.Decimal `json:"budget"`
}

type ApplyRequest struct {
	BudgetOption      string          `json:"budget_option" validate:"oneof=ACCEPT NEGOTIATE"`
	ProposedBudget    decimal.Decimal `json:"proposed_budget"`
	SelectedMaterials []string        `json:"selected_materials"`
	SlotID            *uuid.UUID      `json:"slot_id"`
	Message           string          `json:"message" validate:"max=2000"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type CompleteRequest struct {
	Notes  string   `json:"notes" validate:"max=2000"`
	Photos []string `json:"photos" validate:"dive,url"`
}

type ApproveRequest struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=WALLET CASH GCASH"`
	CashProofURL  string `json:"cash_proof_url" validate:"omitempty,url"`
}

type AssignEmployeesRequest struct {
	EmployeeIDs []uuid.UUID `json:"employee_ids" validate:"required,min=1"`
}

type SettleRequest struct {
	Outcome string `json:"outcome" validate:"oneof=REFUND RELEASE"`
}

// Handler is the HTTP surface of the job lifecycle.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func actorOf(r *http.Request) models.Actor {
	a, _ := middleware.ActorFromCtx(r.Context())
	return a
}

// respond writes v with status, or the error if err is set.
func (h *Handler) respond(w http.ResponseWriter, status int, v interface{}, err error) {
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	handlers.WriteJSON(w, status, v)
}

// withJob parses the jobID path variable and the optional JSON body, then calls fn.
func (h *Handler) withJob(w http.ResponseWriter, r *http.Request, body interface{}, fn func(jobID uuid.UUID)) {
	jobID, err := handlers.PathID(r, "jobID")
	if err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	if body != nil {
		if err := handlers.Decode(r, body); err != nil {
			handlers.WriteError(w, h.log, err)
			return
		}
	}
	fn(jobID)
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := handlers.Decode(r, &req); err != nil {
		handlers.WriteError(w, h.log, err)
		return
	}
	in := CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		CategoryID:   req.CategoryID,
		Urgency:      models.Urgency(req.Urgency),
		Channel:      models.Channel(req.Channel),
		Materials:    req.Materials,
		PaymentModel: models.PaymentModel(req.PaymentModel),
		Budget:       req.Budget,
		DailyRate:    req.DailyRate,
		DurationDays: req.DurationDays,
		JobType:      models.JobType(req.JobType),
		InviteeID:    req.InviteeID,
	}
	for _, s := range req.Slots {
		in.Slots = append(in.Slots, SlotInput{
			Specialization: s.Specialization, WorkersNeeded: s.WorkersNeeded, SkillLevel: s.SkillLevel, BudgetShare: s.BudgetShare,
		})
	}
	j, err := h.svc.CreateJob(r.Context(), actorOf(r), in)
	h.respond(w, http.StatusCreated, j, err)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" {
		list, err := h.svc.ListByStatus(r.Context(), models.JobStatus(status))
		h.respond(w, http.StatusOK, list, err)
		return
	}
	list, err := h.svc.ListFor(r.Context(), actorOf(r))
	h.respond(w, http.StatusOK, list, err)
}

func (h *Handler) Invites(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Invites(r.Context(), actorOf(r))
	h.respond(w, http.StatusOK, list, err)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		j, err := h.svc.Get(r.Context(), jobID)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		p := Patch{
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			Materials:   req.Materials,
			Budget:      req.Budget,
		}
		if req.Urgency != nil {
			u := models.Urgency(*req.Urgency)
			p.Urgency = &u
		}
		j, err := h.svc.UpdateJob(r.Context(), actorOf(r), jobID, p)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		j, err := h.svc.CancelJob(r.Context(), actorOf(r), jobID, req.Reason)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		if err := h.svc.DeleteJob(r.Context(), actorOf(r), jobID); err != nil {
			handlers.WriteError(w, h.log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		list, err := h.svc.Slots(r.Context(), jobID)
		h.respond(w, http.StatusOK, list, err)
	})
}

func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		list, err := h.svc.Logs(r.Context(), jobID)
		h.respond(w, http.StatusOK, list, err)
	})
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		a, err := h.svc.ApplyToJob(r.Context(), actorOf(r), jobID, ApplyInput{
			BudgetOption:      models.BudgetOption(req.BudgetOption),
			ProposedBudget:    req.ProposedBudget,
			SelectedMaterials: req.SelectedMaterials,
			SlotID:            req.SlotID,
			Message:           req.Message,
		})
		h.respond(w, http.StatusCreated, a, err)
	})
}

func (h *Handler) Applications(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		list, err := h.svc.Applications(r.Context(), actorOf(r), jobID)
		h.respond(w, http.StatusOK, list, err)
	})
}

func (h *Handler) MyApplications(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.MyApplications(r.Context(), actorOf(r))
	h.respond(w, http.StatusOK, list, err)
}

// withApplication parses both path ids and the optional body.
func (h *Handler) withApplication(w http.ResponseWriter, r *http.Request, body interface{}, fn func(jobID, appID uuid.UUID)) {
	h.withJob(w, r, body, func(jobID uuid.UUID) {
		appID, err := handlers.PathID(r, "appID")
		if err != nil {
			handlers.WriteError(w, h.log, err)
			return
		}
		fn(jobID, appID)
	})
}

func (h *Handler) AcceptApplication(w http.ResponseWriter, r *http.Request) {
	h.withApplication(w, r, nil, func(jobID, appID uuid.UUID) {
		j, err := h.svc.AcceptApplication(r.Context(), actorOf(r), jobID, appID)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.withApplication(w, r, &req, func(jobID, appID uuid.UUID) {
		a, err := h.svc.RejectApplication(r.Context(), actorOf(r), jobID, appID, req.Reason)
		h.respond(w, http.StatusOK, a, err)
	})
}

func (h *Handler) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	h.withApplication(w, r, nil, func(jobID, appID uuid.UUID) {
		a, err := h.svc.WithdrawApplication(r.Context(), actorOf(r), jobID, appID)
		h.respond(w, http.StatusOK, a, err)
	})
}

// ---------------------------------------------------------------------------
// Invites
// ---------------------------------------------------------------------------

func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		j, err := h.svc.AcceptInvite(r.Context(), actorOf(r), jobID)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) RejectInvite(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		j, err := h.svc.RejectInvite(r.Context(), actorOf(r), jobID, req.Reason)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) AssignEmployees(w http.ResponseWriter, r *http.Request) {
	var req AssignEmployeesRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		list, err := h.svc.AssignEmployees(r.Context(), actorOf(r), jobID, req.EmployeeIDs)
		h.respond(w, http.StatusOK, list, err)
	})
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func (h *Handler) ConfirmWorkStarted(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		j, err := h.svc.ConfirmWorkStarted(r.Context(), actorOf(r), jobID)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		j, err := h.svc.MarkComplete(r.Context(), actorOf(r), jobID, req.Notes, req.Photos)
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) ApproveCompletion(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		ap, err := h.svc.ApproveCompletion(r.Context(), actorOf(r), jobID, models.PaymentMethod(req.PaymentMethod), req.CashProofURL)
		status := http.StatusOK
		if err == nil && ap.CheckoutURL != "" {
			status = http.StatusAccepted
		}
		h.respond(w, status, ap, err)
	})
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func (h *Handler) SettleDailyEscrow(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	h.withJob(w, r, &req, func(jobID uuid.UUID) {
		j, err := h.svc.SettleDailyEscrow(r.Context(), actorOf(r), jobID, models.DailySettlement(req.Outcome))
		h.respond(w, http.StatusOK, j, err)
	})
}

func (h *Handler) VerifyCashProof(w http.ResponseWriter, r *http.Request) {
	h.withJob(w, r, nil, func(jobID uuid.UUID) {
		j, err := h.svc.VerifyCashProof(r.Context(), actorOf(r), jobID)
		h.respond(w, http.StatusOK, j, err)
	})
}
