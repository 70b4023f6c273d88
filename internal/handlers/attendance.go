package handlers

import (
	"log/slog"
	"net/http"

	"github.com/iayos/backend/internal/attendance"
	"github.com/iayos/backend/internal/middleware"
	"github.com/iayos/backend/internal/models"
)

type ConfirmAttendanceRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=PRESENT HALF_DAY ABSENT"`
}

type AttendanceHandler struct {
	svc *attendance.Service
	log *slog.Logger
}

func NewAttendanceHandler(svc *attendance.Service, log *slog.Logger) *AttendanceHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AttendanceHandler{svc: svc, log: log}
}

func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	jobID, err := PathID(r, "jobID")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	rec, err := h.svc.CheckIn(r.Context(), actor, jobID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	jobID, err := PathID(r, "jobID")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	rec, err := h.svc.CheckOut(r.Context(), actor, jobID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *AttendanceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	recordID, err := PathID(r, "recordID")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req ConfirmAttendanceRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	rec, err := h.svc.ClientConfirm(r.Context(), actor, recordID, models.AttendanceStatus(req.Status))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	jobID, err := PathID(r, "jobID")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	actor, _ := middleware.ActorFromCtx(r.Context())
	list, err := h.svc.ForJob(r.Context(), actor, jobID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}
