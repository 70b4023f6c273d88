package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/iayos/backend/internal/attendance"
	"github.com/iayos/backend/internal/buffer"
	"github.com/iayos/backend/internal/payments"
)

// AdminHandler exposes platform reports and on-demand runs of the periodic sweeps.
type AdminHandler struct {
	payments   *payments.Service
	buffer     *buffer.Service
	attendance *attendance.Service
	log        *slog.Logger
	now        func() time.Time
}

func NewAdminHandler(p *payments.Service, b *buffer.Service, a *attendance.Service, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{payments: p, buffer: b, attendance: a, log: log, now: time.Now}
}

func (h *AdminHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	total, err := h.payments.PlatformRevenue(r.Context())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"platform_revenue": total.StringFixed(2)})
}

func (h *AdminHandler) PendingEarnings(w http.ResponseWriter, r *http.Request) {
	jobID, err := PathID(r, "jobID")
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	list, err := h.buffer.ForJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) ReleaseDue(w http.ResponseWriter, r *http.Request) {
	n, err := h.buffer.ReleaseDuePending(r.Context(), h.now())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"released": n})
}

func (h *AdminHandler) SweepAttendance(w http.ResponseWriter, r *http.Request) {
	res, err := h.attendance.CloseAbandonedAttendance(r.Context(), h.now())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"absent": res.Absent, "overdue": res.Overdue})
}
