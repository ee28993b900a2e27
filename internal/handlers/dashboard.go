package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/fleet-ops/internal/fleet"
)

// DashboardHandler serves the read-only summaries
type DashboardHandler struct {
	dashboard *fleet.Dashboard
}

// NewDashboardHandler creates a dashboard handler
func NewDashboardHandler(dashboard *fleet.Dashboard) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Fleet summarises vehicles, drivers and trips. ?days= sets the document expiry window.
func (h *DashboardHandler) Fleet(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r, defaultExpiryDays)
	if err != nil {
		badRequest(w, err)
		return
	}
	summary, err := h.dashboard.Fleet(r.Context(), time.Duration(days)*24*time.Hour)
	writeResult(w, r, http.StatusOK, summary, err)
}

// Maintenance summarises the service workload and stock
func (h *DashboardHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboard.Maintenance(r.Context())
	writeResult(w, r, http.StatusOK, summary, err)
}

// Driver summarises one driver's trips. Drivers may only see their own.
func (h *DashboardHandler) Driver(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !ownsDriverRecord(r, id) {
		http.Error(w, "Drivers may only view their own dashboard", http.StatusForbidden)
		return
	}
	summary, err := h.dashboard.Driver(r.Context(), id)
	writeResult(w, r, http.StatusOK, summary, err)
}
