package handlers

import (
	"net/http"
	"strings"

	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/models"
)

// MaintenanceHandler serves maintenance requests
type MaintenanceHandler struct {
	engine *fleet.MaintenanceEngine
}

// NewMaintenanceHandler creates a maintenance handler
func NewMaintenanceHandler(engine *fleet.MaintenanceEngine) *MaintenanceHandler {
	return &MaintenanceHandler{engine: engine}
}

// List returns requests, optionally filtered by ?status=a,b
func (h *MaintenanceHandler) List(w http.ResponseWriter, r *http.Request) {
	var statuses []models.MaintenanceStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := models.ParseMaintenanceStatus(strings.TrimSpace(s))
			if err != nil {
				badRequest(w, err)
				return
			}
			statuses = append(statuses, status)
		}
	}
	requests, err := h.engine.ListByStatus(r.Context(), statuses...)
	writeResult(w, r, http.StatusOK, requests, err)
}

// Submit raises a request for a vehicle
func (h *MaintenanceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var draft fleet.MaintenanceDraft
	if err := readJSON(r, &draft); err != nil {
		badRequest(w, err)
		return
	}
	req, err := h.engine.SubmitRequest(r.Context(), draft)
	writeResult(w, r, http.StatusCreated, req, err)
}

// Get returns one request
func (h *MaintenanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Get(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, req, err)
}

// ChangeStatus moves a request to {"status": ...}
func (h *MaintenanceHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	status, err := models.ParseMaintenanceStatus(in.Status)
	if err != nil {
		writeError(w, r, &fleet.ValidationError{Fields: map[string]string{"status": err.Error()}})
		return
	}
	req, err := h.engine.ChangeStatus(r.Context(), r.PathValue("id"), status)
	writeResult(w, r, http.StatusOK, req, err)
}

// AddPart records a replaced part
func (h *MaintenanceHandler) AddPart(w http.ResponseWriter, r *http.Request) {
	var part models.ReplacedPart
	if err := readJSON(r, &part); err != nil {
		badRequest(w, err)
		return
	}
	req, err := h.engine.AddReplacedPart(r.Context(), r.PathValue("id"), part)
	writeResult(w, r, http.StatusOK, req, err)
}

// Complete closes an In Progress request and fixes its total
func (h *MaintenanceHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Complete(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, req, err)
}
