package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/middleware"
	"github.com/ukydev/fleet-ops/internal/models"
)

// TripHandler serves trip scheduling and the trip lifecycle
type TripHandler struct {
	trips *fleet.TripEngine
}

// NewTripHandler creates a trip handler
func NewTripHandler(trips *fleet.TripEngine) *TripHandler {
	return &TripHandler{trips: trips}
}

// List returns trips, filtered by ?status=a,b and ?driver=. Driver accounts
// only ever see their own trips.
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver")
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok && claims.Role == models.RoleDriver {
		driverID = claims.DriverID
	}

	var statuses []models.TripStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := models.ParseTripStatus(strings.TrimSpace(s))
			if err != nil {
				badRequest(w, err)
				return
			}
			statuses = append(statuses, status)
		}
	}

	var (
		trips []models.Trip
		err   error
	)
	switch {
	case driverID != "":
		trips, err = h.trips.TripsByDriver(r.Context(), driverID)
		trips = keepStatuses(trips, statuses)
	case len(statuses) > 0:
		trips, err = h.trips.TripsByStatus(r.Context(), statuses...)
	default:
		trips, err = h.trips.List(r.Context())
	}
	writeResult(w, r, http.StatusOK, trips, err)
}

func keepStatuses(trips []models.Trip, statuses []models.TripStatus) []models.Trip {
	if len(statuses) == 0 {
		return trips
	}
	out := trips[:0]
	for _, t := range trips {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Create schedules a Pending trip
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	var draft fleet.TripDraft
	if err := readJSON(r, &draft); err != nil {
		badRequest(w, err)
		return
	}
	trip, err := h.trips.Create(r.Context(), draft)
	writeResult(w, r, http.StatusCreated, trip, err)
}

// Get returns a trip with its driver and vehicle
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	details, err := h.trips.Details(r.Context(), r.PathValue("id"))
	if err == nil && !ownsDriverRecord(r, details.Trip.DriverID) {
		http.Error(w, "Trip belongs to another driver", http.StatusForbidden)
		return
	}
	writeResult(w, r, http.StatusOK, details, err)
}

// Delete removes a trip that was never accepted
func (h *TripHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.trips.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transition applies POST /api/trips/{id}/{action}
func (h *TripHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, action := r.PathValue("id"), r.PathValue("action")
	apply, ok := h.actions()[action]
	if !ok {
		http.Error(w, "Unknown trip action", http.StatusNotFound)
		return
	}

	claims, _ := middleware.GetUserFromContext(r.Context())
	if action == "reconcile" && (claims == nil || !models.RoleAllows(claims.Role, models.ActionManageFleet)) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}
	if claims != nil && claims.Role == models.RoleDriver {
		details, err := h.trips.Details(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if details.Trip.DriverID != claims.DriverID {
			http.Error(w, "Trip belongs to another driver", http.StatusForbidden)
			return
		}
	}

	trip, err := apply(r.Context(), id)
	writeResult(w, r, http.StatusOK, trip, err)
}

func (h *TripHandler) actions() map[string]func(context.Context, string) (*models.Trip, error) {
	return map[string]func(context.Context, string) (*models.Trip, error){
		"accept":    h.trips.Accept,
		"decline":   h.trips.Decline,
		"start":     h.trips.Start,
		"complete":  h.trips.Complete,
		"reconcile": h.trips.ReconcileCounters,
	}
}
