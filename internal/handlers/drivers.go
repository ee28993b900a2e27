package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/middleware"
	"github.com/ukydev/fleet-ops/internal/models"
)

// DriverHandler serves the driver roster
type DriverHandler struct {
	roster *fleet.Roster
	trips  *fleet.TripEngine
}

// NewDriverHandler creates a driver handler
func NewDriverHandler(roster *fleet.Roster, trips *fleet.TripEngine) *DriverHandler {
	return &DriverHandler{roster: roster, trips: trips}
}

// List returns every driver
func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.roster.Drivers(r.Context())
	writeResult(w, r, http.StatusOK, drivers, err)
}

// Available returns drivers that can take a trip
func (h *DriverHandler) Available(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.trips.AvailableDrivers(r.Context())
	writeResult(w, r, http.StatusOK, drivers, err)
}

// Get returns one driver
func (h *DriverHandler) Get(w http.ResponseWriter, r *http.Request) {
	driver, err := h.roster.Driver(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, driver, err)
}

// Create adds a driver
func (h *DriverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.Driver
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	driver, err := h.roster.AddDriver(r.Context(), in)
	writeResult(w, r, http.StatusCreated, driver, err)
}

// Update replaces a driver's profile
func (h *DriverHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in models.Driver
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	driver, err := h.roster.UpdateDriver(r.Context(), r.PathValue("id"), in)
	writeResult(w, r, http.StatusOK, driver, err)
}

// Delete removes a driver
func (h *DriverHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.roster.RemoveDriver(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAvailability toggles a driver. Drivers may only toggle themselves.
func (h *DriverHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !ownsDriverRecord(r, id) {
		http.Error(w, "Drivers may only change their own availability", http.StatusForbidden)
		return
	}

	var in struct {
		Available *bool `json:"available"`
	}
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	if in.Available == nil {
		writeError(w, r, &fleet.ValidationError{Fields: map[string]string{"available": "is required"}})
		return
	}

	driver, err := h.trips.SetDriverAvailability(r.Context(), id, *in.Available)
	writeResult(w, r, http.StatusOK, driver, err)
}

// ownsDriverRecord reports whether the caller may act for driverID. Only
// driver accounts are restricted.
func ownsDriverRecord(r *http.Request, driverID string) bool {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return false
	}
	return claims.Role != models.RoleDriver || claims.DriverID == driverID
}
