package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/models"
)

const defaultExpiryDays = 30

// VehicleHandler serves the vehicle roster
type VehicleHandler struct {
	roster *fleet.Roster
	trips  *fleet.TripEngine
}

// NewVehicleHandler creates a vehicle handler
func NewVehicleHandler(roster *fleet.Roster, trips *fleet.TripEngine) *VehicleHandler {
	return &VehicleHandler{roster: roster, trips: trips}
}

// List returns every vehicle
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.roster.Vehicles(r.Context())
	writeResult(w, r, http.StatusOK, vehicles, err)
}

// Available returns available vehicles, optionally of one ?type=
func (h *VehicleHandler) Available(w http.ResponseWriter, r *http.Request) {
	var vt models.VehicleType
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := models.ParseVehicleType(raw)
		if err != nil {
			badRequest(w, err)
			return
		}
		vt = parsed
	}
	vehicles, err := h.trips.AvailableVehicles(r.Context(), vt)
	writeResult(w, r, http.StatusOK, vehicles, err)
}

// Expiring lists vehicle documents expiring within ?days= (default 30)
func (h *VehicleHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r, defaultExpiryDays)
	if err != nil {
		badRequest(w, err)
		return
	}
	docs, err := h.roster.ExpiringDocuments(r.Context(), time.Duration(days)*24*time.Hour)
	if docs == nil {
		docs = []models.ExpiringDocument{}
	}
	writeResult(w, r, http.StatusOK, docs, err)
}

// Get returns one vehicle
func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.roster.Vehicle(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, vehicle, err)
}

// Create adds a vehicle
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.Vehicle
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	vehicle, err := h.roster.AddVehicle(r.Context(), in)
	writeResult(w, r, http.StatusCreated, vehicle, err)
}

// Update replaces a vehicle's registration details
func (h *VehicleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in models.Vehicle
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	vehicle, err := h.roster.UpdateVehicle(r.Context(), r.PathValue("id"), in)
	writeResult(w, r, http.StatusOK, vehicle, err)
}

// Delete removes a vehicle
func (h *VehicleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.roster.RemoveVehicle(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryDays(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, errInvalidDays
	}
	return days, nil
}
