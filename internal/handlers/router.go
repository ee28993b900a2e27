package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-ops/internal/auth"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/metrics"
	"github.com/ukydev/fleet-ops/internal/middleware"
	"github.com/ukydev/fleet-ops/internal/models"
)

// Deps are the collaborators the API is built from
type Deps struct {
	Store       *db.Store
	Users       db.UserCollection
	Auth        *auth.Service
	Trips       *fleet.TripEngine
	Maintenance *fleet.MaintenanceEngine
	Inventory   *fleet.Inventory
	Roster      *fleet.Roster
	Dashboard   *fleet.Dashboard
	RateLimit   *middleware.RateLimitMiddleware
}

// NewRouter wires every route behind authentication, permission checks,
// rate limiting and request logging.
func NewRouter(d Deps) http.Handler {
	am := middleware.NewAuthMiddleware(d.Auth)
	mux := http.NewServeMux()

	authH := NewAuthHandler(d.Auth, d.Users)
	mux.HandleFunc("POST /api/auth/register", authH.Register)
	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.Handle("GET /api/auth/profile", am.Authenticate(http.HandlerFunc(authH.GetProfile)))
	mux.Handle("PUT /api/auth/profile", am.Authenticate(http.HandlerFunc(authH.UpdateProfile)))
	mux.Handle("POST /api/auth/password", am.Authenticate(http.HandlerFunc(authH.ChangePassword)))

	drivers := NewDriverHandler(d.Roster, d.Trips)
	mux.Handle("GET /api/drivers", am.Protect(models.ActionViewFleet, drivers.List))
	mux.Handle("POST /api/drivers", am.Protect(models.ActionManageFleet, drivers.Create))
	mux.Handle("GET /api/drivers/available", am.Protect(models.ActionViewFleet, drivers.Available))
	mux.Handle("GET /api/drivers/{id}", am.Protect(models.ActionViewFleet, drivers.Get))
	mux.Handle("PUT /api/drivers/{id}", am.Protect(models.ActionManageFleet, drivers.Update))
	mux.Handle("DELETE /api/drivers/{id}", am.Protect(models.ActionManageFleet, drivers.Delete))
	mux.Handle("POST /api/drivers/{id}/availability", am.Protect(models.ActionSetAvailability, drivers.SetAvailability))

	vehicles := NewVehicleHandler(d.Roster, d.Trips)
	mux.Handle("GET /api/vehicles", am.Protect(models.ActionViewFleet, vehicles.List))
	mux.Handle("POST /api/vehicles", am.Protect(models.ActionManageFleet, vehicles.Create))
	mux.Handle("GET /api/vehicles/available", am.Protect(models.ActionViewFleet, vehicles.Available))
	mux.Handle("GET /api/vehicles/expiring", am.Protect(models.ActionManageFleet, vehicles.Expiring))
	mux.Handle("GET /api/vehicles/{id}", am.Protect(models.ActionViewFleet, vehicles.Get))
	mux.Handle("PUT /api/vehicles/{id}", am.Protect(models.ActionManageFleet, vehicles.Update))
	mux.Handle("DELETE /api/vehicles/{id}", am.Protect(models.ActionManageFleet, vehicles.Delete))

	trips := NewTripHandler(d.Trips)
	mux.Handle("GET /api/trips", am.Protect(models.ActionViewFleet, trips.List))
	mux.Handle("POST /api/trips", am.Protect(models.ActionCreateTrip, trips.Create))
	mux.Handle("GET /api/trips/{id}", am.Protect(models.ActionViewFleet, trips.Get))
	mux.Handle("DELETE /api/trips/{id}", am.Protect(models.ActionDeleteTrip, trips.Delete))
	mux.Handle("POST /api/trips/{id}/{action}", am.Protect(models.ActionUpdateTripStatus, trips.Transition))

	maint := NewMaintenanceHandler(d.Maintenance)
	mux.Handle("GET /api/maintenance", am.Protect(models.ActionViewMaintenance, maint.List))
	mux.Handle("POST /api/maintenance", am.Protect(models.ActionCreateMaintenance, maint.Submit))
	mux.Handle("GET /api/maintenance/{id}", am.Protect(models.ActionViewMaintenance, maint.Get))
	mux.Handle("POST /api/maintenance/{id}/status", am.Protect(models.ActionUpdateMaintenance, maint.ChangeStatus))
	mux.Handle("POST /api/maintenance/{id}/parts", am.Protect(models.ActionUpdateMaintenance, maint.AddPart))
	mux.Handle("POST /api/maintenance/{id}/complete", am.Protect(models.ActionUpdateMaintenance, maint.Complete))

	inv := NewInventoryHandler(d.Inventory)
	mux.Handle("GET /api/inventory", am.Protect(models.ActionViewInventory, inv.List))
	mux.Handle("POST /api/inventory", am.Protect(models.ActionManageInventory, inv.Add))
	mux.Handle("GET /api/inventory/low-stock", am.Protect(models.ActionViewInventory, inv.LowStock))
	mux.Handle("POST /api/inventory/restock", am.Protect(models.ActionManageInventory, inv.Restock))
	mux.Handle("POST /api/inventory/consume", am.Protect(models.ActionManageInventory, inv.Consume))

	dash := NewDashboardHandler(d.Dashboard)
	mux.Handle("GET /api/dashboard/fleet", am.Protect(models.ActionManageFleet, dash.Fleet))
	mux.Handle("GET /api/dashboard/maintenance", am.Protect(models.ActionViewMaintenance, dash.Maintenance))
	mux.Handle("GET /api/dashboard/driver/{id}", am.Protect(models.ActionViewFleet, dash.Driver))

	stream := NewStreamHandler(d.Store)
	mux.Handle("GET /api/stream/{collection}", am.Authenticate(http.HandlerFunc(stream.Stream)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	if d.RateLimit != nil {
		h = d.RateLimit.RateLimit(h)
	}
	return middleware.Recover(middleware.RequestLogger(h))
}
