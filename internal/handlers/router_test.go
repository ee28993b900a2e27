package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-ops/internal/auth"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/fleet"
	"github.com/ukydev/fleet-ops/internal/models"
)

type apiFixture struct {
	store   *db.Store
	auth    *auth.Service
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := db.NewStore(db.NewMemoryBackend(), db.DefaultRetryConfig())
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	authService := newAuthService(t)
	inv := fleet.NewInventory(store, fleet.DefaultThresholds.Classify, fleet.Options{})
	trips := fleet.NewTripEngine(store, fleet.Options{})
	return &apiFixture{
		store: store,
		auth:  authService,
		handler: NewRouter(Deps{
			Store:       store,
			Users:       db.NewUserStore(store.Users),
			Auth:        authService,
			Trips:       trips,
			Maintenance: fleet.NewMaintenanceEngine(store, inv, 0, fleet.Options{}),
			Inventory:   inv,
			Roster:      fleet.NewRoster(store, fleet.Options{}),
			Dashboard:   fleet.NewDashboard(store, inv),
		}),
	}
}

func (f *apiFixture) token(t *testing.T, role models.Role, driverID string) string {
	t.Helper()
	token, err := f.auth.GenerateToken(&models.User{ID: "u-" + string(role), Username: string(role), Role: role, DriverID: driverID})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = jsonBody(t, body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeAs[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func driverBody(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":         name,
		"age":          35,
		"mobileNumber": "+919812345678",
		"email":        strings.ToLower(name) + "@example.com",
		"licenseID":    "MH-12-2015-0001",
		"vehicleType":  []string{"Truck"},
	}
}

func vehicleBody() map[string]interface{} {
	return map[string]interface{}{
		"vehicleName": "Ashok Leyland Dost",
		"year":        2022,
		"vehicleType": "Truck",
		"vin":         "MB1AA22E0NPA12345",
	}
}

// seedTripAPI creates a driver, a vehicle and a Pending trip through the API.
func (f *apiFixture) seedTripAPI(t *testing.T, manager string) (driverID, vehicleID string, trip models.Trip) {
	t.Helper()
	w := f.do(t, "POST", "/api/drivers", manager, driverBody("Meera"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	driverID = decodeAs[models.Driver](t, w).ID

	w = f.do(t, "POST", "/api/vehicles", manager, vehicleBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	vehicleID = decodeAs[models.Vehicle](t, w).ID

	w = f.do(t, "POST", "/api/trips", manager, map[string]interface{}{
		"startLocation": "Pune",
		"endLocation":   "Mumbai",
		"vehicleType":   "Truck",
		"vehicleID":     vehicleID,
		"driver":        driverID,
		"eta":           "180",
		"distance":      "148 km",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	trip = decodeAs[models.Trip](t, w)
	return driverID, vehicleID, trip
}

func TestRouter_PublicAndProtected(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/trips", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/trips", "not-a-token", nil).Code)

	driver := f.token(t, models.RoleDriver, "d1")
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/trips", driver, map[string]string{}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/inventory", driver, map[string]string{}).Code)

	maint := f.token(t, models.RoleMaintenance, "")
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/drivers", maint, driverBody("X")).Code)
}

func TestRouter_RegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/api/auth/register", "", models.RegisterRequest{
		Username: "manager1",
		Email:    "manager1@example.com",
		Password: "password123",
		Role:     models.RoleFleetManager,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, "POST", "/api/auth/login", "", models.LoginRequest{Username: "manager1", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decodeAs[models.LoginResponse](t, w)

	w = f.do(t, "GET", "/api/auth/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "manager1", decodeAs[models.User](t, w).Username)
}

func TestRouter_TripLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	driverID, vehicleID, trip := f.seedTripAPI(t, manager)
	assert.Equal(t, models.TripPending, trip.Status)

	driver := f.token(t, models.RoleDriver, driverID)
	stranger := f.token(t, models.RoleDriver, "someone-else")

	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/trips/"+trip.ID+"/accept", stranger, nil).Code)

	for _, action := range []string{"accept", "start", "complete"} {
		w := f.do(t, "POST", "/api/trips/"+trip.ID+"/"+action, driver, nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", action, w.Body.String())
	}

	w := f.do(t, "GET", "/api/trips/"+trip.ID, driver, nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decodeAs[fleet.TripDetails](t, w)
	assert.Equal(t, models.TripCompleted, details.Trip.Status)
	assert.Equal(t, driverID, details.Trip.DriverID)
	require.NotNil(t, details.Vehicle)
	assert.Equal(t, 1, details.Vehicle.TotalTrips)
	assert.Equal(t, models.VehicleAvailable, details.Vehicle.Status)

	// Completed trips cannot move again or be deleted.
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/trips/"+trip.ID+"/start", driver, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, "DELETE", "/api/trips/"+trip.ID, manager, nil).Code)

	// Drivers cannot reconcile; managers can, and it is idempotent.
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/trips/"+trip.ID+"/reconcile", driver, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/trips/"+trip.ID+"/reconcile", manager, nil).Code)
	w = f.do(t, "GET", "/api/vehicles/"+vehicleID, manager, nil)
	assert.Equal(t, 1, decodeAs[models.Vehicle](t, w).TotalTrips)

	w = f.do(t, "GET", "/api/trips?status=Completed", driver, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeAs[[]models.Trip](t, w), 1)

	w = f.do(t, "GET", "/api/trips", stranger, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeAs[[]models.Trip](t, w))
}

func TestRouter_TripErrors(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	_, _, trip := f.seedTripAPI(t, manager)

	w := f.do(t, "POST", "/api/trips", manager, map[string]interface{}{
		"startLocation": "Pune",
		"endLocation":   "",
		"vehicleType":   "Truck",
		"vehicleID":     "nope",
		"driver":        "nope",
		"eta":           "20",
		"distance":      "5 km",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeAs[errorResponse](t, w)
	assert.Contains(t, body.Fields, "endLocation")
	assert.Contains(t, body.Fields, "vehicleID")

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/trips/"+trip.ID+"/complete", manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/trips/missing/accept", manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/trips/"+trip.ID+"/teleport", manager, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/trips?status=Flying", manager, nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/api/trips/"+trip.ID, manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/trips/"+trip.ID, manager, nil).Code)
}

func TestRouter_DriverAvailability(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	driverID, _, trip := f.seedTripAPI(t, manager)
	driver := f.token(t, models.RoleDriver, driverID)

	other := f.token(t, models.RoleDriver, "other")
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/drivers/"+driverID+"/availability", other, map[string]bool{"available": false}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/drivers/"+driverID+"/availability", driver, map[string]string{}).Code)

	w := f.do(t, "POST", "/api/drivers/"+driverID+"/availability", driver, map[string]bool{"available": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DriverUnavailable, decodeAs[models.Driver](t, w).DriverStatus)

	w = f.do(t, "GET", "/api/drivers/available", manager, nil)
	assert.Empty(t, decodeAs[[]models.Driver](t, w))

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/drivers/"+driverID+"/availability", driver, map[string]bool{"available": true}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/trips/"+trip.ID+"/accept", driver, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/trips/"+trip.ID+"/start", driver, nil).Code)

	// On a started trip the driver cannot become available or be removed.
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/drivers/"+driverID+"/availability", driver, map[string]bool{"available": true}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, "DELETE", "/api/drivers/"+driverID, manager, nil).Code)
}

func TestRouter_Vehicles(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")

	body := vehicleBody()
	body["insuranceExpiryDate"] = time.Now().Add(5 * 24 * time.Hour).UTC().Format(time.RFC3339)
	w := f.do(t, "POST", "/api/vehicles", manager, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeAs[models.Vehicle](t, w).ID

	w = f.do(t, "GET", "/api/vehicles/available?type=Truck", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeAs[[]models.Vehicle](t, w), 1)

	w = f.do(t, "GET", "/api/vehicles/available?type=Car", manager, nil)
	assert.Empty(t, decodeAs[[]models.Vehicle](t, w))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/vehicles/available?type=Bus", manager, nil).Code)

	w = f.do(t, "GET", "/api/vehicles/expiring?days=10", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	docs := decodeAs[[]models.ExpiringDocument](t, w)
	require.Len(t, docs, 1)
	assert.Equal(t, "insurance", docs[0].Document)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/vehicles/expiring?days=-1", manager, nil).Code)

	body["vehicleName"] = "Dost Plus"
	w = f.do(t, "PUT", "/api/vehicles/"+id, manager, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Dost Plus", decodeAs[models.Vehicle](t, w).VehicleName)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/api/vehicles/"+id, manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/vehicles/"+id, manager, nil).Code)
}

func TestRouter_MaintenanceFlow(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	maint := f.token(t, models.RoleMaintenance, "")

	w := f.do(t, "POST", "/api/vehicles", manager, vehicleBody())
	require.Equal(t, http.StatusCreated, w.Code)
	vehicleID := decodeAs[models.Vehicle](t, w).ID

	submit := map[string]interface{}{
		"vehicleID":   vehicleID,
		"dueDate":     time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"serviceType": "Clutch overhaul",
	}
	w = f.do(t, "POST", "/api/maintenance", manager, submit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decodeAs[models.MaintenanceRequest](t, w)

	w = f.do(t, "POST", "/api/maintenance", manager, submit)
	require.Equal(t, http.StatusConflict, w.Code)
	dup := decodeAs[errorResponse](t, w)
	require.NotNil(t, dup.Existing)
	assert.Equal(t, req.ID, dup.Existing.ID)
	assert.Equal(t, string(models.MaintenancePending), dup.Existing.Status)

	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/maintenance/"+req.ID+"/complete", manager, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/maintenance/"+req.ID+"/status", maint, map[string]string{"status": "Paused"}).Code)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/maintenance/"+req.ID+"/status", maint, map[string]string{"status": "In Progress"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/maintenance/"+req.ID+"/parts", maint, models.ReplacedPart{Name: "Clutch Plate", Price: 40.25}).Code)

	w = f.do(t, "POST", "/api/maintenance/"+req.ID+"/complete", maint, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decodeAs[models.MaintenanceRequest](t, w)
	assert.Equal(t, models.MaintenanceCompleted, done.Status)
	assert.Equal(t, 90.25, done.TotalCost)

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/maintenance/"+req.ID+"/parts", maint, models.ReplacedPart{Name: "Bolt", Price: 1}).Code)

	w = f.do(t, "GET", "/api/maintenance?status=Completed", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeAs[[]models.MaintenanceRequest](t, w), 1)

	w = f.do(t, "GET", "/api/dashboard/maintenance", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeAs[fleet.MaintenanceSummary](t, w)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 90.25, summary.TotalSpend)
}

func TestRouter_MaintenanceAndTripsExcludeEachOther(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	maint := f.token(t, models.RoleMaintenance, "")
	driverID, vehicleID, trip := f.seedTripAPI(t, manager)
	driver := f.token(t, models.RoleDriver, driverID)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/trips/"+trip.ID+"/accept", driver, nil).Code)

	submit := map[string]interface{}{
		"vehicleID":   vehicleID,
		"dueDate":     time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"serviceType": "Brake inspection",
	}
	w := f.do(t, "POST", "/api/maintenance", manager, submit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decodeAs[models.MaintenanceRequest](t, w)

	// a vehicle with an open request cannot start a trip
	w = f.do(t, "POST", "/api/trips/"+trip.ID+"/start", driver, nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	w = f.do(t, "GET", "/api/vehicles/"+vehicleID, manager, nil)
	assert.Equal(t, models.VehicleInMaintenance, decodeAs[models.Vehicle](t, w).Status)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/maintenance/"+req.ID+"/status", maint, map[string]string{"status": "Rejected"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/trips/"+trip.ID+"/start", driver, nil).Code)

	// and a vehicle on a started trip cannot take a request
	w = f.do(t, "POST", "/api/maintenance", manager, submit)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Nil(t, decodeAs[errorResponse](t, w).Existing)
	w = f.do(t, "GET", "/api/vehicles/"+vehicleID, manager, nil)
	assert.Equal(t, models.VehicleOnTrip, decodeAs[models.Vehicle](t, w).Status)
}

func TestRouter_Inventory(t *testing.T) {
	f := newAPIFixture(t)
	maint := f.token(t, models.RoleMaintenance, "")
	manager := f.token(t, models.RoleFleetManager, "")

	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/inventory", maint, fleet.StockItem{Name: "Brake Pad", Quantity: 4, Price: 12.5}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/inventory", maint, fleet.StockItem{Name: "Brake Pad", Quantity: 20, Price: 12.5}).Code)

	w := f.do(t, "GET", "/api/inventory", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decodeAs[[]models.InventoryItem](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, 24, items[0].Quantity)

	w = f.do(t, "POST", "/api/inventory/consume", maint, map[string]interface{}{"name": "Brake Pad", "quantity": 30})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "POST", "/api/inventory/consume", maint, map[string]interface{}{"name": "Brake Pad", "quantity": 22})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StockCritical, decodeAs[models.InventoryItem](t, w).Status)

	w = f.do(t, "GET", "/api/inventory/low-stock", maint, nil)
	assert.Len(t, decodeAs[[]models.InventoryItem](t, w), 1)

	w = f.do(t, "POST", "/api/inventory/restock", maint, fleet.StockItem{Name: "Brake Pad", Quantity: 10, Price: 13})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12, decodeAs[models.InventoryItem](t, w).Quantity)

	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/api/inventory/restock", manager, fleet.StockItem{Name: "X", Quantity: 1}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/inventory", maint, fleet.StockItem{Name: "", Quantity: 0}).Code)
}

func TestRouter_Dashboards(t *testing.T) {
	f := newAPIFixture(t)
	manager := f.token(t, models.RoleFleetManager, "")
	driverID, _, _ := f.seedTripAPI(t, manager)

	w := f.do(t, "GET", "/api/dashboard/fleet", manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fleetSummary := decodeAs[fleet.FleetSummary](t, w)
	assert.Equal(t, 1, fleetSummary.TotalVehicles)
	assert.Equal(t, 1, fleetSummary.TripsByStatus[string(models.TripPending)])

	driver := f.token(t, models.RoleDriver, driverID)
	assert.Equal(t, http.StatusForbidden, f.do(t, "GET", "/api/dashboard/fleet", driver, nil).Code)

	w = f.do(t, "GET", "/api/dashboard/driver/"+driverID, driver, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Meera", decodeAs[fleet.DriverSummary](t, w).DriverName)
	assert.Equal(t, http.StatusForbidden, f.do(t, "GET", "/api/dashboard/driver/other", driver, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/dashboard/driver/nobody", manager, nil).Code)
}

func TestRouter_StreamPushesSnapshots(t *testing.T) {
	f := newAPIFixture(t)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	manager := f.token(t, models.RoleFleetManager, "")
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/stream/vehicles?token=" + manager

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	readVehicles := func() []models.Vehicle {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg struct {
			Collection string           `json:"collection"`
			Items      []models.Vehicle `json:"items"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, db.VehiclesCollection, msg.Collection)
		return msg.Items
	}

	assert.Empty(t, readVehicles())

	w := f.do(t, "POST", "/api/vehicles", manager, vehicleBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var items []models.Vehicle
	for len(items) == 0 {
		items = readVehicles()
	}
	assert.Equal(t, "Ashok Leyland Dost", items[0].VehicleName)
}

func TestRouter_StreamRejectsUnknownAndForbidden(t *testing.T) {
	f := newAPIFixture(t)
	driver := f.token(t, models.RoleDriver, "d1")

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/stream/users", driver, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, "GET", "/api/stream/inventory", driver, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/stream/trips", "", nil).Code)
}
