package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/models"
)

func (f *fixture) submit(t *testing.T, vehicleID string) *models.MaintenanceRequest {
	t.Helper()
	req, err := f.maintenance.SubmitRequest(context.Background(), MaintenanceDraft{
		VehicleID:   vehicleID,
		DueDate:     fixedNow.Add(72 * time.Hour),
		ServiceType: "Brake inspection",
	})
	require.NoError(t, err)
	return req
}

func TestMaintenance_SubmitRequest(t *testing.T) {
	f := newFixture(t)
	vehicleID := f.vehicle(t, models.VehicleTypeMiniTruck, models.VehicleAvailable)

	req := f.submit(t, vehicleID)
	assert.Equal(t, models.MaintenancePending, req.Status)
	assert.Equal(t, "Tata Ace", req.VehicleName)
	assert.Equal(t, models.DefaultFixedServiceCost, req.FixedServiceCost)
	assert.Empty(t, req.ReplacedParts)
	assert.Equal(t, models.VehicleInMaintenance, f.getVehicle(t, vehicleID).Status)
}

func TestMaintenance_DuplicateRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t, models.VehicleTypeCar, models.VehicleAvailable)
	first := f.submit(t, vehicleID)

	_, err := f.maintenance.SubmitRequest(ctx, MaintenanceDraft{
		VehicleID: vehicleID, DueDate: fixedNow, ServiceType: "Oil change",
	})
	require.True(t, errors.Is(err, ErrDuplicateRequest))
	var dup *DuplicateRequestError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.RequestID)
	assert.Equal(t, models.MaintenancePending, dup.Status)

	all, err := f.maintenance.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Once closed, a new request is accepted.
	_, err = f.maintenance.ChangeStatus(ctx, first.ID, models.MaintenanceRejected)
	require.NoError(t, err)
	f.submit(t, vehicleID)
}

func TestMaintenance_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.maintenance.SubmitRequest(context.Background(), MaintenanceDraft{VehicleID: "missing"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "vehicleID")
	assert.Contains(t, ve.Fields, "dueDate")
	assert.Contains(t, ve.Fields, "serviceType")
}

func TestMaintenance_StatusTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []models.MaintenanceStatus
		final models.MaintenanceStatus
		fails bool
	}{
		{"start work", []models.MaintenanceStatus{models.MaintenanceInProgress}, models.MaintenanceInProgress, false},
		{"reject", []models.MaintenanceStatus{models.MaintenanceRejected}, models.MaintenanceRejected, false},
		{"no skip to completed", []models.MaintenanceStatus{models.MaintenanceCompleted}, models.MaintenancePending, true},
		{"rejected is terminal", []models.MaintenanceStatus{models.MaintenanceRejected, models.MaintenanceInProgress}, models.MaintenanceRejected, true},
		{"no going back", []models.MaintenanceStatus{models.MaintenanceInProgress, models.MaintenancePending}, models.MaintenanceInProgress, true},
		{"complete through status", []models.MaintenanceStatus{models.MaintenanceInProgress, models.MaintenanceCompleted}, models.MaintenanceCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			req := f.submit(t, f.vehicle(t, models.VehicleTypeTruck, models.VehicleAvailable))

			var err error
			for _, s := range tt.path {
				if _, err = f.maintenance.ChangeStatus(ctx, req.ID, s); err != nil {
					break
				}
			}
			if tt.fails {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			stored, err := f.maintenance.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.final, stored.Status)
		})
	}
}

func TestMaintenance_CompleteComputesTotalAndLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleAvailable)
	req := f.submit(t, vehicleID)

	_, err := f.maintenance.ChangeStatus(ctx, req.ID, models.MaintenanceInProgress)
	require.NoError(t, err)
	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Brake Pad", Price: 12.50})
	require.NoError(t, err)
	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Brake Fluid", Price: 8.00})
	require.NoError(t, err)

	done, err := f.maintenance.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceCompleted, done.Status)
	assert.Equal(t, 70.50, done.TotalCost)
	assert.Equal(t, models.VehicleAvailable, f.getVehicle(t, vehicleID).Status)

	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Wiper", Price: 4})
	assert.True(t, errors.Is(err, ErrRequestLocked))

	_, err = f.maintenance.Complete(ctx, req.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	stored, err := f.maintenance.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.50, stored.TotalCost)
	assert.Len(t, stored.ReplacedParts, 2)
}

func TestMaintenance_CompleteRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, f.vehicle(t, models.VehicleTypeTruck, models.VehicleAvailable))

	_, err := f.maintenance.Complete(context.Background(), req.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.maintenance.Complete(context.Background(), "missing")
	assert.True(t, db.IsNotFound(err))
}

func TestMaintenance_PartsConsumeTrackedStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.inventory.AddItem(ctx, StockItem{Name: "Spark Plug", Quantity: 1, Price: 6})
	require.NoError(t, err)
	req := f.submit(t, f.vehicle(t, models.VehicleTypeCar, models.VehicleAvailable))

	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Spark Plug", Price: 6})
	require.NoError(t, err)
	item, err := f.inventory.Item(ctx, "Spark Plug")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Quantity)

	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Spark Plug", Price: 6})
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	// Untracked parts do not touch stock.
	_, err = f.maintenance.AddReplacedPart(ctx, req.ID, models.ReplacedPart{Name: "Labour Kit", Price: 3})
	require.NoError(t, err)

	stored, err := f.maintenance.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ReplacedParts, 2)
}

func TestMaintenance_SubmitRefusedWhileOnTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverID := f.driver(t, models.DriverAvailable)
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleAvailable)

	trip, err := f.trips.Create(ctx, validDraft(driverID, vehicleID))
	require.NoError(t, err)
	_, err = f.trips.Accept(ctx, trip.ID)
	require.NoError(t, err)
	_, err = f.trips.Start(ctx, trip.ID)
	require.NoError(t, err)

	_, err = f.maintenance.SubmitRequest(ctx, MaintenanceDraft{
		VehicleID:   vehicleID,
		DueDate:     fixedNow.Add(72 * time.Hour),
		ServiceType: "Brake inspection",
	})
	require.ErrorIs(t, err, ErrInUse)
	assert.Equal(t, models.VehicleOnTrip, f.getVehicle(t, vehicleID).Status)

	open, err := openRequests(ctx, f.store, vehicleID)
	require.NoError(t, err)
	assert.Empty(t, open)

	// the vehicle cannot be handed to a second trip while the first runs
	_, err = f.trips.Create(ctx, validDraft(f.driver(t, models.DriverAvailable), vehicleID))
	require.ErrorIs(t, err, ErrValidation)
}

func TestMaintenance_SubmitRefusedWhenStatusOnTrip(t *testing.T) {
	f := newFixture(t)
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleOnTrip)

	_, err := f.maintenance.SubmitRequest(context.Background(), MaintenanceDraft{
		VehicleID:   vehicleID,
		DueDate:     fixedNow.Add(72 * time.Hour),
		ServiceType: "Brake inspection",
	})
	require.ErrorIs(t, err, ErrInUse)
	assert.Equal(t, models.VehicleOnTrip, f.getVehicle(t, vehicleID).Status)
}

// seedRequest stores a Pending request directly, bypassing SubmitRequest.
func (f *fixture) seedRequest(t *testing.T, vehicleID string) string {
	t.Helper()
	id, err := f.store.Maintenance.Create(context.Background(), &models.MaintenanceRequest{
		VehicleID:        vehicleID,
		VehicleName:      "Tata Ace",
		ServiceType:      "Brake inspection",
		DueDate:          models.NewTimestamp(fixedNow.Add(72 * time.Hour)),
		Status:           models.MaintenancePending,
		FixedServiceCost: models.DefaultFixedServiceCost,
		CreatedAt:        models.NewTimestamp(fixedNow),
		UpdatedAt:        models.NewTimestamp(fixedNow),
	})
	require.NoError(t, err)
	return id
}

func TestMaintenance_InProgressRefusedWhileOnTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleOnTrip)
	reqID := f.seedRequest(t, vehicleID)
	tripID := f.seedTrip(t, f.driver(t, models.DriverUnavailable), vehicleID, models.TripStarted)

	_, err := f.maintenance.ChangeStatus(ctx, reqID, models.MaintenanceInProgress)
	require.ErrorIs(t, err, ErrInUse)
	stored, err := f.store.Maintenance.Get(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, models.MaintenancePending, stored.Status)
	assert.Equal(t, models.VehicleOnTrip, f.getVehicle(t, vehicleID).Status)

	_, err = f.trips.Complete(ctx, tripID)
	require.NoError(t, err)
	require.NoError(t, f.store.Vehicles.Update(ctx, vehicleID, db.Fields{"status": models.VehicleInMaintenance}, true))

	_, err = f.maintenance.ChangeStatus(ctx, reqID, models.MaintenanceInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleInMaintenance, f.getVehicle(t, vehicleID).Status)
}

func TestMaintenance_RejectLeavesVehicleOnStartedTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleInMaintenance)
	reqID := f.seedRequest(t, vehicleID)
	f.seedTrip(t, f.driver(t, models.DriverUnavailable), vehicleID, models.TripStarted)

	_, err := f.maintenance.ChangeStatus(ctx, reqID, models.MaintenanceRejected)
	require.NoError(t, err)
	assert.NotEqual(t, models.VehicleAvailable, f.getVehicle(t, vehicleID).Status)
}

func TestMaintenance_RejectReleasesIdleVehicle(t *testing.T) {
	f := newFixture(t)
	vehicleID := f.vehicle(t, models.VehicleTypeTruck, models.VehicleAvailable)
	req := f.submit(t, vehicleID)
	require.Equal(t, models.VehicleInMaintenance, f.getVehicle(t, vehicleID).Status)

	_, err := f.maintenance.ChangeStatus(context.Background(), req.ID, models.MaintenanceRejected)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, f.getVehicle(t, vehicleID).Status)
}

func TestMaintenance_ConfiguredFixedCost(t *testing.T) {
	f := newFixture(t)
	engine := NewMaintenanceEngine(f.store, nil, 75.456, Options{})
	req, err := engine.SubmitRequest(context.Background(), MaintenanceDraft{
		VehicleID:   f.vehicle(t, models.VehicleTypeCar, models.VehicleAvailable),
		DueDate:     fixedNow,
		ServiceType: "Tyre rotation",
	})
	require.NoError(t, err)
	assert.Equal(t, 75.46, req.FixedServiceCost)

	open, err := engine.OpenRequestFor(context.Background(), req.VehicleID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, req.ID, open.ID)
}
