package fleet

import (
	"context"
	"time"

	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/models"
	"golang.org/x/sync/errgroup"
)

// FleetSummary is the fleet manager's overview.
type FleetSummary struct {
	TotalVehicles     int                       `json:"totalVehicles"`
	VehiclesByStatus  map[string]int            `json:"vehiclesByStatus"`
	TotalDrivers      int                       `json:"totalDrivers"`
	DriversByStatus   map[string]int            `json:"driversByStatus"`
	TripsByStatus     map[string]int            `json:"tripsByStatus"`
	ActiveTrips       int                       `json:"activeTrips"`
	ExpiringDocuments []models.ExpiringDocument `json:"expiringDocuments"`
}

// MaintenanceSummary is the maintenance worker's overview.
type MaintenanceSummary struct {
	Pending       int     `json:"pending"`
	InProgress    int     `json:"inProgress"`
	Completed     int     `json:"completed"`
	Rejected      int     `json:"rejected"`
	LowStockItems int     `json:"lowStockItems"`
	TotalSpend    float64 `json:"totalSpend"`
}

// DriverSummary is one driver's overview.
type DriverSummary struct {
	DriverID         string         `json:"driverID"`
	DriverName       string         `json:"driverName"`
	Status           string         `json:"status,omitempty"`
	TripsByStatus    map[string]int `json:"tripsByStatus"`
	TotalTrips       int            `json:"totalTrips"`
	DistanceTraveled float64        `json:"distanceTraveled"`
	CurrentTripID    string         `json:"currentTripID,omitempty"`
}

// Dashboard computes read-only aggregates.
type Dashboard struct {
	store     *db.Store
	inventory *Inventory
	now       func() time.Time
}

// NewDashboard creates a dashboard over store.
func NewDashboard(store *db.Store, inventory *Inventory) *Dashboard {
	return &Dashboard{store: store, inventory: inventory, now: time.Now}
}

// Fleet summarises vehicles, drivers and trips. Documents expiring within
// the given window are listed.
func (d *Dashboard) Fleet(ctx context.Context, expiryWindow time.Duration) (*FleetSummary, error) {
	var (
		vehicles []models.Vehicle
		drivers  []models.Driver
		trips    []models.Trip
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		vehicles, err = d.store.Vehicles.Query(ctx, db.All)
		return err
	})
	g.Go(func() (err error) {
		drivers, err = d.store.Drivers.Query(ctx, db.All)
		return err
	})
	g.Go(func() (err error) {
		trips, err = d.store.Trips.Query(ctx, db.All)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &FleetSummary{
		TotalVehicles:     len(vehicles),
		VehiclesByStatus:  map[string]int{},
		TotalDrivers:      len(drivers),
		DriversByStatus:   map[string]int{},
		TripsByStatus:     map[string]int{},
		ExpiringDocuments: []models.ExpiringDocument{},
	}
	now := d.now()
	for _, v := range vehicles {
		s.VehiclesByStatus[string(v.Status)]++
		s.ExpiringDocuments = append(s.ExpiringDocuments, v.ExpiringDocuments(now, expiryWindow)...)
	}
	for _, dr := range drivers {
		s.DriversByStatus[string(dr.DriverStatus)]++
	}
	for _, t := range trips {
		s.TripsByStatus[string(t.Status)]++
	}
	s.ActiveTrips = s.TripsByStatus[string(models.TripStarted)]
	return s, nil
}

// Maintenance summarises requests and stock shortages.
func (d *Dashboard) Maintenance(ctx context.Context) (*MaintenanceSummary, error) {
	var (
		requests []models.MaintenanceRequest
		low      []models.InventoryItem
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		requests, err = d.store.Maintenance.Query(ctx, db.All)
		return err
	})
	if d.inventory != nil {
		g.Go(func() (err error) {
			low, err = d.inventory.LowStock(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &MaintenanceSummary{LowStockItems: len(low)}
	for _, r := range requests {
		switch r.Status {
		case models.MaintenancePending:
			s.Pending++
		case models.MaintenanceInProgress:
			s.InProgress++
		case models.MaintenanceCompleted:
			s.Completed++
			s.TotalSpend += r.TotalCost
		case models.MaintenanceRejected:
			s.Rejected++
		}
	}
	s.TotalSpend = models.RoundCents(s.TotalSpend)
	return s, nil
}

// Driver summarises one driver's trips.
func (d *Dashboard) Driver(ctx context.Context, driverID string) (*DriverSummary, error) {
	driver, err := d.store.Drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	trips, err := d.store.Trips.Query(ctx, db.Where("driver", db.OpEq, driverID))
	if err != nil {
		return nil, err
	}
	if driver == nil && len(trips) == 0 {
		return nil, missing(db.DriversCollection, driverID)
	}

	s := &DriverSummary{
		DriverID:      driverID,
		DriverName:    models.DriverName(driver),
		TripsByStatus: map[string]int{},
	}
	if driver != nil {
		s.Status = string(driver.DriverStatus)
		s.TotalTrips = driver.TotalTrips
		s.DistanceTraveled = driver.DistanceTraveled
	}
	for _, t := range trips {
		s.TripsByStatus[string(t.Status)]++
		if t.Status == models.TripStarted {
			s.CurrentTripID = t.ID
		}
	}
	return s, nil
}
