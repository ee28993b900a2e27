package fleet

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/models"
	"github.com/ukydev/fleet-ops/internal/validation"
)


// Roster manages driver and vehicle records.
type Roster struct {
	store *db.Store
	pub   events.Publisher
	log   *logrus.Entry
	now   func() time.Time
}

// NewRoster creates a roster over store.
func NewRoster(store *db.Store, opts Options) *Roster {
	opts = opts.withDefaults("roster")
	return &Roster{store: store, pub: opts.Publisher, log: opts.Logger, now: opts.Now}
}

// Drivers returns every driver.
func (r *Roster) Drivers(ctx context.Context) ([]models.Driver, error) {
	return r.store.Drivers.Query(ctx, db.All)
}

// Driver returns one driver or NotFound.
func (r *Roster) Driver(ctx context.Context, id string) (*models.Driver, error) {
	d, err := r.store.Drivers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, missing(db.DriversCollection, id)
	}
	return d, nil
}

// AddDriver stores a new driver. New drivers start available with zeroed counters.
func (r *Roster) AddDriver(ctx context.Context, d models.Driver) (*models.Driver, error) {
	d.ID = ""
	d.DriverStatus = models.DriverAvailable
	d.TotalTrips = 0
	d.DistanceTraveled = 0
	if err := validationError(validation.Struct(&d)); err != nil {
		return nil, err
	}
	id, err := r.store.Drivers.Create(ctx, &d)
	if err != nil {
		return nil, err
	}
	d.ID = id
	r.log.WithField("driver_id", id).Info("driver added")
	r.pub.Publish(ctx, events.Event{Entity: events.EntityDriver, ID: id, Type: events.TypeCreated, To: string(d.DriverStatus), At: r.now().UTC()})
	return &d, nil
}

// UpdateDriver replaces a driver's profile. Status and counters are owned by
// the trip engine and keep their stored values.
func (r *Roster) UpdateDriver(ctx context.Context, id string, d models.Driver) (*models.Driver, error) {
	var ruleErr error
	err := r.store.Drivers.RunAtomic(ctx, id, func(cur *models.Driver) (db.Fields, error) {
		ruleErr = nil
		if cur == nil {
			ruleErr = missing(db.DriversCollection, id)
			return nil, ruleErr
		}
		d.ID = id
		d.DriverStatus = cur.DriverStatus
		d.TotalTrips = cur.TotalTrips
		d.DistanceTraveled = cur.DistanceTraveled
		if ruleErr = validationError(validation.Struct(&d)); ruleErr != nil {
			return nil, ruleErr
		}
		return db.Fields{
			"name":              d.Name,
			"age":               d.Age,
			"address":           d.Address,
			"mobileNumber":      d.MobileNumber,
			"email":             d.Email,
			"licenseID":         d.LicenseID,
			"vehicleType":       d.VehicleTypes,
			"experienceInYears": d.ExperienceInYears,
		}, nil
	})
	if ruleErr != nil {
		return nil, ruleErr
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RemoveDriver deletes a driver who is not on a Started trip. Trips keep
// their dangling reference.
func (r *Roster) RemoveDriver(ctx context.Context, id string) error {
	if _, err := r.Driver(ctx, id); err != nil {
		return err
	}
	active, err := startedTrips(ctx, r.store, "driver", id, "")
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return ErrInUse
	}
	if err := r.store.Drivers.Delete(ctx, id); err != nil {
		return err
	}
	r.log.WithField("driver_id", id).Info("driver removed")
	r.pub.Publish(ctx, events.Event{Entity: events.EntityDriver, ID: id, Type: events.TypeDeleted, At: r.now().UTC()})
	return nil
}

// Vehicles returns every vehicle.
func (r *Roster) Vehicles(ctx context.Context) ([]models.Vehicle, error) {
	return r.store.Vehicles.Query(ctx, db.All)
}

// Vehicle returns one vehicle or NotFound.
func (r *Roster) Vehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := r.store.Vehicles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, missing(db.VehiclesCollection, id)
	}
	return v, nil
}

// AddVehicle stores a new, available vehicle.
func (r *Roster) AddVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	v.ID = ""
	v.Status = models.VehicleAvailable
	v.TotalTrips = 0
	if err := validationError(validation.Struct(&v)); err != nil {
		return nil, err
	}
	id, err := r.store.Vehicles.Create(ctx, &v)
	if err != nil {
		return nil, err
	}
	v.ID = id
	r.log.WithField("vehicle_id", id).Info("vehicle added")
	r.pub.Publish(ctx, events.Event{Entity: events.EntityVehicle, ID: id, Type: events.TypeCreated, To: string(v.Status), At: r.now().UTC()})
	return &v, nil
}

// UpdateVehicle replaces a vehicle's registration details, keeping its status
// and trip counter.
func (r *Roster) UpdateVehicle(ctx context.Context, id string, v models.Vehicle) (*models.Vehicle, error) {
	var ruleErr error
	err := r.store.Vehicles.RunAtomic(ctx, id, func(cur *models.Vehicle) (db.Fields, error) {
		ruleErr = nil
		if cur == nil {
			ruleErr = missing(db.VehiclesCollection, id)
			return nil, ruleErr
		}
		v.ID = id
		v.Status = cur.Status
		v.TotalTrips = cur.TotalTrips
		if ruleErr = validationError(validation.Struct(&v)); ruleErr != nil {
			return nil, ruleErr
		}
		return db.Fields{
			"vehicleName":         v.VehicleName,
			"year":                v.Year,
			"vehicleType":         v.VehicleType,
			"vin":                 v.VIN,
			"chassisNumber":       v.ChassisNumber,
			"engineNumber":        v.EngineNumber,
			"rcExpiryDate":        v.RCExpiryDate,
			"pollutionExpiryDate": v.PollutionExpiryDate,
			"insuranceExpiryDate": v.InsuranceExpiryDate,
			"permitExpiryDate":    v.PermitExpiryDate,
		}, nil
	})
	if ruleErr != nil {
		return nil, ruleErr
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RemoveVehicle deletes a vehicle that is not on a Started trip.
func (r *Roster) RemoveVehicle(ctx context.Context, id string) error {
	if _, err := r.Vehicle(ctx, id); err != nil {
		return err
	}
	active, err := startedTrips(ctx, r.store, "vehicleID", id, "")
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return ErrInUse
	}
	if err := r.store.Vehicles.Delete(ctx, id); err != nil {
		return err
	}
	r.log.WithField("vehicle_id", id).Info("vehicle removed")
	r.pub.Publish(ctx, events.Event{Entity: events.EntityVehicle, ID: id, Type: events.TypeDeleted, At: r.now().UTC()})
	return nil
}

// ExpiringDocuments lists vehicle documents expiring within the window,
// soonest first.
func (r *Roster) ExpiringDocuments(ctx context.Context, within time.Duration) ([]models.ExpiringDocument, error) {
	vehicles, err := r.Vehicles(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var out []models.ExpiringDocument
	for i := range vehicles {
		out = append(out, vehicles[i].ExpiringDocuments(now, within)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}
