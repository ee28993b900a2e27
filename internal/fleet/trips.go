package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/metrics"
	"github.com/ukydev/fleet-ops/internal/models"
	"github.com/ukydev/fleet-ops/internal/validation"
)

const (
	vehicleCountedField = "vehicleCounted"
	driverCountedField  = "driverCounted"
)

// TripDraft is what a fleet manager submits to schedule a trip.
type TripDraft struct {
	StartLocation string             `json:"startLocation" validate:"required"`
	EndLocation   string             `json:"endLocation" validate:"required"`
	VehicleType   models.VehicleType `json:"vehicleType" validate:"required,vehicle_type"`
	VehicleID     string             `json:"vehicleID" validate:"required"`
	DriverID      string             `json:"driver" validate:"required"`
	ETA           string             `json:"eta" validate:"required"`
	Distance      string             `json:"distance" validate:"required"`
	StartDate     time.Time          `json:"startDate"`
}

// TripDetails is a trip with its optional driver and vehicle.
type TripDetails struct {
	Trip       models.Trip     `json:"trip"`
	Driver     *models.Driver  `json:"driverRecord,omitempty"`
	Vehicle    *models.Vehicle `json:"vehicle,omitempty"`
	DriverName string          `json:"driverName"`
}

// TripEngine applies the trip state machine and its effects on drivers and vehicles.
type TripEngine struct {
	store *db.Store
	pub   events.Publisher
	log   *logrus.Entry
	now   func() time.Time
}

// NewTripEngine creates a trip engine over store.
func NewTripEngine(store *db.Store, opts Options) *TripEngine {
	opts = opts.withDefaults("trips")
	return &TripEngine{store: store, pub: opts.Publisher, log: opts.Logger, now: opts.Now}
}

// Create validates the draft against the current driver and vehicle and
// stores a Pending trip. Nothing is written when validation fails.
func (e *TripEngine) Create(ctx context.Context, draft TripDraft) (*models.Trip, error) {
	fields := validation.Struct(&draft)
	if fields == nil {
		fields = map[string]string{}
	}

	eta, etaErr := models.ParseETA(draft.ETA)
	if draft.ETA != "" && etaErr != nil {
		fields["eta"] = "must be a duration in minutes"
	}
	if _, err := models.ParseDistanceKm(draft.Distance); draft.Distance != "" && err != nil {
		fields["distance"] = "must start with a distance in km"
	}

	if draft.VehicleID != "" {
		vehicle, err := e.store.Vehicles.Get(ctx, draft.VehicleID)
		if err != nil {
			return nil, err
		}
		switch {
		case vehicle == nil:
			fields["vehicleID"] = "does not exist"
		case !vehicle.IsAvailable():
			fields["vehicleID"] = fmt.Sprintf("vehicle is %s", vehicle.Status)
		case draft.VehicleType != "" && vehicle.VehicleType != draft.VehicleType:
			fields["vehicleType"] = fmt.Sprintf("does not match vehicle type %s", vehicle.VehicleType)
		}
	}
	if draft.DriverID != "" {
		driver, err := e.store.Drivers.Get(ctx, draft.DriverID)
		if err != nil {
			return nil, err
		}
		switch {
		case driver == nil:
			fields["driver"] = "does not exist"
		case !driver.IsAvailable():
			fields["driver"] = "driver is unavailable"
		}
	}

	if err := validationError(fields); err != nil {
		metrics.Rejection(events.EntityTrip, "validation")
		return nil, err
	}

	now := e.now()
	start := draft.StartDate
	if start.IsZero() {
		start = now
	}
	trip := &models.Trip{
		StartLocation: draft.StartLocation,
		EndLocation:   draft.EndLocation,
		VehicleType:   draft.VehicleType,
		VehicleID:     draft.VehicleID,
		DriverID:      draft.DriverID,
		ETA:           draft.ETA,
		Distance:      draft.Distance,
		StartDate:     models.NewTimestamp(start),
		EndDate:       models.NewTimestamp(start.Add(eta)),
		Status:        models.TripPending,
		CreatedAt:     models.NewTimestamp(now),
		UpdatedAt:     models.NewTimestamp(now),
	}
	id, err := e.store.Trips.Create(ctx, trip)
	if err != nil {
		return nil, err
	}
	trip.ID = id

	e.log.WithFields(logrus.Fields{"trip_id": id, "driver_id": trip.DriverID, "vehicle_id": trip.VehicleID}).Info("trip created")
	e.pub.Publish(ctx, events.Event{
		Entity: events.EntityTrip, ID: id, Type: events.TypeCreated,
		To: string(models.TripPending), At: now.UTC(), Data: trip,
	})
	return trip, nil
}

// Accept moves a Pending trip to Accepted.
func (e *TripEngine) Accept(ctx context.Context, id string) (*models.Trip, error) {
	return e.transition(ctx, id, models.TripAccepted)
}

// Decline moves a Pending trip to Declined.
func (e *TripEngine) Decline(ctx context.Context, id string) (*models.Trip, error) {
	return e.transition(ctx, id, models.TripDeclined)
}

// Start moves an Accepted trip to Started, then marks the driver unavailable
// and the vehicle on Trip. A vehicle in maintenance or with an open request
// cannot start. A failure of the follow-ups is returned as a *FollowUpError
// alongside the started trip.
func (e *TripEngine) Start(ctx context.Context, id string) (*models.Trip, error) {
	if err := e.vehicleServiceable(ctx, id); err != nil {
		return nil, err
	}
	trip, err := e.transition(ctx, id, models.TripStarted)
	if err != nil {
		return nil, err
	}

	var errs []error
	if err := e.store.Drivers.Update(ctx, trip.DriverID, db.Fields{"driverStatus": models.DriverUnavailable}, true); ignoreMissing(err) != nil {
		errs = append(errs, fmt.Errorf("driver %s: %w", trip.DriverID, err))
	}
	if err := e.store.Vehicles.Update(ctx, trip.VehicleID, db.Fields{"status": models.VehicleOnTrip}, true); ignoreMissing(err) != nil {
		errs = append(errs, fmt.Errorf("vehicle %s: %w", trip.VehicleID, err))
	}
	return trip, e.followUp("start_trip", trip.ID, errs)
}

// vehicleServiceable refuses with ErrInUse when the trip's vehicle is being
// serviced. Trips that cannot start are left for transition to refuse.
func (e *TripEngine) vehicleServiceable(ctx context.Context, id string) error {
	trip, err := e.store.Trips.Get(ctx, id)
	if err != nil || trip == nil || !CanTransitionTrip(trip.Status, models.TripStarted) {
		return err
	}
	vehicle, err := e.store.Vehicles.Get(ctx, trip.VehicleID)
	if err != nil {
		return err
	}
	if vehicle != nil && vehicle.Status == models.VehicleInMaintenance {
		metrics.Rejection(events.EntityTrip, "vehicle_in_maintenance")
		return fmt.Errorf("%w: vehicle %s is %s", ErrInUse, vehicle.ID, vehicle.Status)
	}
	open, err := openRequests(ctx, e.store, trip.VehicleID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		metrics.Rejection(events.EntityTrip, "vehicle_in_maintenance")
		return fmt.Errorf("%w: vehicle %s has open maintenance request %s", ErrInUse, trip.VehicleID, open[0].ID)
	}
	return nil
}

// Complete moves a Started trip to Completed and credits the vehicle and
// driver counters exactly once.
func (e *TripEngine) Complete(ctx context.Context, id string) (*models.Trip, error) {
	trip, err := e.transition(ctx, id, models.TripCompleted)
	if err != nil {
		return nil, err
	}
	return trip, e.applyCompletion(ctx, trip)
}

// ReconcileCounters re-applies completion follow-ups that did not land for
// a Completed trip. Calling it again has no further effect.
func (e *TripEngine) ReconcileCounters(ctx context.Context, id string) (*models.Trip, error) {
	trip, err := e.store.Trips.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, missing(db.TripsCollection, id)
	}
	if trip.Status != models.TripCompleted {
		return nil, &TransitionError{Entity: events.EntityTrip, From: string(trip.Status), To: "reconciled"}
	}
	if err := e.applyCompletion(ctx, trip); err != nil {
		return trip, err
	}
	return e.store.Trips.Get(ctx, id)
}

// SetDriverAvailability toggles a driver. A driver on a Started trip cannot
// be made available.
func (e *TripEngine) SetDriverAvailability(ctx context.Context, driverID string, available bool) (*models.Driver, error) {
	to := models.DriverUnavailable
	if available {
		to = models.DriverAvailable
		active, err := startedTrips(ctx, e.store, "driver", driverID, "")
		if err != nil {
			return nil, err
		}
		if len(active) > 0 {
			metrics.Rejection(events.EntityDriver, "on_trip")
			return nil, &TransitionError{Entity: events.EntityDriver, From: "on trip " + active[0].ID, To: string(to)}
		}
	}

	var (
		driver  *models.Driver
		from    models.DriverStatus
		ruleErr error
	)
	err := e.store.Drivers.RunAtomic(ctx, driverID, func(cur *models.Driver) (db.Fields, error) {
		driver, ruleErr = nil, nil
		if cur == nil {
			ruleErr = missing(db.DriversCollection, driverID)
			return nil, ruleErr
		}
		from = cur.DriverStatus
		cur.DriverStatus = to
		driver = cur
		if from == to {
			return nil, nil
		}
		return db.Fields{"driverStatus": to}, nil
	})
	if ruleErr != nil {
		return nil, ruleErr
	}
	if err != nil {
		return nil, err
	}
	if from != to {
		metrics.Transition(events.EntityDriver, string(from), string(to))
		e.pub.Publish(ctx, events.StatusChanged(events.EntityDriver, driverID, string(from), string(to)))
		e.log.WithFields(logrus.Fields{"driver_id": driverID, "status": to}).Info("driver availability changed")
	}
	return driver, nil
}

// Delete removes a trip that was never accepted.
func (e *TripEngine) Delete(ctx context.Context, id string) error {
	trip, err := e.store.Trips.Get(ctx, id)
	if err != nil {
		return err
	}
	if trip == nil {
		return missing(db.TripsCollection, id)
	}
	if trip.Status != models.TripPending && trip.Status != models.TripDeclined {
		metrics.Rejection(events.EntityTrip, "delete_after_accept")
		return &TransitionError{Entity: events.EntityTrip, From: string(trip.Status), To: "deleted"}
	}
	if err := e.store.Trips.Delete(ctx, id); err != nil {
		return err
	}
	e.log.WithField("trip_id", id).Info("trip deleted")
	e.pub.Publish(ctx, events.Event{Entity: events.EntityTrip, ID: id, Type: events.TypeDeleted, From: string(trip.Status)})
	return nil
}

// Details returns the trip with its driver and vehicle when they still exist.
func (e *TripEngine) Details(ctx context.Context, id string) (*TripDetails, error) {
	trip, err := e.store.Trips.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, missing(db.TripsCollection, id)
	}
	details := &TripDetails{Trip: *trip}
	if trip.DriverID != "" {
		if details.Driver, err = e.store.Drivers.Get(ctx, trip.DriverID); err != nil {
			return nil, err
		}
	}
	if trip.VehicleID != "" {
		if details.Vehicle, err = e.store.Vehicles.Get(ctx, trip.VehicleID); err != nil {
			return nil, err
		}
	}
	details.DriverName = models.DriverName(details.Driver)
	return details, nil
}

// List returns every trip.
func (e *TripEngine) List(ctx context.Context) ([]models.Trip, error) {
	return e.store.Trips.Query(ctx, db.All)
}

// TripsByStatus returns the trips in any of the given statuses.
func (e *TripEngine) TripsByStatus(ctx context.Context, statuses ...models.TripStatus) ([]models.Trip, error) {
	return e.store.Trips.Query(ctx, db.Where("status", db.OpIn, statuses))
}

// TripsByDriver returns the trips assigned to a driver.
func (e *TripEngine) TripsByDriver(ctx context.Context, driverID string) ([]models.Trip, error) {
	return e.store.Trips.Query(ctx, db.Where("driver", db.OpEq, driverID))
}

// AvailableVehicles returns available vehicles, limited to one type when vt is set.
func (e *TripEngine) AvailableVehicles(ctx context.Context, vt models.VehicleType) ([]models.Vehicle, error) {
	filter := db.Where("status", db.OpEq, models.VehicleAvailable)
	if vt != "" {
		filter = filter.And("vehicleType", db.OpEq, vt)
	}
	return e.store.Vehicles.Query(ctx, filter)
}

// AvailableDrivers returns drivers that can take a trip.
func (e *TripEngine) AvailableDrivers(ctx context.Context) ([]models.Driver, error) {
	return e.store.Drivers.Query(ctx, db.Where("driverStatus", db.OpEq, models.DriverAvailable))
}

func (e *TripEngine) transition(ctx context.Context, id string, to models.TripStatus) (*models.Trip, error) {
	var (
		trip    *models.Trip
		from    models.TripStatus
		ruleErr error
	)
	err := e.store.Trips.RunAtomic(ctx, id, func(cur *models.Trip) (db.Fields, error) {
		trip, ruleErr = nil, nil
		if cur == nil {
			ruleErr = missing(db.TripsCollection, id)
			return nil, ruleErr
		}
		from = cur.Status
		if !CanTransitionTrip(from, to) {
			ruleErr = &TransitionError{Entity: events.EntityTrip, From: string(from), To: string(to)}
			return nil, ruleErr
		}
		now := models.NewTimestamp(e.now())
		cur.Status = to
		cur.UpdatedAt = now
		trip = cur
		return db.Fields{"status": to, "updatedAt": now}, nil
	})
	if ruleErr != nil {
		if errors.Is(ruleErr, ErrInvalidTransition) {
			metrics.Rejection(events.EntityTrip, "invalid_transition")
			e.log.WithFields(logrus.Fields{"trip_id": id, "from": from, "to": to}).Debug("trip transition refused")
		}
		return nil, ruleErr
	}
	if err != nil {
		return nil, err
	}

	metrics.Transition(events.EntityTrip, string(from), string(to))
	e.log.WithFields(logrus.Fields{"trip_id": id, "from": from, "to": to}).Info("trip status changed")
	e.pub.Publish(ctx, events.StatusChanged(events.EntityTrip, id, string(from), string(to)))
	return trip, nil
}

func (e *TripEngine) applyCompletion(ctx context.Context, trip *models.Trip) error {
	var errs []error
	if err := e.creditVehicle(ctx, trip); err != nil {
		errs = append(errs, err)
	}
	if err := e.creditDriver(ctx, trip); err != nil {
		errs = append(errs, err)
	}
	return e.followUp("complete_trip", trip.ID, errs)
}

func (e *TripEngine) creditVehicle(ctx context.Context, trip *models.Trip) error {
	claimed, err := e.claim(ctx, trip.ID, vehicleCountedField)
	if err != nil || !claimed {
		return err
	}
	others, err := startedTrips(ctx, e.store, "vehicleID", trip.VehicleID, trip.ID)
	if err != nil {
		e.release(ctx, trip.ID, vehicleCountedField)
		return err
	}
	err = e.store.Vehicles.RunAtomic(ctx, trip.VehicleID, func(cur *models.Vehicle) (db.Fields, error) {
		if cur == nil {
			return nil, nil
		}
		fields := db.Fields{"totalTrips": cur.TotalTrips + 1}
		if cur.Status == models.VehicleOnTrip && len(others) == 0 {
			fields["status"] = models.VehicleAvailable
		}
		return fields, nil
	})
	if err != nil {
		e.release(ctx, trip.ID, vehicleCountedField)
		return fmt.Errorf("vehicle %s: %w", trip.VehicleID, err)
	}
	return nil
}

func (e *TripEngine) creditDriver(ctx context.Context, trip *models.Trip) error {
	claimed, err := e.claim(ctx, trip.ID, driverCountedField)
	if err != nil || !claimed {
		return err
	}
	km, err := trip.DistanceKm()
	if err != nil {
		e.log.WithError(err).WithField("trip_id", trip.ID).Warn("trip distance unreadable, crediting 0 km")
		km = 0
	}
	others, err := startedTrips(ctx, e.store, "driver", trip.DriverID, trip.ID)
	if err != nil {
		e.release(ctx, trip.ID, driverCountedField)
		return err
	}
	err = e.store.Drivers.RunAtomic(ctx, trip.DriverID, func(cur *models.Driver) (db.Fields, error) {
		if cur == nil {
			return nil, nil
		}
		fields := db.Fields{
			"totalTrips":       cur.TotalTrips + 1,
			"distanceTraveled": models.RoundCents(cur.DistanceTraveled + km),
		}
		if len(others) == 0 && cur.DriverStatus != models.DriverAvailable {
			fields["driverStatus"] = models.DriverAvailable
		}
		return fields, nil
	})
	if err != nil {
		e.release(ctx, trip.ID, driverCountedField)
		return fmt.Errorf("driver %s: %w", trip.DriverID, err)
	}
	return nil
}

// claim sets a counted flag on the trip and reports whether this call set it.
func (e *TripEngine) claim(ctx context.Context, tripID, flag string) (bool, error) {
	claimed := false
	err := e.store.Trips.RunAtomic(ctx, tripID, func(cur *models.Trip) (db.Fields, error) {
		claimed = false
		if cur == nil {
			return nil, missing(db.TripsCollection, tripID)
		}
		done := cur.VehicleCounted
		if flag == driverCountedField {
			done = cur.DriverCounted
		}
		if done {
			return nil, nil
		}
		claimed = true
		return db.Fields{flag: true}, nil
	})
	return claimed, err
}

func (e *TripEngine) release(ctx context.Context, tripID, flag string) {
	if err := e.store.Trips.Update(ctx, tripID, db.Fields{flag: false}, true); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"trip_id": tripID, "flag": flag}).Error("failed to release counted flag")
	}
}

func (e *TripEngine) followUp(op, tripID string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	metrics.FollowUpFailure(op)
	e.log.WithError(err).WithFields(logrus.Fields{"trip_id": tripID, "op": op}).Error("trip follow-up failed")
	return &FollowUpError{Op: op, Err: err}
}
