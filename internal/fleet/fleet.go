// Package fleet holds the trip, maintenance and inventory rules. Engines read
// and write through an injected *db.Store and never cache entities: the store
// is the only source of truth, and its subscriptions tell observers when
// anything changed.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/models"
)

// Options carries the collaborators shared by every engine.
type Options struct {
	Publisher events.Publisher
	Logger    *logrus.Entry
	Now       func() time.Time
}

func (o Options) withDefaults(component string) Options {
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	o.Logger = o.Logger.WithField("component", component)
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

var tripTransitions = map[models.TripStatus][]models.TripStatus{
	models.TripPending:  {models.TripAccepted, models.TripDeclined},
	models.TripAccepted: {models.TripStarted},
	models.TripStarted:  {models.TripCompleted},
}

var maintenanceTransitions = map[models.MaintenanceStatus][]models.MaintenanceStatus{
	models.MaintenancePending:    {models.MaintenanceInProgress, models.MaintenanceRejected},
	models.MaintenanceInProgress: {models.MaintenanceCompleted},
}

// CanTransitionTrip reports whether a trip may move from one status to another.
func CanTransitionTrip(from, to models.TripStatus) bool {
	return allowed(tripTransitions, from, to)
}

// CanTransitionMaintenance reports whether a request may move from one status to another.
func CanTransitionMaintenance(from, to models.MaintenanceStatus) bool {
	return allowed(maintenanceTransitions, from, to)
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// missing wraps db.ErrNotFound with the entity that was looked up.
func missing(entity, id string) error {
	return &db.StoreError{Op: "get", Collection: entity, ID: id, Err: db.ErrNotFound}
}

// ignoreMissing drops not-found errors from follow-ups on dangling references.
func ignoreMissing(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	return err
}

// vehicleOnTrip refuses with ErrInUse while the vehicle is on a Started trip.
func vehicleOnTrip(ctx context.Context, store *db.Store, vehicle *models.Vehicle) error {
	active, err := startedTrips(ctx, store, "vehicleID", vehicle.ID, "")
	if err != nil {
		return err
	}
	switch {
	case len(active) > 0:
		return fmt.Errorf("%w: vehicle %s is on trip %s", ErrInUse, vehicle.ID, active[0].ID)
	case vehicle.Status == models.VehicleOnTrip:
		return fmt.Errorf("%w: vehicle %s is %s", ErrInUse, vehicle.ID, vehicle.Status)
	}
	return nil
}

// openRequests lists the Pending and In Progress requests of a vehicle.
func openRequests(ctx context.Context, store *db.Store, vehicleID string) ([]models.MaintenanceRequest, error) {
	return store.Maintenance.Query(ctx, db.Where("vehicleID", db.OpEq, vehicleID).
		And("status", db.OpIn, []models.MaintenanceStatus{models.MaintenancePending, models.MaintenanceInProgress}))
}

// startedTrips lists the Started trips whose field equals value, excluding one trip id.
func startedTrips(ctx context.Context, store *db.Store, field, value, exclude string) ([]models.Trip, error) {
	trips, err := store.Trips.Query(ctx, db.Where(field, db.OpEq, value).And("status", db.OpEq, models.TripStarted))
	if err != nil {
		return nil, err
	}
	out := trips[:0]
	for _, t := range trips {
		if t.ID != exclude {
			out = append(out, t)
		}
	}
	return out, nil
}
