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

// MaintenanceDraft is a service request as submitted for a vehicle.
type MaintenanceDraft struct {
	VehicleID   string    `json:"vehicleID" validate:"required"`
	DueDate     time.Time `json:"dueDate"`
	ServiceType string    `json:"serviceType" validate:"required"`
}

// MaintenanceEngine applies the maintenance request state machine and keeps
// vehicle status and stock in step with it.
type MaintenanceEngine struct {
	store     *db.Store
	inventory *Inventory
	fixedCost float64
	pub       events.Publisher
	log       *logrus.Entry
	now       func() time.Time
}

// NewMaintenanceEngine creates a maintenance engine. Parts named in the
// inventory are consumed from it when fitted. A non-positive fixedCost uses
// models.DefaultFixedServiceCost.
func NewMaintenanceEngine(store *db.Store, inventory *Inventory, fixedCost float64, opts Options) *MaintenanceEngine {
	opts = opts.withDefaults("maintenance")
	if fixedCost <= 0 {
		fixedCost = models.DefaultFixedServiceCost
	}
	return &MaintenanceEngine{
		store:     store,
		inventory: inventory,
		fixedCost: models.RoundCents(fixedCost),
		pub:       opts.Publisher,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// SubmitRequest opens a Pending request for a vehicle that has no open
// request and is not on a trip, and puts the vehicle in maintenance.
func (e *MaintenanceEngine) SubmitRequest(ctx context.Context, draft MaintenanceDraft) (*models.MaintenanceRequest, error) {
	fields := validation.Struct(&draft)
	if fields == nil {
		fields = map[string]string{}
	}
	if draft.DueDate.IsZero() {
		fields["dueDate"] = "is required"
	}
	var vehicle *models.Vehicle
	if draft.VehicleID != "" {
		v, err := e.store.Vehicles.Get(ctx, draft.VehicleID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			fields["vehicleID"] = "does not exist"
		}
		vehicle = v
	}
	if err := validationError(fields); err != nil {
		metrics.Rejection(events.EntityMaintenance, "validation")
		return nil, err
	}

	if open, err := e.OpenRequestFor(ctx, draft.VehicleID); err != nil {
		return nil, err
	} else if open != nil {
		metrics.Rejection(events.EntityMaintenance, "duplicate")
		return nil, &DuplicateRequestError{RequestID: open.ID, Status: open.Status}
	}
	if err := vehicleOnTrip(ctx, e.store, vehicle); err != nil {
		if errors.Is(err, ErrInUse) {
			metrics.Rejection(events.EntityMaintenance, "vehicle_on_trip")
		}
		return nil, err
	}

	now := models.NewTimestamp(e.now())
	req := &models.MaintenanceRequest{
		VehicleID:        vehicle.ID,
		VehicleName:      vehicle.VehicleName,
		DueDate:          models.NewTimestamp(draft.DueDate),
		ServiceType:      draft.ServiceType,
		Status:           models.MaintenancePending,
		FixedServiceCost: e.fixedCost,
		ReplacedParts:    []models.ReplacedPart{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	id, err := e.store.Maintenance.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	req.ID = id

	// Two submits can pass the check above together; the later one backs out.
	if winner, err := e.earliestOpen(ctx, vehicle.ID); err != nil {
		return nil, err
	} else if winner != nil && winner.ID != id {
		if err := e.store.Maintenance.Delete(ctx, id); err != nil {
			e.log.WithError(err).WithField("request_id", id).Error("failed to remove duplicate request")
		}
		metrics.Rejection(events.EntityMaintenance, "duplicate")
		return nil, &DuplicateRequestError{RequestID: winner.ID, Status: winner.Status}
	}

	e.log.WithFields(logrus.Fields{"request_id": id, "vehicle_id": vehicle.ID, "service": draft.ServiceType}).Info("maintenance request submitted")
	e.pub.Publish(ctx, events.Event{
		Entity: events.EntityMaintenance, ID: id, Type: events.TypeCreated,
		To: string(models.MaintenancePending), At: now.Time, Data: req,
	})

	var errs []error
	if err := e.store.Vehicles.Update(ctx, vehicle.ID, db.Fields{"status": models.VehicleInMaintenance}, true); ignoreMissing(err) != nil {
		errs = append(errs, fmt.Errorf("vehicle %s: %w", vehicle.ID, err))
	}
	return req, e.followUp("submit_maintenance", id, errs)
}

// ChangeStatus moves a request forward. Completed is handled by Complete.
// Work cannot start while the vehicle is on a trip.
func (e *MaintenanceEngine) ChangeStatus(ctx context.Context, id string, to models.MaintenanceStatus) (*models.MaintenanceRequest, error) {
	if to == models.MaintenanceCompleted {
		return e.Complete(ctx, id)
	}
	if to == models.MaintenanceInProgress {
		if err := e.vehicleFree(ctx, id); err != nil {
			return nil, err
		}
	}

	var (
		req     *models.MaintenanceRequest
		from    models.MaintenanceStatus
		ruleErr error
	)
	err := e.store.Maintenance.RunAtomic(ctx, id, func(cur *models.MaintenanceRequest) (db.Fields, error) {
		req, ruleErr = nil, nil
		if cur == nil {
			ruleErr = missing(db.MaintenanceCollection, id)
			return nil, ruleErr
		}
		from = cur.Status
		if !CanTransitionMaintenance(from, to) {
			ruleErr = &TransitionError{Entity: events.EntityMaintenance, From: string(from), To: string(to)}
			return nil, ruleErr
		}
		now := models.NewTimestamp(e.now())
		cur.Status = to
		cur.UpdatedAt = now
		req = cur
		return db.Fields{"status": to, "updatedAt": now}, nil
	})
	if err := e.refused(ruleErr, err); err != nil {
		return nil, err
	}
	e.committed(ctx, req, from)

	var errs []error
	switch to {
	case models.MaintenanceInProgress:
		if err := e.store.Vehicles.Update(ctx, req.VehicleID, db.Fields{"status": models.VehicleInMaintenance}, true); ignoreMissing(err) != nil {
			errs = append(errs, fmt.Errorf("vehicle %s: %w", req.VehicleID, err))
		}
	case models.MaintenanceRejected:
		if err := e.releaseVehicle(ctx, req.VehicleID); err != nil {
			errs = append(errs, err)
		}
	}
	return req, e.followUp("maintenance_status", id, errs)
}

// AddReplacedPart appends a part to an open request. Parts tracked in the
// inventory consume one unit of stock.
func (e *MaintenanceEngine) AddReplacedPart(ctx context.Context, id string, part models.ReplacedPart) (*models.MaintenanceRequest, error) {
	if err := validationError(validation.Struct(&part)); err != nil {
		metrics.Rejection(events.EntityMaintenance, "validation")
		return nil, err
	}
	part.Price = models.RoundCents(part.Price)

	current, err := e.store.Maintenance.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, missing(db.MaintenanceCollection, id)
	}
	if !current.IsOpen() {
		return nil, e.locked(current)
	}

	consumed := false
	if e.inventory != nil {
		tracked, err := e.inventory.Tracked(ctx, part.Name)
		if err != nil {
			return nil, err
		}
		if tracked {
			if _, err := e.inventory.Consume(ctx, part.Name, 1); err != nil {
				return nil, err
			}
			consumed = true
		}
	}

	var (
		req     *models.MaintenanceRequest
		ruleErr error
	)
	err = e.store.Maintenance.RunAtomic(ctx, id, func(cur *models.MaintenanceRequest) (db.Fields, error) {
		req, ruleErr = nil, nil
		if cur == nil {
			ruleErr = missing(db.MaintenanceCollection, id)
			return nil, ruleErr
		}
		if !cur.IsOpen() {
			ruleErr = e.locked(cur)
			return nil, ruleErr
		}
		cur.ReplacedParts = append(cur.ReplacedParts, part)
		cur.UpdatedAt = models.NewTimestamp(e.now())
		req = cur
		return db.Fields{"replacedParts": cur.ReplacedParts, "updatedAt": cur.UpdatedAt}, nil
	})
	if ruleErr == nil && err == nil {
		e.log.WithFields(logrus.Fields{"request_id": id, "part": part.Name, "price": part.Price}).Info("replaced part added")
		e.pub.Publish(ctx, events.Event{Entity: events.EntityMaintenance, ID: id, Type: events.TypePartAdded, Data: part})
		return req, nil
	}

	if consumed {
		if _, rerr := e.inventory.Restock(ctx, StockItem{Name: part.Name, Quantity: 1}); rerr != nil {
			e.log.WithError(rerr).WithField("part", part.Name).Error("failed to return stock for rejected part")
		}
	}
	if ruleErr != nil {
		return nil, ruleErr
	}
	return nil, err
}

// Complete closes an In Progress request, fixing its total cost, and
// releases the vehicle.
func (e *MaintenanceEngine) Complete(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	var (
		req     *models.MaintenanceRequest
		from    models.MaintenanceStatus
		ruleErr error
	)
	err := e.store.Maintenance.RunAtomic(ctx, id, func(cur *models.MaintenanceRequest) (db.Fields, error) {
		req, ruleErr = nil, nil
		if cur == nil {
			ruleErr = missing(db.MaintenanceCollection, id)
			return nil, ruleErr
		}
		from = cur.Status
		if !CanTransitionMaintenance(from, models.MaintenanceCompleted) {
			ruleErr = &TransitionError{Entity: events.EntityMaintenance, From: string(from), To: string(models.MaintenanceCompleted)}
			return nil, ruleErr
		}
		if cur.ReplacedParts == nil {
			cur.ReplacedParts = []models.ReplacedPart{}
		}
		cur.Status = models.MaintenanceCompleted
		cur.TotalCost = cur.ComputeTotal()
		cur.UpdatedAt = models.NewTimestamp(e.now())
		req = cur
		return db.Fields{
			"status":        cur.Status,
			"replacedParts": cur.ReplacedParts,
			"totalCost":     cur.TotalCost,
			"updatedAt":     cur.UpdatedAt,
		}, nil
	})
	if err := e.refused(ruleErr, err); err != nil {
		return nil, err
	}
	e.committed(ctx, req, from)

	var errs []error
	if err := e.releaseVehicle(ctx, req.VehicleID); err != nil {
		errs = append(errs, err)
	}
	return req, e.followUp("complete_maintenance", id, errs)
}

// Get returns one request.
func (e *MaintenanceEngine) Get(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	req, err := e.store.Maintenance.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, missing(db.MaintenanceCollection, id)
	}
	return req, nil
}

// ListByStatus returns requests in any of the given statuses, or all of them
// when none is given.
func (e *MaintenanceEngine) ListByStatus(ctx context.Context, statuses ...models.MaintenanceStatus) ([]models.MaintenanceRequest, error) {
	if len(statuses) == 0 {
		return e.store.Maintenance.Query(ctx, db.All)
	}
	return e.store.Maintenance.Query(ctx, db.Where("status", db.OpIn, statuses))
}

// OpenRequestFor returns the open request of a vehicle, or nil.
func (e *MaintenanceEngine) OpenRequestFor(ctx context.Context, vehicleID string) (*models.MaintenanceRequest, error) {
	return e.earliestOpen(ctx, vehicleID)
}

func (e *MaintenanceEngine) earliestOpen(ctx context.Context, vehicleID string) (*models.MaintenanceRequest, error) {
	open, err := openRequests(ctx, e.store, vehicleID)
	if err != nil || len(open) == 0 {
		return nil, err
	}
	first := open[0]
	for _, r := range open[1:] {
		if r.CreatedAt.Before(first.CreatedAt.Time) || (r.CreatedAt.Equal(first.CreatedAt.Time) && r.ID < first.ID) {
			first = r
		}
	}
	return &first, nil
}

// vehicleFree refuses to start work on a request whose vehicle is on a trip.
// Requests that cannot move to In Progress are left for ChangeStatus to refuse.
func (e *MaintenanceEngine) vehicleFree(ctx context.Context, id string) error {
	req, err := e.store.Maintenance.Get(ctx, id)
	if err != nil || req == nil || !CanTransitionMaintenance(req.Status, models.MaintenanceInProgress) {
		return err
	}
	vehicle, err := e.store.Vehicles.Get(ctx, req.VehicleID)
	if err != nil || vehicle == nil {
		return err
	}
	if err := vehicleOnTrip(ctx, e.store, vehicle); err != nil {
		if errors.Is(err, ErrInUse) {
			metrics.Rejection(events.EntityMaintenance, "vehicle_on_trip")
		}
		return err
	}
	return nil
}

// releaseVehicle returns a vehicle in maintenance to service. A vehicle with
// a Started trip keeps its status.
func (e *MaintenanceEngine) releaseVehicle(ctx context.Context, vehicleID string) error {
	active, err := startedTrips(ctx, e.store, "vehicleID", vehicleID, "")
	if err != nil {
		return fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	if len(active) > 0 {
		e.log.WithFields(logrus.Fields{"vehicle_id": vehicleID, "trip_id": active[0].ID}).Warn("vehicle is on a started trip, leaving its status")
		return nil
	}
	err = e.store.Vehicles.RunAtomic(ctx, vehicleID, func(cur *models.Vehicle) (db.Fields, error) {
		if cur == nil || cur.Status != models.VehicleInMaintenance {
			return nil, nil
		}
		return db.Fields{"status": models.VehicleAvailable}, nil
	})
	if err != nil {
		return fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	return nil
}

func (e *MaintenanceEngine) locked(req *models.MaintenanceRequest) error {
	metrics.Rejection(events.EntityMaintenance, "locked")
	return fmt.Errorf("%w: request %s is %s", ErrRequestLocked, req.ID, req.Status)
}

func (e *MaintenanceEngine) refused(ruleErr, err error) error {
	if ruleErr != nil {
		if errors.Is(ruleErr, ErrInvalidTransition) {
			metrics.Rejection(events.EntityMaintenance, "invalid_transition")
		}
		return ruleErr
	}
	return err
}

func (e *MaintenanceEngine) committed(ctx context.Context, req *models.MaintenanceRequest, from models.MaintenanceStatus) {
	metrics.Transition(events.EntityMaintenance, string(from), string(req.Status))
	e.log.WithFields(logrus.Fields{"request_id": req.ID, "from": from, "to": req.Status}).Info("maintenance status changed")
	e.pub.Publish(ctx, events.StatusChanged(events.EntityMaintenance, req.ID, string(from), string(req.Status)))
}

func (e *MaintenanceEngine) followUp(op, id string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	metrics.FollowUpFailure(op)
	e.log.WithError(err).WithFields(logrus.Fields{"request_id": id, "op": op}).Error("maintenance follow-up failed")
	return &FollowUpError{Op: op, Err: err}
}
