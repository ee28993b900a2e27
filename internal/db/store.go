package db

import (
	"context"

	"github.com/ukydev/fleet-ops/internal/models"
)

// Store groups the typed collections of one backend.
type Store struct {
	backend     Backend
	Drivers     *Collection[models.Driver]
	Vehicles    *Collection[models.Vehicle]
	Trips       *Collection[models.Trip]
	Maintenance *Collection[models.MaintenanceRequest]
	Inventory   *Collection[models.InventoryItem]
	Users       *Collection[models.User]
}

// NewStore binds every fleet collection to backend.
func NewStore(backend Backend, retry RetryConfig) *Store {
	return &Store{
		backend:     backend,
		Drivers:     NewCollection[models.Driver](backend, DriversCollection, retry),
		Vehicles:    NewCollection[models.Vehicle](backend, VehiclesCollection, retry),
		Trips:       NewCollection[models.Trip](backend, TripsCollection, retry),
		Maintenance: NewCollection[models.MaintenanceRequest](backend, MaintenanceCollection, retry),
		Inventory:   NewCollection[models.InventoryItem](backend, InventoryCollection, retry),
		Users:       NewCollection[models.User](backend, UsersCollection, retry),
	}
}

// Close releases the backend and ends every subscription.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}
