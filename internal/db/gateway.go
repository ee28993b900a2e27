package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection names shared by every backend.
const (
	DriversCollection     = "drivers"
	VehiclesCollection    = "vehicles"
	TripsCollection       = "trips"
	MaintenanceCollection = "maintenanceRequests"
	InventoryCollection   = "inventory"
	UsersCollection       = "users"
)

// revField holds the optimistic-concurrency token on backends that need one.
const revField = "_rev"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an atomic write lost a race with another writer.
	ErrConflict = errors.New("write conflict")
	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrClosed is returned when using a backend after Close.
	ErrClosed = errors.New("store closed")
)

// Document is the schema-less representation of a stored record.
type Document = bson.M

// Fields is a set of top-level field writes keyed by wire name.
type Fields = bson.M

// MutateFunc inspects the current document and returns the fields to write.
// Returning nil fields skips the write.
type MutateFunc func(current Document) (Fields, error)

// Backend is the document store behind the gateway.
type Backend interface {
	// Insert stores doc and returns its id. A non-empty "_id" is honoured.
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	// Update writes fields into the record. With merge=false the record is replaced.
	Update(ctx context.Context, collection, id string, fields Fields, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	// Get returns ErrNotFound when the record is absent.
	Get(ctx context.Context, collection, id string) (Document, error)
	Find(ctx context.Context, collection string, filter Filter) ([]Document, error)
	// Watch pushes the full matching snapshot once, then after every matching mutation.
	Watch(ctx context.Context, collection string, filter Filter, onChange func([]Document)) (Subscription, error)
	// Atomic performs one read-modify-write attempt; ErrConflict means it may be retried.
	Atomic(ctx context.Context, collection, id string, fn MutateFunc) error
	Close(ctx context.Context) error
}

// Subscription is a live listener registration.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once and from inside the callback.
	Close() error
	// Done is closed once the last callback has returned.
	Done() <-chan struct{}
	// Err reports why the subscription ended on its own, if it did.
	Err() error
}

// StoreError wraps a backend failure with the operation that caused it.
type StoreError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrapErr(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, ID: id, Err: err}
}

// IsNotFound reports whether err means the record is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
