// Package events publishes fleet lifecycle events to subscribers outside the
// store, such as dispatch consoles and telematics bridges.
package events

import (
	"context"
	"fmt"
	"time"
)

// Entities that emit events.
const (
	EntityTrip        = "trip"
	EntityDriver      = "driver"
	EntityVehicle     = "vehicle"
	EntityMaintenance = "maintenance"
	EntityInventory   = "inventory"
)

// Event types.
const (
	TypeCreated       = "created"
	TypeStatusChanged = "status_changed"
	TypeDeleted       = "deleted"
	TypePartAdded     = "part_added"
	TypeStockChanged  = "stock_changed"
)

// Event describes one committed change.
type Event struct {
	Entity string      `json:"entity"`
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
	At     time.Time   `json:"at"`
	Data   interface{} `json:"data,omitempty"`
}

// Topic returns the topic suffix the event is published under.
func (e Event) Topic() string {
	return fmt.Sprintf("%s/%s/%s", e.Entity, e.ID, e.Type)
}

// Publisher delivers events. Publishing is best effort: failures are logged
// by the implementation and never reach the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// StatusChanged builds a transition event stamped with the current time.
func StatusChanged(entity, id, from, to string) Event {
	return Event{Entity: entity, ID: id, Type: TypeStatusChanged, From: from, To: to, At: time.Now().UTC()}
}
