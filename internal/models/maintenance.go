package models

import "math"

// DefaultFixedServiceCost is the flat fee charged for every service.
const DefaultFixedServiceCost = 50.00

// ReplacedPart is a part fitted while servicing a vehicle.
type ReplacedPart struct {
	Name  string  `bson:"name" json:"name" validate:"required"`
	Price float64 `bson:"price" json:"price" validate:"gte=0"`
}

// MaintenanceRequest represents a service request raised for a vehicle.
type MaintenanceRequest struct {
	ID               string            `bson:"_id,omitempty" json:"id"`
	VehicleID        string            `bson:"vehicleID" json:"vehicleID"`
	VehicleName      string            `bson:"vehicleName" json:"vehicleName"`
	DueDate          Timestamp         `bson:"dueDate" json:"dueDate"`
	ServiceType      string            `bson:"serviceType" json:"serviceType"`
	Status           MaintenanceStatus `bson:"status" json:"status"`
	FixedServiceCost float64           `bson:"fixedServiceCost" json:"fixedServiceCost"`
	ReplacedParts    []ReplacedPart    `bson:"replacedParts" json:"replacedParts"`
	TotalCost        float64           `bson:"totalCost" json:"totalCost"`
	CreatedAt        Timestamp         `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt        Timestamp         `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// IsOpen reports whether the request still blocks new requests for its vehicle.
func (m *MaintenanceRequest) IsOpen() bool {
	return m.Status.IsOpen()
}

// PartsTotal sums the prices of the replaced parts.
func (m *MaintenanceRequest) PartsTotal() float64 {
	var total float64
	for _, p := range m.ReplacedParts {
		total += p.Price
	}
	return RoundCents(total)
}

// ComputeTotal returns the fixed service cost plus the parts total.
func (m *MaintenanceRequest) ComputeTotal() float64 {
	return RoundCents(m.FixedServiceCost + m.PartsTotal())
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
