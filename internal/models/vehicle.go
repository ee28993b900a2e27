package models

import (
	"sort"
	"time"
)

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID                  string        `bson:"_id,omitempty" json:"id"`
	VehicleName         string        `bson:"vehicleName" json:"vehicleName" validate:"required"`
	Year                int           `bson:"year" json:"year" validate:"vehicle_year"`
	VehicleType         VehicleType   `bson:"vehicleType" json:"vehicleType" validate:"required,vehicle_type"`
	Status              VehicleStatus `bson:"status" json:"status"`
	TotalTrips          int           `bson:"totalTrips" json:"totalTrips" validate:"gte=0"`
	VIN                 string        `bson:"vin" json:"vin" validate:"required"`
	ChassisNumber       int64         `bson:"chassisNumber" json:"chassisNumber"`
	EngineNumber        int64         `bson:"engineNumber" json:"engineNumber"`
	RCExpiryDate        Timestamp     `bson:"rcExpiryDate" json:"rcExpiryDate"`
	PollutionExpiryDate Timestamp     `bson:"pollutionExpiryDate" json:"pollutionExpiryDate"`
	InsuranceExpiryDate Timestamp     `bson:"insuranceExpiryDate" json:"insuranceExpiryDate"`
	PermitExpiryDate    Timestamp     `bson:"permitExpiryDate" json:"permitExpiryDate"`
}

// ExpiringDocument is a vehicle document whose validity ends soon or has ended.
type ExpiringDocument struct {
	VehicleID string    `json:"vehicleID"`
	Document  string    `json:"document"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
}

// IsAvailable reports whether the vehicle can be assigned a new trip.
func (v *Vehicle) IsAvailable() bool {
	return v.Status == VehicleAvailable
}

// ExpiringDocuments lists the documents that expire before now+within,
// soonest first. Unset dates are ignored.
func (v *Vehicle) ExpiringDocuments(now time.Time, within time.Duration) []ExpiringDocument {
	docs := map[string]Timestamp{
		"registration": v.RCExpiryDate,
		"pollution":    v.PollutionExpiryDate,
		"insurance":    v.InsuranceExpiryDate,
		"permit":       v.PermitExpiryDate,
	}
	horizon := now.Add(within)
	var out []ExpiringDocument
	for name, ts := range docs {
		if ts.IsZero() || ts.After(horizon) {
			continue
		}
		out = append(out, ExpiringDocument{
			VehicleID: v.ID,
			Document:  name,
			ExpiresAt: ts.Time,
			Expired:   !ts.After(now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].Document < out[j].Document
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}
