package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Trip represents a journey assigned to a driver and a vehicle.
type Trip struct {
	ID             string      `bson:"_id,omitempty" json:"id"`
	StartLocation  string      `bson:"startLocation" json:"startLocation"`
	EndLocation    string      `bson:"endLocation" json:"endLocation"`
	VehicleType    VehicleType `bson:"vehicleType" json:"vehicleType"`
	VehicleID      string      `bson:"vehicleID" json:"vehicleID"`
	DriverID       string      `bson:"driver" json:"driver"`
	ETA            string      `bson:"eta" json:"eta"`           // minutes, as captured from routing
	Distance       string      `bson:"distance" json:"distance"` // leading number in km unless a unit says otherwise
	StartDate      Timestamp   `bson:"startDate" json:"startDate"`
	EndDate        Timestamp   `bson:"endDate" json:"endDate"`
	Status         TripStatus  `bson:"status" json:"status"`
	VehicleCounted bool        `bson:"vehicleCounted,omitempty" json:"-"`
	DriverCounted  bool        `bson:"driverCounted,omitempty" json:"-"`
	CreatedAt      Timestamp   `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt      Timestamp   `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

var quantityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]*)`)

// ETADuration parses the captured eta. Bare numbers are minutes; "h"/"hr"/"hour"
// and "min"/"mins"/"minute" suffixes are honoured, so "1 hr 20 mins" is 80 minutes.
func (t *Trip) ETADuration() (time.Duration, error) {
	return ParseETA(t.ETA)
}

// DistanceKm parses the captured distance into kilometres.
func (t *Trip) DistanceKm() (float64, error) {
	return ParseDistanceKm(t.Distance)
}

// ParseETA converts a routing eta string into a duration.
func ParseETA(s string) (time.Duration, error) {
	matches := quantityPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("eta %q has no numeric value", s)
	}
	var minutes float64
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("eta %q: %w", s, err)
		}
		switch unit := strings.ToLower(m[2]); {
		case unit == "" || strings.HasPrefix(unit, "m"):
			minutes += n
		case strings.HasPrefix(unit, "h"):
			minutes += n * 60
		case strings.HasPrefix(unit, "d"):
			minutes += n * 24 * 60
		case strings.HasPrefix(unit, "s"):
			minutes += n / 60
		default:
			return 0, fmt.Errorf("eta %q has unknown unit %q", s, m[2])
		}
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}

// ParseDistanceKm converts a routing distance string into kilometres.
func ParseDistanceKm(s string) (float64, error) {
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("distance %q has no numeric value", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("distance %q: %w", s, err)
	}
	switch unit := strings.ToLower(m[2]); unit {
	case "", "km", "kms", "kilometer", "kilometers", "kilometre", "kilometres":
		return n, nil
	case "m", "meter", "meters", "metre", "metres":
		return n / 1000, nil
	case "mi", "mile", "miles":
		return n * 1.609344, nil
	default:
		return 0, fmt.Errorf("distance %q has unknown unit %q", s, m[2])
	}
}
