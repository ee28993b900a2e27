package models

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// ErrUnknownValue is returned when a stored or submitted enum value is not
// one of the known variants.
var ErrUnknownValue = errors.New("unknown enum value")

// VehicleType is the class of a vehicle and the capability a driver holds.
type VehicleType string

const (
	VehicleTypeCar       VehicleType = "Car"
	VehicleTypeMiniTruck VehicleType = "Mini Truck"
	VehicleTypeTruck     VehicleType = "Truck"
)

// VehicleStatus is the availability state of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable     VehicleStatus = "available"
	VehicleInMaintenance VehicleStatus = "in Maintenance"
	VehicleOnTrip        VehicleStatus = "on Trip"
)

// DriverStatus is the availability state of a driver.
type DriverStatus string

const (
	DriverAvailable   DriverStatus = "available"
	DriverUnavailable DriverStatus = "unavailable"
)

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripPending   TripStatus = "Pending"
	TripAccepted  TripStatus = "Accepted"
	TripDeclined  TripStatus = "Declined"
	TripStarted   TripStatus = "Started"
	TripCompleted TripStatus = "Completed"
)

// MaintenanceStatus is the lifecycle state of a maintenance request.
type MaintenanceStatus string

const (
	MaintenancePending    MaintenanceStatus = "Pending"
	MaintenanceInProgress MaintenanceStatus = "In Progress"
	MaintenanceCompleted  MaintenanceStatus = "Completed"
	MaintenanceRejected   MaintenanceStatus = "Rejected"
)

// StockStatus is the stock label of an inventory item.
type StockStatus string

const (
	StockInStock  StockStatus = "In Stock"
	StockLow      StockStatus = "Low Stock"
	StockCritical StockStatus = "Critical"
)

// VehicleTypes lists every known vehicle type.
var VehicleTypes = []VehicleType{VehicleTypeCar, VehicleTypeMiniTruck, VehicleTypeTruck}

// ParseVehicleType converts a raw string into a VehicleType.
func ParseVehicleType(s string) (VehicleType, error) {
	switch v := VehicleType(s); v {
	case VehicleTypeCar, VehicleTypeMiniTruck, VehicleTypeTruck:
		return v, nil
	}
	return "", fmt.Errorf("%w: vehicle type %q", ErrUnknownValue, s)
}

// ParseVehicleStatus converts a raw string into a VehicleStatus.
func ParseVehicleStatus(s string) (VehicleStatus, error) {
	switch v := VehicleStatus(s); v {
	case VehicleAvailable, VehicleInMaintenance, VehicleOnTrip:
		return v, nil
	}
	return "", fmt.Errorf("%w: vehicle status %q", ErrUnknownValue, s)
}

// ParseDriverStatus converts a raw string into a DriverStatus.
func ParseDriverStatus(s string) (DriverStatus, error) {
	switch v := DriverStatus(s); v {
	case DriverAvailable, DriverUnavailable:
		return v, nil
	}
	return "", fmt.Errorf("%w: driver status %q", ErrUnknownValue, s)
}

// ParseTripStatus converts a raw string into a TripStatus.
func ParseTripStatus(s string) (TripStatus, error) {
	switch v := TripStatus(s); v {
	case TripPending, TripAccepted, TripDeclined, TripStarted, TripCompleted:
		return v, nil
	}
	return "", fmt.Errorf("%w: trip status %q", ErrUnknownValue, s)
}

// ParseMaintenanceStatus converts a raw string into a MaintenanceStatus.
func ParseMaintenanceStatus(s string) (MaintenanceStatus, error) {
	switch v := MaintenanceStatus(s); v {
	case MaintenancePending, MaintenanceInProgress, MaintenanceCompleted, MaintenanceRejected:
		return v, nil
	}
	return "", fmt.Errorf("%w: maintenance status %q", ErrUnknownValue, s)
}

// ParseStockStatus converts a raw string into a StockStatus.
func ParseStockStatus(s string) (StockStatus, error) {
	switch v := StockStatus(s); v {
	case StockInStock, StockLow, StockCritical:
		return v, nil
	}
	return "", fmt.Errorf("%w: stock status %q", ErrUnknownValue, s)
}

// IsTerminal reports whether no transition leaves s.
func (s TripStatus) IsTerminal() bool {
	return s == TripDeclined || s == TripCompleted
}

// IsOpen reports whether a request in status s still blocks new requests for its vehicle.
func (s MaintenanceStatus) IsOpen() bool {
	return s != MaintenanceCompleted && s != MaintenanceRejected
}

// IsShortage reports whether the label flags the item for restocking.
func (s StockStatus) IsShortage() bool {
	return s == StockLow || s == StockCritical
}

func decodeEnum[T ~string](t bsontype.Type, data []byte, parse func(string) (T, error)) (T, error) {
	raw, ok := bson.RawValue{Type: t, Value: data}.StringValueOK()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: expected string, got %s", ErrUnknownValue, t)
	}
	return parse(raw)
}

func (v *VehicleType) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*v, err = decodeEnum(t, data, ParseVehicleType)
	return err
}

func (v *VehicleType) UnmarshalText(text []byte) (err error) {
	*v, err = ParseVehicleType(string(text))
	return err
}

func (s *VehicleStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*s, err = decodeEnum(t, data, ParseVehicleStatus)
	return err
}

func (s *VehicleStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseVehicleStatus(string(text))
	return err
}

func (s *DriverStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*s, err = decodeEnum(t, data, ParseDriverStatus)
	return err
}

func (s *DriverStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseDriverStatus(string(text))
	return err
}

func (s *TripStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*s, err = decodeEnum(t, data, ParseTripStatus)
	return err
}

func (s *TripStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseTripStatus(string(text))
	return err
}

func (s *MaintenanceStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*s, err = decodeEnum(t, data, ParseMaintenanceStatus)
	return err
}

func (s *MaintenanceStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseMaintenanceStatus(string(text))
	return err
}

func (s *StockStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) (err error) {
	*s, err = decodeEnum(t, data, ParseStockStatus)
	return err
}

func (s *StockStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseStockStatus(string(text))
	return err
}
