package models

// UnknownDriverName is shown for trips whose driver record no longer exists.
const UnknownDriverName = "Unknown Driver"

// Driver is a member of staff who can be assigned to trips.
type Driver struct {
	ID                string        `bson:"_id,omitempty" json:"id"`
	Name              string        `bson:"name" json:"name" validate:"required"`
	Age               int           `bson:"age" json:"age" validate:"gte=18,lte=100"`
	Address           string        `bson:"address" json:"address"`
	MobileNumber      string        `bson:"mobileNumber" json:"mobileNumber" validate:"required,mobile"`
	Email             string        `bson:"email" json:"email" validate:"required,email"`
	LicenseID         string        `bson:"licenseID" json:"licenseID" validate:"required"`
	DriverStatus      DriverStatus  `bson:"driverStatus" json:"driverStatus"`
	VehicleTypes      []VehicleType `bson:"vehicleType" json:"vehicleType" validate:"required,min=1,dive,vehicle_type"`
	TotalTrips        int           `bson:"totalTrips" json:"totalTrips" validate:"gte=0"`
	ExperienceInYears int           `bson:"experienceInYears" json:"experienceInYears" validate:"gte=0"`
	DistanceTraveled  float64       `bson:"distanceTraveled" json:"distanceTraveled" validate:"gte=0"`
}

// IsAvailable reports whether the driver can be assigned a new trip.
func (d *Driver) IsAvailable() bool {
	return d.DriverStatus == DriverAvailable
}

// CanDrive reports whether the driver holds the given vehicle capability.
func (d *Driver) CanDrive(t VehicleType) bool {
	for _, vt := range d.VehicleTypes {
		if vt == t {
			return true
		}
	}
	return false
}

// DriverName returns the display name of an optional driver.
func DriverName(d *Driver) string {
	if d == nil {
		return UnknownDriverName
	}
	return d.Name
}
