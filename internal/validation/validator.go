package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/fleet-ops/internal/models"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	mobileRegex   = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MinPasswordLength = 8
	// bcrypt only reads the first 72 bytes
	MaxPasswordLength = 72
)

func init() {
	Validate = validator.New()

	// Report fields by their wire names.
	Validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = Validate.RegisterValidation("vehicle_type", validateVehicleType)
	_ = Validate.RegisterValidation("vehicle_year", validateVehicleYear)
	_ = Validate.RegisterValidation("mobile", validateMobile)
	_ = Validate.RegisterValidation("username", validateUsernameChars)
}

// Struct validates s and returns the failing fields keyed by wire name, or nil.
func Struct(s interface{}) map[string]string {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "vehicle_type":
		return "must be one of Car, Mini Truck, Truck"
	case "vehicle_year":
		return "is not a plausible model year"
	case "mobile":
		return "must be a phone number"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// validateVehicleType checks the field is a known vehicle type
func validateVehicleType(fl validator.FieldLevel) bool {
	_, err := models.ParseVehicleType(fl.Field().String())
	return err == nil
}

// validateVehicleYear checks if vehicle year is reasonable
func validateVehicleYear(fl validator.FieldLevel) bool {
	year := fl.Field().Int()
	currentYear := int64(time.Now().Year())
	return year >= 1950 && year <= currentYear+1
}

func validateMobile(fl validator.FieldLevel) bool {
	return mobileRegex.MatchString(strings.ReplaceAll(fl.Field().String(), " ", ""))
}

func validateUsernameChars(fl validator.FieldLevel) bool {
	return usernameRegex.MatchString(fl.Field().String())
}

// ValidateUsername checks the length and characters of a login name.
func ValidateUsername(username string) error {
	err := Validate.Var(username, fmt.Sprintf("min=%d,max=%d,username", MinUsernameLength, MaxUsernameLength))
	return credentialError("username", err)
}

// ValidatePassword checks password length.
func ValidatePassword(password string) error {
	err := Validate.Var(password, fmt.Sprintf("min=%d,max=%d", MinPasswordLength, MaxPasswordLength))
	return credentialError("password", err)
}

func credentialError(field string, err error) error {
	if err == nil {
		return nil
	}
	var fe validator.ValidationErrors
	if !errors.As(err, &fe) || len(fe) == 0 {
		return err
	}
	switch fe[0].Tag() {
	case "min":
		return fmt.Errorf("%s must be at least %s characters long", field, fe[0].Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters long", field, fe[0].Param())
	case "username":
		return fmt.Errorf("%s may only contain letters, digits, '.', '_' and '-'", field)
	}
	return fmt.Errorf("%s is invalid", field)
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	return len(email) > 0 && emailRegex.MatchString(email)
}
