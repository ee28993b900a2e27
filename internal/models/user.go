package models

// Role represents user roles in the system
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleFleetManager Role = "fleet_manager"
	RoleDriver       Role = "driver"
	RoleMaintenance  Role = "maintenance"
)

// Actions checked by HasPermission.
const (
	ActionManageUsers       = "manage_users"
	ActionManageFleet       = "manage_fleet"
	ActionViewFleet         = "view_fleet"
	ActionCreateTrip        = "create_trip"
	ActionDeleteTrip        = "delete_trip"
	ActionUpdateTripStatus  = "update_trip_status"
	ActionSetAvailability   = "set_availability"
	ActionCreateMaintenance = "create_maintenance"
	ActionUpdateMaintenance = "update_maintenance"
	ActionViewMaintenance   = "view_maintenance"
	ActionManageInventory   = "manage_inventory"
	ActionViewInventory     = "view_inventory"
)

// User represents a staff account
type User struct {
	ID           string     `bson:"_id,omitempty" json:"id"`
	Username     string     `bson:"username" json:"username"`
	Email        string     `bson:"email" json:"email"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	Role         Role       `bson:"role" json:"role"`
	DriverID     string     `bson:"driver_id,omitempty" json:"driver_id,omitempty"`
	FirstName    string     `bson:"first_name" json:"first_name"`
	LastName     string     `bson:"last_name" json:"last_name"`
	IsActive     bool       `bson:"is_active" json:"is_active"`
	LastLogin    *Timestamp `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    Timestamp  `bson:"created_at" json:"created_at"`
	UpdatedAt    Timestamp  `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	DriverID  string `json:"driver_id,omitempty"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	DriverID string `json:"driver_id,omitempty"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleFleetManager, RoleDriver, RoleMaintenance:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return RoleAllows(u.Role, action)
}

// RoleAllows checks if a role may perform an action
func RoleAllows(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleFleetManager:
		return action != ActionManageUsers && action != ActionUpdateMaintenance &&
			action != ActionManageInventory
	case RoleDriver:
		return action == ActionUpdateTripStatus || action == ActionSetAvailability ||
			action == ActionViewFleet
	case RoleMaintenance:
		return action == ActionUpdateMaintenance || action == ActionViewMaintenance ||
			action == ActionManageInventory || action == ActionViewInventory ||
			action == ActionViewFleet
	default:
		return false
	}
}
