package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/ukydev/fleet-ops/internal/models"
)

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUsers(ctx context.Context, filter Filter) ([]models.User, error)
	UpdateUser(ctx context.Context, id string, user models.User) error
	DeleteUser(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// UserStore implements UserCollection on top of the gateway
type UserStore struct {
	users *Collection[models.User]
}

// NewUserStore binds a UserStore to the users collection of backend
func NewUserStore(users *Collection[models.User]) *UserStore {
	return &UserStore{users: users}
}

// InsertUser inserts a new user into the database
func (s *UserStore) InsertUser(ctx context.Context, user models.User) error {
	now := models.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true

	_, err := s.users.Create(ctx, &user)
	return err
}

// FindUserByID finds a user by their ID
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// FindUserByUsername finds a user by their username
func (s *UserStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, Where("username", OpEq, username))
}

// FindUserByEmail finds a user by their email
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, Where("email", OpEq, email))
}

func (s *UserStore) findOne(ctx context.Context, filter Filter) (*models.User, error) {
	users, err := s.users.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

// FindUsers finds users with optional filtering
func (s *UserStore) FindUsers(ctx context.Context, filter Filter) ([]models.User, error) {
	return s.users.Query(ctx, filter)
}

// UpdateUser replaces a user in the database
func (s *UserStore) UpdateUser(ctx context.Context, id string, user models.User) error {
	user.ID = id
	user.UpdatedAt = models.Now()
	return s.users.Replace(ctx, id, &user)
}

// DeleteUser deletes a user from the database
func (s *UserStore) DeleteUser(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

// UpdateLastLogin updates the last login time for a user
func (s *UserStore) UpdateLastLogin(ctx context.Context, id string) error {
	now := models.Now()
	return s.users.Update(ctx, id, Fields{"last_login": now, "updated_at": now}, true)
}
