package fleet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ukydev/fleet-ops/internal/models"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateRequest is matched by every *DuplicateRequestError.
	ErrDuplicateRequest = errors.New("duplicate maintenance request")
	// ErrRequestLocked is returned when a closed maintenance request is edited.
	ErrRequestLocked = errors.New("maintenance request is locked")
	// ErrInsufficientStock is returned when inventory cannot cover a consumption.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInUse is returned when a driver or vehicle is busy with a Started
	// trip or an open maintenance request.
	ErrInUse = errors.New("record is in use")
	// ErrFollowUp is matched by every *FollowUpError.
	ErrFollowUp = errors.New("follow-up write failed")
)

// ValidationError lists the rejected fields of a request, keyed by wire name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DuplicateRequestError carries the open request that blocked a new one.
type DuplicateRequestError struct {
	RequestID string
	Status    models.MaintenanceStatus
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("vehicle already has request %s in status %q", e.RequestID, e.Status)
}

func (e *DuplicateRequestError) Is(target error) bool { return target == ErrDuplicateRequest }

// FollowUpError means the primary write committed but a dependent write on
// another record did not.
type FollowUpError struct {
	Op  string
	Err error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("%s: follow-up failed: %v", e.Op, e.Err)
}

func (e *FollowUpError) Unwrap() error { return e.Err }

func (e *FollowUpError) Is(target error) bool { return target == ErrFollowUp }

func validationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
