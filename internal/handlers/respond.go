package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/fleet"
)

const maxBodyBytes = 1 << 20

var errInvalidDays = errors.New("days must be a non-negative integer")

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error    string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Existing *existingRequest  `json:"existing,omitempty"`
}

type existingRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// readJSON decodes the request body into v.
func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeError maps engine and store errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *fleet.ValidationError
		dup *fleet.DuplicateRequestError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: ve.Fields})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:    err.Error(),
			Existing: &existingRequest{ID: dup.RequestID, Status: string(dup.Status)},
		})
	case db.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, fleet.ErrInvalidTransition),
		errors.Is(err, fleet.ErrRequestLocked),
		errors.Is(err, fleet.ErrInsufficientStock),
		errors.Is(err, fleet.ErrInUse),
		errors.Is(err, db.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

// writeResult writes v, or the error. A follow-up failure still reports the
// committed result and flags the failed follow-up in a header.
func writeResult(w http.ResponseWriter, r *http.Request, status int, v interface{}, err error) {
	var fu *fleet.FollowUpError
	if errors.As(err, &fu) && v != nil {
		w.Header().Set("X-Follow-Up-Failed", fu.Op)
		writeJSON(w, status, v)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
