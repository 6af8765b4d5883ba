package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pricealerts/internal/models"
)

// Response is the envelope of write and single-alert responses.
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

// writeServiceError maps a service error to its HTTP status. Store details
// are never echoed to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Alert not found", "")
	case errors.Is(err, models.ErrStoreUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "Alert store unavailable", "")
	default:
		writeJSONError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func isClientError(err error) bool {
	return errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound)
}
