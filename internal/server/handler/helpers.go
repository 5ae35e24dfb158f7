// Package handler implements the HTTP API handlers: deal registration
// and lookup, period execution, and ledger/state queries.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/trancheworks/cascade/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service-layer errors onto HTTP statuses:
// missing entities to 404, malformed definitions or out-of-order input
// to 400, a held deal lock to 409, and invariant violations (engine
// bugs) to 500 like any other internal failure.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "a run for this deal is already in progress")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// queryInt parses an integer query parameter, returning def when absent
// or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
