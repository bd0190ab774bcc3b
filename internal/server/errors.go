package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/protomake/pulse/internal/store"
)

// errorResponse is the JSON body returned for every error outcome.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStoreError maps store sentinel errors onto the HTTP error taxonomy:
// validation failures are 400, ownership failures 403, missing rows 404.
// Anything else is an upstream failure: logged with detail, returned as a
// generic message so internals never leak to the caller.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrMissingField):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotProjectOwner):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "not authorized for this project"})
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrReportNotFound),
		errors.Is(err, store.ErrProjectNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Store operation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
