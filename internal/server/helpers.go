package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/logging"
)

// writeJSON encodes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON body returned on handler failure.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to an HTTP status using apperror.KindOf and writes a
// JSON error body. Validation errors degrade loudly with their own message;
// dependency and timeout errors return a generic message to the caller while
// the full error is logged server-side.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	kind := apperror.KindOf(err)
	status := http.StatusInternalServerError
	msg := "internal error"

	switch kind {
	case apperror.KindValidation:
		status = http.StatusBadRequest
		msg = err.Error()
	case apperror.KindTimeout:
		status = http.StatusGatewayTimeout
		msg = "request timed out"
	case apperror.KindDependency:
		status = http.StatusBadGateway
		msg = "a dependency is unavailable"
	case apperror.KindWorkerTransient, apperror.KindWorkerPoison:
		status = http.StatusInternalServerError
	}

	log.Error("request failed", slog.String("path", r.URL.Path), slog.String("kind", kind.String()), slog.Any("error", err))

	if encErr := writeJSON(w, status, errorResponse{Error: msg}); encErr != nil {
		log.Error("error response encode failed", slog.Any("error", encErr))
	}
}
