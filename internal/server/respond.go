package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xtxerr/meteo/internal/errors"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON encodes value as JSON into w with the given status.
// Encoding errors are logged since the response is already committed.
func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.log.Warn("writing JSON response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, errorResponse{Detail: fmt.Sprintf(format, args...)})
}

// fail maps err to its status and sends it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := errors.ErrorToStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		s.sendError(w, status, "internal error")
		return
	}
	s.sendError(w, status, "%s", err.Error())
}
