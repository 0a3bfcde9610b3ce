package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/store"
)

// Stable machine-readable error codes carried alongside the message.
const (
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeValidation   = "validation"
	codeInternal     = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps errors from the auth and store layers onto HTTP
// responses. Anything unrecognized is a 500 and gets logged.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var roleErr *auth.RoleError

	switch {
	case errors.As(err, &roleErr):
		s.writeError(w, http.StatusForbidden, codeForbidden, roleErr.Error())
	case errors.Is(err, auth.ErrInvalidSession):
		s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid session token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeError(w, http.StatusForbidden, codeForbidden, "invalid login or password")
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateLogin):
		s.writeError(w, http.StatusConflict, codeConflict, "login already taken")
	default:
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
