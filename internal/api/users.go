package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/model"
)

// createUserRequest is the JSON body for POST /users.
type createUserRequest struct {
	Login    string   `json:"login"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// simpleAuthRequest is the JSON body for POST /auth/simple.
type simpleAuthRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type simpleAuthResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	sess := session(r)

	var req createUserRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}

	if req.Login == "" {
		s.writeError(w, http.StatusBadRequest, codeValidation, "login is required")
		return
	}

	roles := make([]model.Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role, ok := model.ParseRole(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("unknown role %q", raw))
			return
		}
		roles = append(roles, role)
	}

	ident, err := s.identity.CreateIdentity(r.Context(), req.Login, req.Password, roles, sess)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ident)
}

func (s *Server) handleSimpleAuth(w http.ResponseWriter, r *http.Request) {
	var req simpleAuthRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}

	token, err := s.identity.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, simpleAuthResponse{Token: token})
}
