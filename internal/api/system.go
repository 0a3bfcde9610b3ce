package api

import "net/http"

// API version reported to clients. Bumped on breaking wire changes.
const (
	apiVersionMajor = 0
	apiVersionMinor = 0
)

type healthResponse struct {
	Status string `json:"status"`
}

type isDevResponse struct {
	Dev bool `json:"dev"`
}

type apiVersionResponse struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleIsDev(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, isDevResponse{Dev: s.authority.DevMode()})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, apiVersionResponse{Major: apiVersionMajor, Minor: apiVersionMinor})
}
