package api

import (
	"net/http"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total       int            `json:"total"`
	ByPhase     map[string]int `json:"by_phase"`
	ByToolchain map[string]int `json:"by_toolchain"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleViewAllRuns); err != nil {
		s.writeDomainError(w, err)
		return
	}

	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:       stats.Total,
		ByPhase:     stats.ByPhase,
		ByToolchain: stats.ByToolchain,
	})
}
