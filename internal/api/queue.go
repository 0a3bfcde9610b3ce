package api

import (
	"errors"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/store"
)

const defaultPopLimit = 1

// handlePopQueue transitions up to limit queued runs to locked and hands
// them to the caller. Each claim is a single atomic conditional update in
// the store, so concurrent invokers never receive the same run.
func (s *Server) handlePopQueue(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleInvoker); err != nil {
		s.writeDomainError(w, err)
		return
	}

	limit := parseIntQuery(r, "limit", defaultPopLimit)

	claimed := []*model.Run{}
	for i := 0; i < limit; i++ {
		run, err := s.store.ClaimQueuedRun(r.Context())
		if errors.Is(err, store.ErrNoQueuedRuns) {
			break
		}
		if err != nil {
			s.logger.Error("claim queued run", "error", err)
			s.writeDomainError(w, err)
			return
		}
		claimed = append(claimed, run)
	}

	runsClaimedTotal.Add(float64(len(claimed)))
	s.writeJSON(w, http.StatusOK, claimed)
}
