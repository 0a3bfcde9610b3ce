package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// submitRunRequest is the JSON body for POST /runs. Code is base64.
type submitRunRequest struct {
	ToolchainID string `json:"toolchain_id"`
	ProblemID   string `json:"problem_id"`
	ContestID   string `json:"contest_id"`
	Code        string `json:"code"`
}

// patchRunRequest is the JSON body for PATCH /runs/{id}. Binary is base64
// and replaces the stored artifact wholesale; each status entry must be a
// [kind, code] pair.
type patchRunRequest struct {
	Binary *string    `json:"binary"`
	Status [][]string `json:"status"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleSubmit); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req submitRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}

	if req.ToolchainID == "" {
		s.writeError(w, http.StatusBadRequest, codeValidation, "toolchain_id is required")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, codeValidation, "code is required")
		return
	}

	source, err := base64.StdEncoding.DecodeString(req.Code)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeValidation, "code is not valid base64")
		return
	}

	run := &model.Run{
		ID:          model.NewRunID(),
		ToolchainID: req.ToolchainID,
		ProblemID:   req.ProblemID,
		ContestID:   req.ContestID,
		OwnerID:     sess.IdentityID,
		Phase:       model.PhaseQueued,
		Status:      map[string]string{},
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.logger.Error("create run", "error", err)
		s.writeDomainError(w, err)
		return
	}

	runsSubmittedTotal.Inc()
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleViewRuns); err != nil {
		s.writeDomainError(w, err)
		return
	}

	owner := sess.IdentityID
	if sess.HasRole(model.RoleViewAllRuns) {
		owner = ""
	}

	runs, err := s.store.ListRuns(r.Context(), owner)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeDomainError(w, err)
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleViewRuns); err != nil {
		s.writeDomainError(w, err)
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if run.OwnerID != sess.IdentityID && !sess.HasRole(model.RoleViewAllRuns) {
		s.writeError(w, http.StatusForbidden, codeForbidden, "run belongs to another user")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRunSource(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleViewRuns); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := auth.Ensure(sess, model.RoleViewRunSource); err != nil {
		s.writeDomainError(w, err)
		return
	}

	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if run.OwnerID != sess.IdentityID && !sess.HasRole(model.RoleViewAllRuns) {
		s.writeError(w, http.StatusForbidden, codeForbidden, "run belongs to another user")
		return
	}

	source, err := s.store.GetRunSource(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if source == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(source); err != nil {
		s.logger.Error("write run source", "error", err)
	}
}

func (s *Server) handlePatchRun(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	if err := auth.Ensure(sess, model.RoleInvoker); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req patchRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}

	// Validate the whole patch before touching the store; a malformed
	// entry must not result in a partial write.
	var update model.RunUpdate
	for _, pair := range req.Status {
		if len(pair) != 2 {
			s.writeError(w, http.StatusBadRequest, codeValidation, "status entry must be a [kind, code] pair")
			return
		}
		update.MergeStatus = append(update.MergeStatus, model.StatusEntry{Kind: pair[0], Code: pair[1]})
	}
	if req.Binary != nil {
		bin, err := base64.StdEncoding.DecodeString(*req.Binary)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, codeValidation, "binary is not valid base64")
			return
		}
		update.ReplaceBinary = bin
	}

	run, err := s.store.UpdateRun(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	patchesAppliedTotal.Inc()
	s.writeJSON(w, http.StatusOK, run)
}
