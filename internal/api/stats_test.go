package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arbiterhq/arbiter/internal/auth"
)

func TestStatsRequiresViewAllRuns(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	grace := createUserAndLogin(t, ts, "grace", "view_runs")

	resp := doRequest(t, ts, http.MethodGet, "/v1/stats", grace, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 3; i++ {
		submitRun(t, ts, auth.BootstrapCredential)
	}
	resp := doRequest(t, ts, http.MethodPost, "/queue?limit=1", auth.BootstrapCredential, nil)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/v1/stats", auth.BootstrapCredential, nil)
	var out struct {
		Total       int            `json:"total"`
		ByPhase     map[string]int `json:"by_phase"`
		ByToolchain map[string]int `json:"by_toolchain"`
	}
	decodeBody(t, resp, &out)

	if out.Total != 3 {
		t.Errorf("total = %d, want 3", out.Total)
	}
	if out.ByPhase["queued"] != 2 || out.ByPhase["locked"] != 1 {
		t.Errorf("by_phase = %v, want 2 queued / 1 locked", out.ByPhase)
	}
	if out.ByToolchain["python3"] != 3 {
		t.Errorf("by_toolchain = %v, want python3=3", out.ByToolchain)
	}
}
