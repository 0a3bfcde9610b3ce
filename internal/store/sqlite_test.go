package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun(owner string) *model.Run {
	return &model.Run{
		ID:          model.NewRunID(),
		ToolchainID: "gcc",
		ProblemID:   "A",
		ContestID:   "main",
		OwnerID:     owner,
		Phase:       model.PhaseQueued,
		Status:      map[string]string{},
		Source:      []byte("int main() {}"),
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun("owner-1")

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.ToolchainID != r.ToolchainID {
		t.Errorf("ToolchainID = %q, want %q", got.ToolchainID, r.ToolchainID)
	}
	if got.OwnerID != r.OwnerID {
		t.Errorf("OwnerID = %q, want %q", got.OwnerID, r.OwnerID)
	}
	if got.Phase != model.PhaseQueued {
		t.Errorf("Phase = %q, want %q", got.Phase, model.PhaseQueued)
	}
	if len(got.Status) != 0 {
		t.Errorf("Status = %v, want empty", got.Status)
	}
	// The projection never carries the blobs.
	if got.Source != nil {
		t.Error("GetRun returned source bytes, want projection without them")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestListRunsByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateRun(ctx, makeTestRun("alice")); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
	}
	if err := s.CreateRun(ctx, makeTestRun("bob")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	all, err := s.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("ListRuns(all): %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}

	alice, err := s.ListRuns(ctx, "alice")
	if err != nil {
		t.Fatalf("ListRuns(alice): %v", err)
	}
	if len(alice) != 3 {
		t.Errorf("len(alice) = %d, want 3", len(alice))
	}
	for _, r := range alice {
		if r.OwnerID != "alice" {
			t.Errorf("OwnerID = %q, want %q", r.OwnerID, "alice")
		}
	}
}

func TestGetRunSourceOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent run.
	_, err := s.GetRunSource(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRunSource(absent) error = %v, want ErrNotFound", err)
	}

	// Run with source.
	r := makeTestRun("alice")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	src, err := s.GetRunSource(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRunSource: %v", err)
	}
	if !bytes.Equal(src, r.Source) {
		t.Errorf("source = %q, want %q", src, r.Source)
	}

	// Run without source: nil slice, no error.
	empty := makeTestRun("alice")
	empty.Source = nil
	if err := s.CreateRun(ctx, empty); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	src, err = s.GetRunSource(ctx, empty.ID)
	if err != nil {
		t.Fatalf("GetRunSource(no source): %v", err)
	}
	if src != nil {
		t.Errorf("source = %v, want nil", src)
	}
}

func TestClaimQueuedRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeTestRun("alice")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	claimed, err := s.ClaimQueuedRun(ctx)
	if err != nil {
		t.Fatalf("ClaimQueuedRun: %v", err)
	}
	if claimed.ID != r.ID {
		t.Errorf("claimed ID = %q, want %q", claimed.ID, r.ID)
	}
	if claimed.Phase != model.PhaseLocked {
		t.Errorf("claimed Phase = %q, want %q", claimed.Phase, model.PhaseLocked)
	}

	// Queue is now empty.
	_, err = s.ClaimQueuedRun(ctx)
	if !errors.Is(err, ErrNoQueuedRuns) {
		t.Errorf("second claim error = %v, want ErrNoQueuedRuns", err)
	}
}

func TestClaimQueuedRunConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const queued = 20
	const workers = 8

	for i := 0; i < queued; i++ {
		if err := s.CreateRun(ctx, makeTestRun("alice")); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
	}

	var mu sync.Mutex
	claims := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, err := s.ClaimQueuedRun(ctx)
				if errors.Is(err, ErrNoQueuedRuns) {
					return
				}
				if err != nil {
					t.Errorf("ClaimQueuedRun: %v", err)
					return
				}
				mu.Lock()
				claims[r.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claims) != queued {
		t.Errorf("distinct claimed runs = %d, want %d", len(claims), queued)
	}
	for id, n := range claims {
		if n != 1 {
			t.Errorf("run %s claimed %d times, want 1", id, n)
		}
	}
}

func TestUpdateRunMergeStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeTestRun("alice")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.UpdateRun(ctx, r.ID, model.RunUpdate{
		MergeStatus: []model.StatusEntry{{Kind: "Full", Code: "Accepted:FULL_SOLUTION"}},
	})
	if err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if got.Status["Full"] != "Accepted:FULL_SOLUTION" {
		t.Errorf("Status[Full] = %q, want %q", got.Status["Full"], "Accepted:FULL_SOLUTION")
	}

	// A later patch to a different kind leaves the first key alone.
	got, err = s.UpdateRun(ctx, r.ID, model.RunUpdate{
		MergeStatus: []model.StatusEntry{{Kind: "Contestant", Code: "Accepted:OK"}},
	})
	if err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if got.Status["Full"] != "Accepted:FULL_SOLUTION" {
		t.Errorf("Status[Full] = %q after disjoint patch, want it untouched", got.Status["Full"])
	}
	if got.Status["Contestant"] != "Accepted:OK" {
		t.Errorf("Status[Contestant] = %q, want %q", got.Status["Contestant"], "Accepted:OK")
	}
}

func TestUpdateRunDuplicateKindLastWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeTestRun("alice")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.UpdateRun(ctx, r.ID, model.RunUpdate{
		MergeStatus: []model.StatusEntry{
			{Kind: "Full", Code: "Rejected:WRONG_ANSWER"},
			{Kind: "Full", Code: "Accepted:FULL_SOLUTION"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if got.Status["Full"] != "Accepted:FULL_SOLUTION" {
		t.Errorf("Status[Full] = %q, want last entry to win", got.Status["Full"])
	}
}

func TestUpdateRunReplaceBinary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeTestRun("alice")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, err := s.UpdateRun(ctx, r.ID, model.RunUpdate{ReplaceBinary: []byte("elf-1")}); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	// Last writer wins.
	if _, err := s.UpdateRun(ctx, r.ID, model.RunUpdate{ReplaceBinary: []byte("elf-2")}); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	var binary []byte
	if err := s.db.QueryRow("SELECT binary FROM runs WHERE id = ?", r.ID).Scan(&binary); err != nil {
		t.Fatalf("read binary back: %v", err)
	}
	if !bytes.Equal(binary, []byte("elf-2")) {
		t.Errorf("binary = %q, want %q", binary, "elf-2")
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateRun(ctx, "nonexistent", model.RunUpdate{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRun error = %v, want ErrNotFound", err)
	}
}

func TestCreateIdentityDuplicateLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.Identity{
		ID:             model.NewIdentityID(),
		Login:          "alice",
		CredentialHash: "hash-1",
		Roles:          []model.Role{model.RoleSubmit},
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateIdentity(ctx, first); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	dup := &model.Identity{
		ID:             model.NewIdentityID(),
		Login:          "alice",
		CredentialHash: "hash-2",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateIdentity(ctx, dup); !errors.Is(err, ErrDuplicateLogin) {
		t.Errorf("duplicate CreateIdentity error = %v, want ErrDuplicateLogin", err)
	}

	// The existing record is untouched.
	got, err := s.GetIdentityByLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("GetIdentityByLogin: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("ID = %q, want original %q", got.ID, first.ID)
	}
	if got.CredentialHash != "hash-1" {
		t.Errorf("CredentialHash = %q, want original untouched", got.CredentialHash)
	}
}

func TestGetOrCreateIdentityIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := &model.Identity{
		ID:             model.RootID,
		Login:          model.RootLogin,
		CredentialHash: "",
		Roles:          nil,
		CreatedAt:      time.Now().UTC(),
	}

	for i := 0; i < 3; i++ {
		got, err := s.GetOrCreateIdentity(ctx, root)
		if err != nil {
			t.Fatalf("GetOrCreateIdentity[%d]: %v", i, err)
		}
		if got.ID != model.RootID {
			t.Errorf("ID = %q, want %q", got.ID, model.RootID)
		}
		if got.Login != model.RootLogin {
			t.Errorf("Login = %q, want %q", got.Login, model.RootLogin)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		Token:      "tok-abc",
		IdentityID: model.NewIdentityID(),
		Roles:      []model.Role{model.RoleSubmit, model.RoleViewRuns},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSessionByToken(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("GetSessionByToken: %v", err)
	}
	if got.IdentityID != sess.IdentityID {
		t.Errorf("IdentityID = %q, want %q", got.IdentityID, sess.IdentityID)
	}
	if len(got.Roles) != 2 {
		t.Errorf("len(Roles) = %d, want 2", len(got.Roles))
	}
	if got.Superuser {
		t.Error("Superuser = true for non-root session")
	}

	_, err = s.GetSessionByToken(ctx, "tok-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSessionByToken(miss) error = %v, want ErrNotFound", err)
	}
}

func TestRootSessionSuperuser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		Token:      "tok-root",
		IdentityID: model.RootID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSessionByToken(ctx, "tok-root")
	if err != nil {
		t.Fatalf("GetSessionByToken: %v", err)
	}
	if !got.Superuser {
		t.Error("Superuser = false for root session, want true")
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := makeTestRun("alice")
		if i == 0 {
			r.ToolchainID = "clang"
		}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
	}
	if _, err := s.ClaimQueuedRun(ctx); err != nil {
		t.Fatalf("ClaimQueuedRun: %v", err)
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByPhase[model.PhaseQueued] != 2 {
		t.Errorf("ByPhase[queued] = %d, want 2", stats.ByPhase[model.PhaseQueued])
	}
	if stats.ByPhase[model.PhaseLocked] != 1 {
		t.Errorf("ByPhase[locked] = %d, want 1", stats.ByPhase[model.PhaseLocked])
	}
	if stats.ByToolchain["gcc"]+stats.ByToolchain["clang"] != 3 {
		t.Errorf("toolchain counts = %v, want 3 total", stats.ByToolchain)
	}
}
