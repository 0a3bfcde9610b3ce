package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewRunIDFormat(t *testing.T) {
	id := NewRunID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewRunID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewRunIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRunID()
		if seen[id] {
			t.Fatalf("NewRunID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{PhaseQueued, PhaseLocked, true},
		{PhaseLocked, PhaseFinished, true},
		{PhaseQueued, PhaseFinished, false},
		{PhaseLocked, PhaseQueued, false},
		{PhaseFinished, PhaseQueued, false},
		{PhaseFinished, PhaseLocked, false},
	}
	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"create_user", "submit", "view_runs", "view_all_runs", "view_run_source", "invoker"} {
		if _, ok := ParseRole(s); !ok {
			t.Errorf("ParseRole(%q) not recognized", s)
		}
	}
	if _, ok := ParseRole("superadmin"); ok {
		t.Error("ParseRole accepted unknown role")
	}
	if _, ok := ParseRole(""); ok {
		t.Error("ParseRole accepted empty role")
	}
}

func TestSessionHasRole(t *testing.T) {
	s := &Session{Roles: []Role{RoleSubmit, RoleViewRuns}}
	if !s.HasRole(RoleSubmit) {
		t.Error("HasRole(submit) = false, want true")
	}
	if s.HasRole(RoleInvoker) {
		t.Error("HasRole(invoker) = true, want false")
	}
}

func TestSessionSuperuserBypass(t *testing.T) {
	s := &Session{IdentityID: RootID, Superuser: true}
	for r := range knownRoles {
		if !s.HasRole(r) {
			t.Errorf("superuser HasRole(%q) = false, want true", r)
		}
	}
}

func TestRunUpdateIsZero(t *testing.T) {
	if !(RunUpdate{}).IsZero() {
		t.Error("empty RunUpdate should be zero")
	}
	if (RunUpdate{ReplaceBinary: []byte{}}).IsZero() {
		t.Error("update with empty (non-nil) binary should not be zero")
	}
	if (RunUpdate{MergeStatus: []StatusEntry{{Kind: "Full", Code: "Accepted:OK"}}}).IsZero() {
		t.Error("update with status entries should not be zero")
	}
}
