package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is one named permission a session may hold. The set is closed:
// anything outside the constants below is rejected at the API boundary.
type Role string

const (
	RoleCreateUser    Role = "create_user"
	RoleSubmit        Role = "submit"
	RoleViewRuns      Role = "view_runs"
	RoleViewAllRuns   Role = "view_all_runs"
	RoleViewRunSource Role = "view_run_source"
	RoleInvoker       Role = "invoker"
)

var knownRoles = map[Role]bool{
	RoleCreateUser:    true,
	RoleSubmit:        true,
	RoleViewRuns:      true,
	RoleViewAllRuns:   true,
	RoleViewRunSource: true,
	RoleInvoker:       true,
}

// ParseRole validates a role string against the closed role set.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, knownRoles[r]
}

// Reserved identity ids. Root is the all-zero UUID; guest is the fixed
// well-known id for unauthenticated sessions. Both are materialized lazily
// on first access.
var (
	RootID  = uuid.Nil.String()
	GuestID = "00000000-0000-0000-0000-000000000001"
)

const (
	RootLogin  = "root"
	GuestLogin = "guest"
)

// NewIdentityID returns a fresh random identity id.
func NewIdentityID() string {
	return uuid.NewString()
}

// Identity is a stored account: a unique login plus a salted credential
// hash and a set of granted roles.
type Identity struct {
	ID             string    `json:"id"`
	Login          string    `json:"login"`
	CredentialHash string    `json:"-"`
	Roles          []Role    `json:"roles"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session binds a bearer token to an identity and a snapshot of its roles.
// Roles are copied at login time; later grants or revocations on the
// identity do not affect sessions already issued. Superuser is computed
// once at construction and bypasses all role checks.
type Session struct {
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	Roles      []Role    `json:"roles"`
	Superuser  bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasRole reports whether the session may act with role r.
func (s *Session) HasRole(r Role) bool {
	if s.Superuser {
		return true
	}
	for _, have := range s.Roles {
		if have == r {
			return true
		}
	}
	return false
}
