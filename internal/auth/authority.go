// Package auth implements credential resolution and the capability checks
// gating every operation: bearer tokens resolve to sessions carrying a role
// snapshot, and handlers guard operations with Ensure.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/internal/model"
	"github.com/arbiterhq/arbiter/internal/store"
)

// BootstrapCredential is the fixed development escape hatch: presenting it
// yields a root session without any store lookup. It is only honored when
// the authority runs in dev mode.
const BootstrapCredential = "Dev"

// ErrInvalidSession is returned when a presented credential matches no
// stored session.
var ErrInvalidSession = errors.New("invalid session")

// RoleError reports a role the caller's session does not hold.
type RoleError struct {
	Role model.Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("missing role %q", e.Role)
}

// Ensure returns a *RoleError unless the session holds role r.
func Ensure(s *model.Session, r model.Role) error {
	if !s.HasRole(r) {
		return &RoleError{Role: r}
	}
	return nil
}

// Authority resolves bearer credentials to sessions.
type Authority struct {
	store   store.Store
	devMode bool
}

// NewAuthority creates an Authority backed by the session store. devMode
// enables the bootstrap root credential and must stay off outside
// development deployments.
func NewAuthority(s store.Store, devMode bool) *Authority {
	return &Authority{store: s, devMode: devMode}
}

// DevMode reports whether the bootstrap credential is honored.
func (a *Authority) DevMode() bool {
	return a.devMode
}

// Resolve maps a credential to a session. An absent credential synthesizes
// an ephemeral guest session without touching the store; the bootstrap
// literal (dev mode only) synthesizes a root session; anything else must
// match a stored session token exactly or resolution fails with
// ErrInvalidSession.
func (a *Authority) Resolve(ctx context.Context, credential string) (*model.Session, error) {
	if credential == "" {
		return &model.Session{
			IdentityID: model.GuestID,
			CreatedAt:  time.Now().UTC(),
		}, nil
	}
	if a.devMode && credential == BootstrapCredential {
		return &model.Session{
			Token:      credential,
			IdentityID: model.RootID,
			Superuser:  true,
			CreatedAt:  time.Now().UTC(),
		}, nil
	}

	sess, err := a.store.GetSessionByToken(ctx, credential)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return sess, nil
}
