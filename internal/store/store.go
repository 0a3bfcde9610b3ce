package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a run, identity, or session is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateLogin is returned when an identity insert hits the
	// unique login index.
	ErrDuplicateLogin = errors.New("login already exists")
	// ErrNoQueuedRuns is returned by ClaimQueuedRun when no run is in the
	// queued phase.
	ErrNoQueuedRuns = errors.New("no queued runs")
)

// RunStats holds aggregate run counts.
type RunStats struct {
	Total       int            `json:"total"`
	ByPhase     map[string]int `json:"by_phase"`
	ByToolchain map[string]int `json:"by_toolchain"`
}

// Store defines the persistence operations for runs, identities, and
// sessions. A single-record atomic conditional update (ClaimQueuedRun,
// UpdateRun) is the only synchronization primitive implementations must
// provide; callers never take additional locks.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, ownerID string) ([]*model.Run, error)
	GetRunSource(ctx context.Context, id string) ([]byte, error)
	ClaimQueuedRun(ctx context.Context) (*model.Run, error)
	UpdateRun(ctx context.Context, id string, u model.RunUpdate) (*model.Run, error)
	GetRunStats(ctx context.Context) (*RunStats, error)

	CreateIdentity(ctx context.Context, ident *model.Identity) error
	GetOrCreateIdentity(ctx context.Context, ident *model.Identity) (*model.Identity, error)
	GetIdentityByLogin(ctx context.Context, login string) (*model.Identity, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSessionByToken(ctx context.Context, token string) (*model.Session, error)

	Close() error
}
