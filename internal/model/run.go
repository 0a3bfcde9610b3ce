package model

import "time"

// Run phase constants.
const (
	PhaseQueued   = "queued"
	PhaseLocked   = "locked"
	PhaseFinished = "finished"
)

// validTransitions maps each phase to the set of phases it may transition to.
// locked→finished is admitted but no endpoint drives it yet; locked runs are
// never released back to queued (workers must tolerate duplicate judgings if
// a reclaim mechanism is ever added).
var validTransitions = map[string]map[string]bool{
	PhaseQueued: {
		PhaseLocked: true,
	},
	PhaseLocked: {
		PhaseFinished: true,
	},
}

// ValidTransition reports whether transitioning from one phase to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run represents a user-submitted piece of code awaiting judging.
// Source and Binary are never serialized; clients fetch them through
// dedicated endpoints.
type Run struct {
	ID          string            `json:"id"`
	ToolchainID string            `json:"toolchain_id"`
	ProblemID   string            `json:"problem_id"`
	ContestID   string            `json:"contest_id"`
	OwnerID     string            `json:"owner_id"`
	Phase       string            `json:"phase"`
	Status      map[string]string `json:"status"`
	Source      []byte            `json:"-"`
	Binary      []byte            `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
}

// StatusEntry is one (protocol kind, status code) pair of a status merge.
type StatusEntry struct {
	Kind string
	Code string
}

// RunUpdate describes a partial update to a run's mutable fields.
// ReplaceBinary, when non-nil, overwrites the stored binary wholesale.
// MergeStatus sets status[Kind] = Code for each entry in order, so a
// later entry for the same kind wins within one update.
type RunUpdate struct {
	ReplaceBinary []byte
	MergeStatus   []StatusEntry
}

// IsZero reports whether the update carries no changes.
func (u RunUpdate) IsZero() bool {
	return u.ReplaceBinary == nil && len(u.MergeStatus) == 0
}
