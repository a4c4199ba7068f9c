package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Origin records who suspended a tracked server.
type Origin string

const (
	// OriginSweep marks a suspension performed by a reconciliation pass.
	OriginSweep Origin = "sweep"
	// OriginExternal marks a server first observed already suspended.
	OriginExternal Origin = "external"
)

// Phase names the tracked lifecycle phase of a record.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseInactive  Phase = "inactive"
	PhaseSuspended Phase = "suspended"
)

// Record is the locally tracked lifecycle state of one server.
// InactiveSince is set while the server is inactive but not yet suspended,
// SuspendedAt while it is suspended but not yet deleted. Both mark the first
// observation and are never moved backwards.
type Record struct {
	InactiveSince *time.Time `json:"inactive_since,omitempty"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	SuspendedBy   Origin     `json:"suspended_by,omitempty"`
}

// Empty reports whether the record carries no tracked timestamp.
func (r Record) Empty() bool {
	return r.InactiveSince == nil && r.SuspendedAt == nil
}

// Phase returns the phase implied by the record's timestamps.
// A suspended timestamp wins over a stale inactive one.
func (r Record) Phase() Phase {
	switch {
	case r.SuspendedAt != nil:
		return PhaseSuspended
	case r.InactiveSince != nil:
		return PhaseInactive
	default:
		return PhaseNone
	}
}

// External reports whether the suspension was not performed by this system.
// Records written before origins were tracked count as external.
func (r Record) External() bool {
	return r.SuspendedBy != OriginSweep
}

// Snapshot maps server identifiers to their tracked records.
type Snapshot map[string]Record

// Compact removes records that no longer track anything.
func (s Snapshot) Compact() {
	for id, rec := range s {
		if rec.Empty() {
			delete(s, id)
		}
	}
}

// Clone returns a shallow copy; timestamps are immutable values behind pointers.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, rec := range s {
		out[id] = rec
	}
	return out
}

// IDs returns the identifiers in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many records are in each phase.
func (s Snapshot) Count() map[Phase]int {
	out := map[Phase]int{PhaseInactive: 0, PhaseSuspended: 0}
	for _, rec := range s {
		if p := rec.Phase(); p != PhaseNone {
			out[p]++
		}
	}
	return out
}

// Store persists the whole snapshot between passes.
// Load returns an empty snapshot for a missing or corrupt store; only
// transport failures are reported as errors. Save replaces the complete
// mapping atomically.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

var (
	ErrUnknownType = errors.New("unknown store type")
	ErrNoPath      = errors.New("store path is required")
)

// TimePtr returns a pointer to the UTC form of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
