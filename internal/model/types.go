// Package model defines the data types shared across the observer:
// raw discovery output, enriched sessions, derived groups, idle-economics
// metrics, and the immutable per-tick snapshot served over HTTP.
package model

import (
	"fmt"
	"path"
	"time"
)

// DetachedTTY is the sentinel TTY value for processes with no controlling
// terminal ("??" on macOS, "?" on Linux).
const DetachedTTY = "detached"

// UnknownCWD is substituted when a process's working directory could not
// be resolved.
const UnknownCWD = "/unknown"

// --- State: session lifecycle classification ---

// State is the derived lifecycle state of an observed session.
type State string

const (
	StateActive   State = "active"
	StateAwaiting State = "awaiting"
	StateIdle     State = "idle"
	StateStale    State = "stale"
	StateBlocked  State = "blocked"
)

// Waiting reports whether the state counts toward idle-economics
// accumulation. Awaiting and blocked are collectively "waiting".
func (s State) Waiting() bool {
	return s == StateAwaiting || s == StateBlocked
}

// --- Phase: sidecar-reported work phase ---

// Phase is the work phase reported by a session's sidecar file.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseResearching Phase = "researching"
	PhaseCoding      Phase = "coding"
	PhaseTesting     Phase = "testing"
	PhaseReviewing   Phase = "reviewing"
	PhaseIdle        Phase = "idle"
)

// ValidPhase reports whether s names one of the six known phases.
func ValidPhase(s string) bool {
	switch Phase(s) {
	case PhasePlanning, PhaseResearching, PhaseCoding, PhaseTesting, PhaseReviewing, PhaseIdle:
		return true
	}
	return false
}

// --- RawProcess: discovery output ---

// RawProcess is one enumerated assistant process before enrichment.
type RawProcess struct {
	PID         int       `json:"pid"`
	PPID        int       `json:"ppid"`
	CPUPercent  float64   `json:"cpuPercent"`
	RSSBytes    int64     `json:"rssBytes"`
	TTY         string    `json:"tty"`
	StartTime   time.Time `json:"startTime"`
	Command     string    `json:"command"`
	CWD         string    `json:"cwd"`
	HasChildren bool      `json:"hasChildren"`

	// Sidecar is populated by the simulator backend only; real backends
	// leave it nil and the store matches sidecar files by cwd.
	Sidecar *SidecarContext `json:"-"`
}

// --- SidecarContext: out-of-band enrichment ---

// SidecarContext is the validated content of a session's sidecar file.
type SidecarContext struct {
	Task      string    `json:"task"`
	Phase     Phase     `json:"phase"`
	Blocked   bool      `json:"blocked"`
	Detail    *string   `json:"detail"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
	CWD       string    `json:"cwd,omitempty"`
}

// --- Session: enriched snapshot entry ---

// Session is one observed process with derived fields, as exposed in the
// snapshot.
type Session struct {
	ID          string          `json:"id"`
	PID         int             `json:"pid"`
	CWD         string          `json:"cwd"`
	CPU         float64         `json:"cpu"`
	MemMB       float64         `json:"mem"`
	State       State           `json:"state"`
	AgeSeconds  int64           `json:"age_seconds"`
	TTY         string          `json:"tty"`
	HasChildren bool            `json:"has_children"`
	Group       string          `json:"group"`
	Mode        int             `json:"mode"`
	Context     *SidecarContext `json:"context"`
}

// Group is a per-tick bucket of sessions sharing a working-directory
// basename. Groups carry no identity across ticks beyond their name.
type Group struct {
	ID           string   `json:"id"`
	CWD          string   `json:"cwd"`
	SessionCount int      `json:"session_count"`
	SessionIDs   []string `json:"session_ids"`
}

// --- Metrics: idle economics ---

// LongestWait identifies the currently-waiting session with the earliest
// entry into the waiting set.
type LongestWait struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Group     string `json:"group"`
	Seconds   int64  `json:"seconds"`
}

// Metrics is the idle-economics summary attached to every snapshot.
type Metrics struct {
	AwaitingAgentMinutes float64      `json:"awaitingAgentMinutes"`
	LongestWait          *LongestWait `json:"longestWait"`
	BlockedCount         int          `json:"blockedCount"`
}

// --- Snapshot: per-tick output document ---

// Snapshot is the complete observation output for one poll tick.
// Immutable once built; the store replaces the latest snapshot by a single
// reference swap and readers never see partial writes.
type Snapshot struct {
	Timestamp string    `json:"timestamp"`
	Sessions  []Session `json:"sessions"`
	Groups    []Group   `json:"groups"`
	Metrics   Metrics   `json:"metrics"`
}

// EmptySnapshot returns a snapshot with empty collections, served before
// the first poll completes.
func EmptySnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Timestamp: Timestamp(now),
		Sessions:  []Session{},
		Groups:    []Group{},
		Metrics:   Metrics{},
	}
}

// Timestamp formats t in the ISO-8601 form used on the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// SessionID formats the canonical identifier for an observed PID.
func SessionID(pid int) string {
	return fmt.Sprintf("claude-%d", pid)
}

// GroupName derives the group key from a working directory.
func GroupName(cwd string) string {
	if cwd == "" {
		cwd = UnknownCWD
	}
	return path.Base(cwd)
}

// BuildGroups buckets sessions by group name, preserving first-encounter
// order. The group cwd is the first member's.
func BuildGroups(sessions []Session) []Group {
	groups := []Group{}
	index := make(map[string]int)
	for _, sess := range sessions {
		i, ok := index[sess.Group]
		if !ok {
			i = len(groups)
			index[sess.Group] = i
			groups = append(groups, Group{ID: sess.Group, CWD: sess.CWD})
		}
		groups[i].SessionCount++
		groups[i].SessionIDs = append(groups[i].SessionIDs, sess.ID)
	}
	return groups
}
