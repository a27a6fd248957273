// Package diff compares two observation snapshots and highlights what
// changed between them: sessions that appeared or vanished, state
// transitions, and idle-economics deltas.
package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// Report contains the comparison between two snapshots.
type Report struct {
	Baseline    string        `json:"baseline"`
	Current     string        `json:"current"`
	Added       []string      `json:"added"`
	Removed     []string      `json:"removed"`
	Transitions []Transition  `json:"transitions"`
	Metrics     MetricsDelta  `json:"metrics"`
	Groups      []GroupChange `json:"groups"`
}

// Transition is one session whose state changed between snapshots.
type Transition struct {
	SessionID string      `json:"session_id"`
	Group     string      `json:"group"`
	From      model.State `json:"from"`
	To        model.State `json:"to"`
}

// MetricsDelta summarises the idle-economics movement.
type MetricsDelta struct {
	AwaitingAgentMinutes float64 `json:"awaitingAgentMinutes"`
	BlockedCount         int     `json:"blockedCount"`
}

// GroupChange is the session-count movement of one group present in
// either snapshot.
type GroupChange struct {
	Group string `json:"group"`
	Old   int    `json:"old"`
	New   int    `json:"new"`
}

// LoadSnapshot reads and parses a snapshot file written by dump.
func LoadSnapshot(path string) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &snap, nil
}

// Compare computes the differences between two snapshots. Sessions are
// matched by their id; ordering follows the current snapshot with removed
// sessions in baseline order.
func Compare(baseline, current *model.Snapshot) *Report {
	report := &Report{
		Baseline: baseline.Timestamp,
		Current:  current.Timestamp,
		Added:    []string{},
		Removed:  []string{},
		Metrics: MetricsDelta{
			AwaitingAgentMinutes: round1(current.Metrics.AwaitingAgentMinutes - baseline.Metrics.AwaitingAgentMinutes),
			BlockedCount:         current.Metrics.BlockedCount - baseline.Metrics.BlockedCount,
		},
	}

	old := make(map[string]model.Session, len(baseline.Sessions))
	for _, sess := range baseline.Sessions {
		old[sess.ID] = sess
	}
	seen := make(map[string]struct{}, len(current.Sessions))

	for _, sess := range current.Sessions {
		seen[sess.ID] = struct{}{}
		prev, ok := old[sess.ID]
		if !ok {
			report.Added = append(report.Added, sess.ID)
			continue
		}
		if prev.State != sess.State {
			report.Transitions = append(report.Transitions, Transition{
				SessionID: sess.ID,
				Group:     sess.Group,
				From:      prev.State,
				To:        sess.State,
			})
		}
	}

	for _, sess := range baseline.Sessions {
		if _, ok := seen[sess.ID]; !ok {
			report.Removed = append(report.Removed, sess.ID)
		}
	}

	report.Groups = compareGroups(baseline.Groups, current.Groups)
	return report
}

// compareGroups lines up the two group lists by id, keeping current-side
// order and appending groups that disappeared. Unchanged groups are
// skipped.
func compareGroups(baseline, current []model.Group) []GroupChange {
	counts := make(map[string]int, len(baseline))
	for _, g := range baseline {
		counts[g.ID] = g.SessionCount
	}

	changes := []GroupChange{}
	seen := make(map[string]struct{}, len(current))
	for _, g := range current {
		seen[g.ID] = struct{}{}
		if old := counts[g.ID]; old != g.SessionCount {
			changes = append(changes, GroupChange{Group: g.ID, Old: old, New: g.SessionCount})
		}
	}
	for _, g := range baseline {
		if _, ok := seen[g.ID]; !ok {
			changes = append(changes, GroupChange{Group: g.ID, Old: g.SessionCount, New: 0})
		}
	}
	return changes
}

// FormatDiff returns a human-readable diff summary.
func FormatDiff(r *Report) string {
	var sb strings.Builder

	sb.WriteString("=== Snapshot Diff ===\n")
	sb.WriteString(fmt.Sprintf("Baseline: %s\n", r.Baseline))
	sb.WriteString(fmt.Sprintf("Current:  %s\n\n", r.Current))

	sb.WriteString(fmt.Sprintf("Sessions: +%d / -%d\n", len(r.Added), len(r.Removed)))
	sb.WriteString(fmt.Sprintf("Awaiting minutes: %+.1f, blocked: %+d\n\n",
		r.Metrics.AwaitingAgentMinutes, r.Metrics.BlockedCount))

	if len(r.Added) > 0 {
		sb.WriteString("New sessions:\n")
		for _, id := range r.Added {
			sb.WriteString(fmt.Sprintf("  + %s\n", id))
		}
		sb.WriteString("\n")
	}
	if len(r.Removed) > 0 {
		sb.WriteString("Gone sessions:\n")
		for _, id := range r.Removed {
			sb.WriteString(fmt.Sprintf("  - %s\n", id))
		}
		sb.WriteString("\n")
	}
	if len(r.Transitions) > 0 {
		sb.WriteString("State transitions:\n")
		for _, tr := range r.Transitions {
			sb.WriteString(fmt.Sprintf("  %s [%s]: %s → %s\n", tr.SessionID, tr.Group, tr.From, tr.To))
		}
		sb.WriteString("\n")
	}
	if len(r.Groups) > 0 {
		sb.WriteString("Group sizes:\n")
		for _, g := range r.Groups {
			sb.WriteString(fmt.Sprintf("  %s: %d → %d\n", g.Group, g.Old, g.New))
		}
	}

	return sb.String()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
