package diff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

func snapshotWith(t *testing.T, ts string, sessions []model.Session, metrics model.Metrics) *model.Snapshot {
	t.Helper()
	return &model.Snapshot{
		Timestamp: ts,
		Sessions:  sessions,
		Groups:    model.BuildGroups(sessions),
		Metrics:   metrics,
	}
}

func TestCompareAddedRemovedTransitions(t *testing.T) {
	baseline := snapshotWith(t, "2026-02-06T14:00:00Z", []model.Session{
		{ID: "claude-1", PID: 1, CWD: "/w/api", Group: "api", State: model.StateActive},
		{ID: "claude-2", PID: 2, CWD: "/w/api", Group: "api", State: model.StateAwaiting},
		{ID: "claude-3", PID: 3, CWD: "/w/web", Group: "web", State: model.StateIdle},
	}, model.Metrics{AwaitingAgentMinutes: 2.0, BlockedCount: 0})

	current := snapshotWith(t, "2026-02-06T14:05:00Z", []model.Session{
		{ID: "claude-1", PID: 1, CWD: "/w/api", Group: "api", State: model.StateBlocked},
		{ID: "claude-2", PID: 2, CWD: "/w/api", Group: "api", State: model.StateAwaiting},
		{ID: "claude-9", PID: 9, CWD: "/w/cli", Group: "cli", State: model.StateActive},
	}, model.Metrics{AwaitingAgentMinutes: 3.5, BlockedCount: 1})

	r := Compare(baseline, current)

	if len(r.Added) != 1 || r.Added[0] != "claude-9" {
		t.Errorf("added = %v, want [claude-9]", r.Added)
	}
	if len(r.Removed) != 1 || r.Removed[0] != "claude-3" {
		t.Errorf("removed = %v, want [claude-3]", r.Removed)
	}
	if len(r.Transitions) != 1 {
		t.Fatalf("transitions = %v, want one", r.Transitions)
	}
	tr := r.Transitions[0]
	if tr.SessionID != "claude-1" || tr.From != model.StateActive || tr.To != model.StateBlocked {
		t.Errorf("transition = %+v, want claude-1 active→blocked", tr)
	}
	if r.Metrics.AwaitingAgentMinutes != 1.5 {
		t.Errorf("awaiting delta = %v, want 1.5", r.Metrics.AwaitingAgentMinutes)
	}
	if r.Metrics.BlockedCount != 1 {
		t.Errorf("blocked delta = %v, want 1", r.Metrics.BlockedCount)
	}
}

func TestCompareGroupChanges(t *testing.T) {
	baseline := snapshotWith(t, "t0", []model.Session{
		{ID: "claude-1", Group: "api", CWD: "/w/api"},
		{ID: "claude-2", Group: "api", CWD: "/w/api"},
		{ID: "claude-3", Group: "web", CWD: "/w/web"},
	}, model.Metrics{})
	current := snapshotWith(t, "t1", []model.Session{
		{ID: "claude-1", Group: "api", CWD: "/w/api"},
	}, model.Metrics{})

	r := Compare(baseline, current)

	want := map[string][2]int{"api": {2, 1}, "web": {1, 0}}
	if len(r.Groups) != len(want) {
		t.Fatalf("group changes = %+v, want %v", r.Groups, want)
	}
	for _, g := range r.Groups {
		pair, ok := want[g.Group]
		if !ok {
			t.Errorf("unexpected group change %+v", g)
			continue
		}
		if g.Old != pair[0] || g.New != pair[1] {
			t.Errorf("group %s: %d→%d, want %d→%d", g.Group, g.Old, g.New, pair[0], pair[1])
		}
	}
}

func TestCompareIdenticalSnapshots(t *testing.T) {
	snap := snapshotWith(t, "t0", []model.Session{
		{ID: "claude-1", Group: "api", CWD: "/w/api", State: model.StateActive},
	}, model.Metrics{AwaitingAgentMinutes: 1.0})

	r := Compare(snap, snap)
	if len(r.Added)+len(r.Removed)+len(r.Transitions)+len(r.Groups) != 0 {
		t.Errorf("identical snapshots produced changes: %+v", r)
	}
	if r.Metrics.AwaitingAgentMinutes != 0 || r.Metrics.BlockedCount != 0 {
		t.Errorf("identical snapshots produced metric deltas: %+v", r.Metrics)
	}
}

func TestLoadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	content := `{"timestamp":"2026-02-06T14:00:00Z","sessions":[{"id":"claude-7","pid":7,"state":"awaiting","group":"api"}],"groups":[],"metrics":{"awaitingAgentMinutes":0.5,"longestWait":null,"blockedCount":0}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Timestamp != "2026-02-06T14:00:00Z" {
		t.Errorf("timestamp = %q", snap.Timestamp)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].State != model.StateAwaiting {
		t.Errorf("sessions = %+v", snap.Sessions)
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := LoadSnapshot(bad); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestFormatDiff(t *testing.T) {
	r := &Report{
		Baseline: "t0",
		Current:  "t1",
		Added:    []string{"claude-9"},
		Removed:  []string{"claude-3"},
		Transitions: []Transition{
			{SessionID: "claude-1", Group: "api", From: model.StateActive, To: model.StateBlocked},
		},
		Metrics: MetricsDelta{AwaitingAgentMinutes: 1.5, BlockedCount: 1},
		Groups:  []GroupChange{{Group: "web", Old: 1, New: 0}},
	}

	out := FormatDiff(r)
	for _, want := range []string{
		"Sessions: +1 / -1",
		"+ claude-9",
		"- claude-3",
		"active → blocked",
		"web: 1 → 0",
		"+1.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiff missing %q in:\n%s", want, out)
		}
	}
}
