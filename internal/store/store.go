// Package store owns the observation pipeline output: sidecar merging,
// state resolution, idle-economics accounting, and the latest immutable
// snapshot.
package store

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/classify"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/sidecar"
)

// Classifier derives OS-level states from CPU readings. The production
// implementation lives in classify; tests substitute stubs.
type Classifier interface {
	RecordReading(pid int, cpu float64)
	Classify(in classify.Input) model.State
	Cleanup(livePids map[int]struct{})
}

// SidecarSource matches discovered processes to sidecar contexts by
// working directory.
type SidecarSource interface {
	ReadAll(ctx context.Context, sessions []sidecar.PidCwd) map[int]*model.SidecarContext
}

// Store serialises per-tick updates and owns all idle-economics state:
// prevStates, awaitingStart, totalAwaitingMs, and lastPollTime. Readers
// only ever see whole snapshots.
type Store struct {
	mu         sync.Mutex
	classifier Classifier
	sidecars   SidecarSource
	clock      clock.Clock
	log        *logrus.Entry

	prevStates      map[int]model.State
	awaitingStart   map[int]time.Time
	totalAwaitingMs int64
	lastPollTime    time.Time

	snapMu sync.RWMutex
	latest *model.Snapshot
}

// New builds a store. A nil classifier gets the production one; a nil
// sidecar source disables file matching (inline sidecars still apply);
// a nil clock means the real clock.
func New(classifier Classifier, sidecars SidecarSource, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if classifier == nil {
		classifier = classify.NewWithClock(clk)
	}
	return &Store{
		classifier:    classifier,
		sidecars:      sidecars,
		clock:         clk,
		log:           logging.NewLogger("store"),
		prevStates:    make(map[int]model.State),
		awaitingStart: make(map[int]time.Time),
		latest:        model.EmptySnapshot(clk.Now()),
	}
}

// Latest returns the current snapshot. The returned value is immutable.
func (s *Store) Latest() *model.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.latest
}

// Update runs one tick of the pipeline over the discovered processes and
// atomically replaces the latest snapshot. Calls never interleave. An
// empty input is a complete, valid tick: sessions vanish and no waiting
// time accrues for PIDs that are gone.
func (s *Store) Update(ctx context.Context, raw []model.RawProcess) *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	contexts := s.matchSidecars(ctx, now, raw)

	sessions := make([]model.Session, 0, len(raw))
	livePids := make(map[int]struct{}, len(raw))
	states := make(map[int]model.State, len(raw))
	for _, p := range raw {
		livePids[p.PID] = struct{}{}
		s.classifier.RecordReading(p.PID, p.CPUPercent)
		osState := s.classifier.Classify(classify.Input{
			PID:       p.PID,
			CPU:       p.CPUPercent,
			TTY:       p.TTY,
			StartTime: p.StartTime,
		})
		sc := contexts[p.PID]
		state := resolveState(osState, sc)
		states[p.PID] = state

		cwd := p.CWD
		if cwd == "" {
			cwd = model.UnknownCWD
		}
		mode := 1
		if sc != nil {
			mode = 2
		}
		sessions = append(sessions, model.Session{
			ID:          model.SessionID(p.PID),
			PID:         p.PID,
			CWD:         cwd,
			CPU:         p.CPUPercent,
			MemMB:       math.Round(float64(p.RSSBytes)/(1024*1024)*10) / 10,
			State:       state,
			AgeSeconds:  int64(math.Round(now.Sub(p.StartTime).Seconds())),
			TTY:         p.TTY,
			HasChildren: p.HasChildren,
			Group:       model.GroupName(cwd),
			Mode:        mode,
			Context:     sc,
		})
	}

	s.classifier.Cleanup(livePids)
	s.accumulate(now, livePids, states)

	snap := &model.Snapshot{
		Timestamp: model.Timestamp(now),
		Sessions:  sessions,
		Groups:    model.BuildGroups(sessions),
		Metrics:   s.buildMetrics(now, sessions),
	}
	s.snapMu.Lock()
	s.latest = snap
	s.snapMu.Unlock()

	s.log.WithFields(logrus.Fields{
		"sessions": len(sessions),
		"groups":   len(snap.Groups),
	}).Debug("Snapshot replaced")
	return snap
}

// matchSidecars resolves each process's sidecar context: an inline
// sidecar (simulator) wins, everything else is matched by cwd through the
// reader. Inline staleness is recomputed against the store clock.
func (s *Store) matchSidecars(ctx context.Context, now time.Time, raw []model.RawProcess) map[int]*model.SidecarContext {
	contexts := make(map[int]*model.SidecarContext, len(raw))
	var toMatch []sidecar.PidCwd
	for _, p := range raw {
		if p.Sidecar != nil {
			sc := *p.Sidecar
			sc.Stale = now.Sub(sc.UpdatedAt) > sidecar.StaleAfter
			contexts[p.PID] = &sc
			continue
		}
		toMatch = append(toMatch, sidecar.PidCwd{PID: p.PID, CWD: p.CWD})
	}
	if len(toMatch) > 0 && s.sidecars != nil {
		for pid, sc := range s.sidecars.ReadAll(ctx, toMatch) {
			contexts[pid] = sc
		}
	}
	return contexts
}

// resolveState folds the sidecar signal into the OS-derived state. A
// stale sidecar never overrides an idle or stale OS reading; otherwise a
// blocked report wins.
func resolveState(osState model.State, sc *model.SidecarContext) model.State {
	if sc == nil {
		return osState
	}
	if sc.Stale && (osState == model.StateIdle || osState == model.StateStale) {
		return osState
	}
	if sc.Blocked {
		return model.StateBlocked
	}
	return osState
}

// accumulate advances the idle-economics counters. The sweep runs before
// transitions: a session leaving the waiting set still accrues the
// interval during which it was waiting.
func (s *Store) accumulate(now time.Time, livePids map[int]struct{}, states map[int]model.State) {
	if !s.lastPollTime.IsZero() {
		elapsed := now.Sub(s.lastPollTime).Milliseconds()
		for pid := range s.awaitingStart {
			if _, live := livePids[pid]; live {
				s.totalAwaitingMs += elapsed
			}
		}
	}

	for pid, state := range states {
		wasWaiting := s.prevStates[pid].Waiting()
		switch {
		case state.Waiting() && !wasWaiting:
			s.awaitingStart[pid] = now
		case !state.Waiting() && wasWaiting:
			delete(s.awaitingStart, pid)
		}
	}

	for pid := range s.awaitingStart {
		if _, live := livePids[pid]; !live {
			delete(s.awaitingStart, pid)
		}
	}
	for pid := range s.prevStates {
		if _, live := livePids[pid]; !live {
			delete(s.prevStates, pid)
		}
	}

	for pid, state := range states {
		s.prevStates[pid] = state
	}
	s.lastPollTime = now
}

// buildMetrics assembles the idle-economics summary. The longest wait is
// the earliest live entry into the waiting set; equal starts tie-break by
// PID for determinism.
func (s *Store) buildMetrics(now time.Time, sessions []model.Session) model.Metrics {
	m := model.Metrics{
		AwaitingAgentMinutes: math.Round(float64(s.totalAwaitingMs)/60000*10) / 10,
	}
	for _, sess := range sessions {
		if sess.State == model.StateBlocked {
			m.BlockedCount++
		}
	}

	earliestPID := 0
	var earliest time.Time
	for pid, start := range s.awaitingStart {
		if earliest.IsZero() || start.Before(earliest) || (start.Equal(earliest) && pid < earliestPID) {
			earliest, earliestPID = start, pid
		}
	}
	if !earliest.IsZero() {
		group := ""
		for _, sess := range sessions {
			if sess.PID == earliestPID {
				group = sess.Group
				break
			}
		}
		m.LongestWait = &model.LongestWait{
			SessionID: model.SessionID(earliestPID),
			Name:      model.NameForPID(earliestPID),
			Group:     group,
			Seconds:   int64(math.Round(now.Sub(earliest).Seconds())),
		}
	}
	return m
}
