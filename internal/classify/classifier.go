// Package classify derives session lifecycle states from sliding windows
// of per-PID CPU readings.
package classify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

const (
	// historySize is the sliding-window length of retained CPU readings.
	historySize = 10

	// assumedPollInterval converts history positions into elapsed time
	// when no explicit last-activity timestamp is available.
	assumedPollInterval = 2 * time.Second

	// activeThresholdPct readings must be exceeded by activeRunLength
	// consecutive trailing readings to classify as active.
	activeThresholdPct = 10.0
	activeRunLength    = 2

	// recentActivityPct is the floor for a reading to count as activity
	// when estimating quiet duration.
	recentActivityPct = 5.0

	// awaitingCPUPct is the instantaneous CPU ceiling for awaiting.
	awaitingCPUPct = 5.0

	awaitingQuietMin = 10 * time.Second
	awaitingQuietMax = 60 * time.Second

	staleQuietAfter  = 30 * time.Minute
	staleAllBelowPct = 1.0
)

// Input carries the per-session facts the classifier needs beyond its own
// reading history.
type Input struct {
	PID       int
	CPU       float64
	TTY       string
	StartTime time.Time

	// LastActivity, when non-zero, overrides the history-based quiet
	// estimation.
	LastActivity time.Time
}

type history struct {
	readings [historySize]float64
	n        int
}

func (h *history) add(cpu float64) {
	if h.n < historySize {
		h.readings[h.n] = cpu
		h.n++
		return
	}
	copy(h.readings[:], h.readings[1:])
	h.readings[historySize-1] = cpu
}

func (h *history) slice() []float64 {
	out := make([]float64, h.n)
	copy(out, h.readings[:h.n])
	return out
}

// Classifier owns the per-PID CPU history rings. It never inspects
// anything but the readings it recorded and the Input it is handed.
type Classifier struct {
	mu      sync.Mutex
	history map[int]*history
	clock   clock.Clock
}

// New returns a classifier on the real clock.
func New() *Classifier {
	return NewWithClock(clock.New())
}

// NewWithClock returns a classifier driven by the given clock; tests use
// a mock to control quiet durations.
func NewWithClock(clk clock.Clock) *Classifier {
	return &Classifier{
		history: make(map[int]*history),
		clock:   clk,
	}
}

// RecordReading appends a CPU reading to the PID's ring, dropping the
// oldest reading when the window is full.
func (c *Classifier) RecordReading(pid int, cpu float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[pid]
	if !ok {
		h = &history{}
		c.history[pid] = h
	}
	h.add(cpu)
}

// Readings returns a copy of the recorded window for a PID, newest last.
func (c *Classifier) Readings(pid int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[pid]
	if !ok {
		return nil
	}
	return h.slice()
}

// Classify derives the OS-level state for one session.
// Priority: stale > active > awaiting > idle. Detached terminals are the
// strongest dead-session signal; a positive working signal beats a
// passive waiting one.
func (c *Classifier) Classify(in Input) model.State {
	readings := c.Readings(in.PID)
	now := c.clock.Now()
	quiet := c.quietDuration(in, readings, now)

	if in.TTY == model.DetachedTTY {
		return model.StateStale
	}
	if quiet >= staleQuietAfter && allBelow(readings, staleAllBelowPct) {
		return model.StateStale
	}
	if trailingRunAbove(readings, activeThresholdPct) >= activeRunLength {
		return model.StateActive
	}
	if in.CPU < awaitingCPUPct && quiet >= awaitingQuietMin && quiet <= awaitingQuietMax {
		return model.StateAwaiting
	}
	return model.StateIdle
}

// Cleanup drops history for PIDs no longer observed.
func (c *Classifier) Cleanup(livePids map[int]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pid := range c.history {
		if _, live := livePids[pid]; !live {
			delete(c.history, pid)
		}
	}
}

// quietDuration estimates how long the session has been quiet. An explicit
// last-activity timestamp wins; otherwise walk the window newest-to-oldest
// for the most recent reading at or above the activity floor, each step
// back counting one poll interval. With no qualifying reading, quiet spans
// the whole session lifetime.
func (c *Classifier) quietDuration(in Input, readings []float64, now time.Time) time.Duration {
	if !in.LastActivity.IsZero() {
		return now.Sub(in.LastActivity)
	}
	steps := 0
	for i := len(readings) - 1; i >= 0; i-- {
		if readings[i] >= recentActivityPct {
			return time.Duration(steps) * assumedPollInterval
		}
		steps++
	}
	if in.StartTime.IsZero() {
		return 0
	}
	return now.Sub(in.StartTime)
}

func allBelow(readings []float64, threshold float64) bool {
	for _, r := range readings {
		if r >= threshold {
			return false
		}
	}
	return true
}

// trailingRunAbove counts consecutive readings strictly above threshold at
// the newest end of the window.
func trailingRunAbove(readings []float64, threshold float64) int {
	run := 0
	for i := len(readings) - 1; i >= 0; i-- {
		if readings[i] <= threshold {
			break
		}
		run++
	}
	return run
}
