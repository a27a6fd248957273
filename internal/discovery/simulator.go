package discovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// behaviourProfile shapes the CPU curve for one simulated behaviour.
type behaviourProfile struct {
	BaseMin     float64
	BaseMax     float64
	Period      time.Duration
	SpikeChance float64
	Phase       model.Phase // reported by the session's inline sidecar
}

// behaviourProfiles contains the built-in behaviour presets.
var behaviourProfiles = map[string]behaviourProfile{
	"active": {
		BaseMin:     15,
		BaseMax:     75,
		Period:      20 * time.Second,
		SpikeChance: 0.10,
		Phase:       model.PhaseCoding,
	},
	"awaiting": {
		BaseMin:     0.1,
		BaseMax:     3,
		Period:      45 * time.Second,
		SpikeChance: 0.02,
		Phase:       model.PhaseReviewing,
	},
	"idle": {
		BaseMin:     0,
		BaseMax:     0.8,
		Period:      60 * time.Second,
		SpikeChance: 0.01,
		Phase:       model.PhaseIdle,
	},
	"burst": {
		BaseMin:     1,
		BaseMax:     95,
		Period:      12 * time.Second,
		SpikeChance: 0.25,
		Phase:       model.PhaseTesting,
	},
}

var behaviourNames = []string{"active", "awaiting", "idle", "burst"}

// Simulated project directories. Groups derive from the basenames.
var simGroups = []string{
	"/home/dev/crystal-ball",
	"/home/dev/api-server",
	"/home/dev/web-client",
	"/home/dev/data-pipeline",
}

var simTasks = []string{
	"refactor session store",
	"investigate flaky test",
	"write relay integration",
	"update API docs",
	"profile poll loop",
}

// World-advancement intervals.
const (
	flipMin  = 30 * time.Second
	flipMax  = 60 * time.Second
	churnMin = 120 * time.Second
	churnMax = 180 * time.Second
)

type simSession struct {
	pid        int
	cwd        string
	behaviour  string
	started    time.Time
	hasSidecar bool // whether the session reports an inline sidecar
	blocked    bool
}

// Simulator fabricates a stable population of fake sessions with
// deterministic sine-wave CPU curves plus random spikes. It is a testing
// aid; Select never picks it unless simulation is configured.
type Simulator struct {
	mu        sync.Mutex
	clock     clock.Clock
	rng       *rand.Rand
	sessions  []*simSession
	nextPID   int
	epoch     time.Time
	nextFlip  time.Time
	nextChurn time.Time
}

// NewSimulator builds a simulator on the given clock (nil means the real
// clock). A non-zero seed makes the run reproducible.
func NewSimulator(clk clock.Clock, seed int64) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	s := &Simulator{
		clock:   clk,
		rng:     rand.New(rand.NewSource(seed)),
		nextPID: 40001,
	}
	now := clk.Now()
	s.epoch = now
	s.nextFlip = now.Add(s.between(flipMin, flipMax))
	s.nextChurn = now.Add(s.between(churnMin, churnMax))

	// Two sessions in the first group, one in each of the rest.
	for i, cwd := range simGroups {
		s.sessions = append(s.sessions, s.spawn(cwd, behaviourNames[i%len(behaviourNames)], now))
	}
	s.sessions = append(s.sessions, s.spawn(simGroups[0], "awaiting", now))
	return s
}

func (s *Simulator) Name() string { return "simulator" }

// Discover advances the simulated world and renders it as raw processes.
func (s *Simulator) Discover(ctx context.Context) ([]model.RawProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.advance(now)

	procs := make([]model.RawProcess, 0, len(s.sessions))
	for i, sess := range s.sessions {
		cpu := s.cpuFor(sess, now)
		p := model.RawProcess{
			PID:        sess.pid,
			PPID:       1,
			CPUPercent: cpu,
			RSSBytes:   (128 + int64(s.rng.Intn(256))) * 1024 * 1024,
			TTY:        fmt.Sprintf("pts/%d", i),
			StartTime:  sess.started,
			Command:    "/usr/local/bin/claude",
			CWD:        sess.cwd,
		}
		if sess.hasSidecar {
			profile := behaviourProfiles[sess.behaviour]
			task := simTasks[sess.pid%len(simTasks)]
			p.Sidecar = &model.SidecarContext{
				Task:      task,
				Phase:     profile.Phase,
				Blocked:   sess.blocked,
				UpdatedAt: now,
				CWD:       sess.cwd,
			}
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// advance flips one session's behaviour on its schedule and churns the
// population on its own, slower schedule.
func (s *Simulator) advance(now time.Time) {
	if !now.Before(s.nextFlip) && len(s.sessions) > 0 {
		sess := s.sessions[s.rng.Intn(len(s.sessions))]
		sess.behaviour = behaviourNames[s.rng.Intn(len(behaviourNames))]
		sess.blocked = sess.behaviour == "awaiting" && s.rng.Float64() < 0.3
		s.nextFlip = now.Add(s.between(flipMin, flipMax))
	}
	if !now.Before(s.nextChurn) && len(s.sessions) > 0 {
		idx := s.rng.Intn(len(s.sessions))
		replaced := s.sessions[idx]
		s.sessions[idx] = s.spawn(replaced.cwd, behaviourNames[s.rng.Intn(len(behaviourNames))], now)
		s.nextChurn = now.Add(s.between(churnMin, churnMax))
	}
}

// cpuFor renders the session's CPU at the given instant: a sine wave
// between the behaviour's base range, plus occasional spikes.
func (s *Simulator) cpuFor(sess *simSession, now time.Time) float64 {
	profile, ok := behaviourProfiles[sess.behaviour]
	if !ok {
		profile = behaviourProfiles["idle"]
	}
	mid := (profile.BaseMin + profile.BaseMax) / 2
	amp := (profile.BaseMax - profile.BaseMin) / 2
	elapsed := now.Sub(s.epoch).Seconds()
	cpu := mid + amp*math.Sin(2*math.Pi*elapsed/profile.Period.Seconds())
	if s.rng.Float64() < profile.SpikeChance {
		cpu += 20 + s.rng.Float64()*40
	}
	if cpu < 0 {
		cpu = 0
	}
	if cpu > 100 {
		cpu = 100
	}
	return cpu
}

func (s *Simulator) spawn(cwd, behaviour string, now time.Time) *simSession {
	pid := s.nextPID
	s.nextPID++
	return &simSession{
		pid:        pid,
		cwd:        cwd,
		behaviour:  behaviour,
		started:    now,
		hasSidecar: s.rng.Float64() < 0.7,
	}
}

func (s *Simulator) between(min, max time.Duration) time.Duration {
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}
