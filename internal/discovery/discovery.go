// Package discovery enumerates assistant processes on the host and
// resolves their working directories. Each backend targets one platform;
// selection happens once at startup.
package discovery

import (
	"context"
	"runtime"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// Backend produces the raw process list for one poll tick.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Discover enumerates assistant processes. An error means the whole
	// tick observed nothing; the poll loop logs it and carries on with an
	// empty list. Per-PID failures never surface here.
	Discover(ctx context.Context) ([]model.RawProcess, error)
}

// Config controls backend selection and I/O plumbing.
type Config struct {
	// Simulate forces the simulator backend regardless of host OS.
	Simulate bool

	// SimulateSeed makes simulator runs reproducible; 0 derives a seed
	// from the clock.
	SimulateSeed int64

	// GOOS overrides runtime.GOOS during selection. Tests use this.
	GOOS string

	// Runner executes external commands (ps, lsof); nil selects the
	// default os/exec runner.
	Runner Runner

	// ProcRoot is the procfs mount point (default "/proc"). Overridable
	// for testing.
	ProcRoot string
}

// Select picks the discovery backend: the simulator when configured,
// otherwise by host OS, otherwise a stub that observes nothing.
func Select(cfg Config) Backend {
	if cfg.Simulate {
		return NewSimulator(nil, cfg.SimulateSeed)
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return newMacOSBackend(cfg)
	case "linux":
		return newLinuxBackend(cfg)
	default:
		return stubBackend{}
	}
}

// stubBackend observes nothing. It serves unsupported platforms.
type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Discover(ctx context.Context) ([]model.RawProcess, error) {
	return nil, nil
}
