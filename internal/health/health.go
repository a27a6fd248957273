// Package health reports the observer's own resource footprint so a
// watcher of watchers can tell when crystalball itself misbehaves.
package health

import (
	"math"
	"os"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/process"
)

// Observer is the self-usage section of a health report.
type Observer struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
}

// Status is the health endpoint payload.
type Status struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Observer      Observer `json:"observer"`
}

// Probe samples the current process. Resource reads that fail leave zero
// values; the endpoint itself never errors.
type Probe struct {
	proc    *process.Process
	started time.Time
	clock   clock.Clock
}

// NewProbe builds a probe anchored at the current time. A nil clock means
// the real one.
func NewProbe(clk clock.Clock) *Probe {
	if clk == nil {
		clk = clock.New()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &Probe{
		proc:    proc,
		started: clk.Now(),
		clock:   clk,
	}
}

// Check samples uptime, CPU, memory, and goroutine count.
func (p *Probe) Check() Status {
	st := Status{
		Status:        "ok",
		UptimeSeconds: int64(p.clock.Since(p.started).Seconds()),
		Observer: Observer{
			PID:        os.Getpid(),
			Goroutines: runtime.NumGoroutine(),
		},
	}
	if p.proc == nil {
		return st
	}
	if cpu, err := p.proc.CPUPercent(); err == nil {
		st.Observer.CPUPercent = math.Round(cpu*10) / 10
	}
	if mem, err := p.proc.MemoryInfo(); err == nil && mem != nil {
		st.Observer.MemMB = math.Round(float64(mem.RSS)/(1024*1024)*10) / 10
	}
	return st
}
