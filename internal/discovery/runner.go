package discovery

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Output caps for discovery subprocesses. A busy host's full process
// listing fits comfortably under these; anything larger is truncated
// rather than ballooning memory.
const (
	psMaxOutput   = 10 * 1024 * 1024
	lsofMaxOutput = 1 * 1024 * 1024
)

// Runner abstracts external command execution for testability.
type Runner interface {
	// Run executes a command and returns its stdout, capped at maxOutput
	// bytes. A non-zero exit with captured output is not an error: lsof
	// exits 1 whenever any requested PID has already vanished.
	Run(ctx context.Context, maxOutput int64, name string, args ...string) ([]byte, error)
}

// ExecRunner is the default Runner using os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, maxOutput int64, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	lw := &LimitedWriter{W: &stdout, N: maxOutput}
	cmd.Stdout = lw
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("running %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// LimitedWriter wraps a buffer with a byte limit.
type LimitedWriter struct {
	W         *bytes.Buffer
	N         int64
	written   int64
	Truncated bool
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.N {
		lw.Truncated = true
		// Report all bytes consumed so exec.Cmd does not see a broken
		// pipe; Truncated records that data was discarded.
		return len(p), nil
	}
	remaining := lw.N - lw.written
	if int64(len(p)) > remaining {
		n, err := lw.W.Write(p[:remaining])
		lw.written += int64(n)
		lw.Truncated = true
		return len(p), err
	}
	n, err := lw.W.Write(p)
	lw.written += int64(n)
	return n, err
}
