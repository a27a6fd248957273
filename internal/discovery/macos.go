package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// macosBackend discovers sessions via ps and resolves working directories
// with a single batched lsof call.
type macosBackend struct {
	runner Runner
	log    *logrus.Entry
}

func newMacOSBackend(cfg Config) *macosBackend {
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return &macosBackend{
		runner: runner,
		log:    logging.NewLogger("discovery.macos"),
	}
}

func (b *macosBackend) Name() string { return "macos" }

func (b *macosBackend) Discover(ctx context.Context) ([]model.RawProcess, error) {
	out, err := b.runner.Run(ctx, psMaxOutput, "ps", psArgs...)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	procs := filterAssistants(parsePS(out, time.Local))
	if len(procs) == 0 {
		return nil, nil
	}
	applyCwds(procs, b.resolveCwds(ctx, procs))
	return procs, nil
}

// resolveCwds maps PIDs to working directories via lsof. Any failure is
// non-fatal: affected PIDs simply get no entry.
func (b *macosBackend) resolveCwds(ctx context.Context, procs []model.RawProcess) map[int]string {
	out, err := b.runner.Run(ctx, lsofMaxOutput, "lsof", "-a", "-p", pidList(procs), "-d", "cwd", "-Fn")
	if err != nil {
		b.log.WithError(err).Warn("lsof failed, working directories unresolved")
		return nil
	}
	return parseLsofCwd(out)
}

// parseLsofCwd parses lsof -Fn field output: a p<pid> line introduces a
// process, an n<path> line carries its cwd. Other field lines (fcwd) are
// skipped.
func parseLsofCwd(out []byte) map[int]string {
	cwds := make(map[int]string)
	pid := 0
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case 'p':
			v, err := strconv.Atoi(line[1:])
			if err != nil {
				pid = 0
				continue
			}
			pid = v
		case 'n':
			if pid != 0 {
				cwds[pid] = line[1:]
			}
		}
	}
	return cwds
}
