package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// cwdConcurrency bounds the parallel /proc symlink reads.
const cwdConcurrency = 16

// linuxBackend discovers sessions via ps and resolves working directories
// from procfs symlinks.
type linuxBackend struct {
	runner   Runner
	procRoot string
	log      *logrus.Entry
}

func newLinuxBackend(cfg Config) *linuxBackend {
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &linuxBackend{
		runner:   runner,
		procRoot: procRoot,
		log:      logging.NewLogger("discovery.linux"),
	}
}

func (b *linuxBackend) Name() string { return "linux" }

func (b *linuxBackend) Discover(ctx context.Context) ([]model.RawProcess, error) {
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

// resolveCwds reads /proc/<pid>/cwd for each PID in parallel. Vanished
// processes and permission errors yield no entry for that PID.
func (b *linuxBackend) resolveCwds(ctx context.Context, procs []model.RawProcess) map[int]string {
	var mu sync.Mutex
	cwds := make(map[int]string, len(procs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(cwdConcurrency)
	for _, p := range procs {
		g.Go(func() error {
			target, err := os.Readlink(filepath.Join(b.procRoot, strconv.Itoa(p.PID), "cwd"))
			if err != nil {
				return nil
			}
			mu.Lock()
			cwds[p.PID] = target
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(cwds) < len(procs) {
		b.log.WithField("unresolved", len(procs)-len(cwds)).Debug("Some working directories could not be read")
	}
	return cwds
}
