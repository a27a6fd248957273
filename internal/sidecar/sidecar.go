// Package sidecar reads and validates the per-session JSON files that
// observed processes drop into the shared sessions directory.
package sidecar

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// StaleAfter is how old a sidecar's updated_at may be before the context
// is marked stale.
const StaleAfter = 10 * time.Minute

// readConcurrency bounds the parallel file-read fan-out.
const readConcurrency = 8

// PidCwd pairs a discovered PID with its working directory for sidecar
// matching.
type PidCwd struct {
	PID int
	CWD string
}

// Reader scans a sessions directory and matches validated sidecars to
// discovered processes by working directory.
type Reader struct {
	dir   string
	clock clock.Clock
	log   *logrus.Entry
}

// NewReader returns a reader over the given sessions directory.
func NewReader(dir string, clk clock.Clock) *Reader {
	if clk == nil {
		clk = clock.New()
	}
	return &Reader{
		dir:   dir,
		clock: clk,
		log:   logging.NewLogger("sidecar"),
	}
}

// ReadAll enumerates the sessions directory, parses every sidecar file in
// parallel, and returns a pid-to-context map for the inputs whose cwd has
// a valid sidecar. A missing directory yields an empty map. Writers may
// race with the scan, so vanished or partially-written files are skipped.
func (r *Reader) ReadAll(ctx context.Context, sessions []PidCwd) map[int]*model.SidecarContext {
	out := make(map[int]*model.SidecarContext)
	if len(sessions) == 0 {
		return out
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warnf("listing sessions dir: %v", err)
		}
		return out
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}

	// One slot per file keeps the fold deterministic: when two sidecars
	// claim the same cwd, the later filename wins.
	contexts := make([]*model.SidecarContext, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	now := r.clock.Now()
	for i, name := range names {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			data, err := os.ReadFile(filepath.Join(r.dir, name))
			if err != nil {
				if !os.IsNotExist(err) {
					mu.Lock()
					merr = multierror.Append(merr, err)
					mu.Unlock()
				}
				return nil
			}
			var raw interface{}
			if err := json.Unmarshal(data, &raw); err != nil {
				// Mid-write or junk file; silently skip.
				return nil
			}
			if sc, ok := Validate(raw, now); ok {
				contexts[i] = sc
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := merr.ErrorOrNil(); err != nil {
		r.log.Warnf("reading sidecar files: %v", err)
	}

	byCwd := make(map[string]*model.SidecarContext)
	for _, sc := range contexts {
		if sc != nil && sc.CWD != "" {
			byCwd[sc.CWD] = sc
		}
	}
	for _, s := range sessions {
		if sc, ok := byCwd[s.CWD]; ok {
			out[s.PID] = sc
		}
	}
	return out
}

// Validate checks a parsed sidecar payload and builds the typed context.
// The payload must be an object with a non-empty task, one of the six
// known phases, and a parseable updated_at; anything else is rejected.
func Validate(raw interface{}, now time.Time) (*model.SidecarContext, bool) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false
	}

	task, ok := obj["task"].(string)
	if !ok || task == "" {
		return nil, false
	}
	phase, ok := obj["phase"].(string)
	if !ok || !model.ValidPhase(phase) {
		return nil, false
	}
	updatedRaw, ok := obj["updated_at"].(string)
	if !ok {
		return nil, false
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedRaw)
	if err != nil {
		return nil, false
	}

	sc := &model.SidecarContext{
		Task:      task,
		Phase:     model.Phase(phase),
		Blocked:   truthy(obj["blocked"]),
		UpdatedAt: updatedAt,
		Stale:     now.Sub(updatedAt) > StaleAfter,
	}
	if detail, ok := obj["detail"].(string); ok {
		sc.Detail = &detail
	}
	if cwd, ok := obj["cwd"].(string); ok {
		sc.CWD = cwd
	}
	return sc, true
}

// truthy applies loose-JSON truthiness: null, false, zero, and the empty
// string are false; everything else is true.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}
