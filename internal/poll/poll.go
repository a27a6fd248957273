// Package poll drives the periodic observation tick: discover processes,
// fold them into the store, hand the snapshot to the publisher.
package poll

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/discovery"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// Updater folds one tick of discovered processes into a snapshot.
type Updater interface {
	Update(ctx context.Context, raw []model.RawProcess) *model.Snapshot
}

// Publisher is the optional outbound half of a tick.
type Publisher interface {
	Publish(ctx context.Context, snap *model.Snapshot)
}

// Poller runs the observation loop at a fixed interval.
type Poller struct {
	backend   discovery.Backend
	store     Updater
	publisher Publisher
	interval  time.Duration
	clock     clock.Clock
	log       *logrus.Entry
}

// New builds a poller. The publisher may be nil when sharing is not wired;
// a nil clock means the real one.
func New(backend discovery.Backend, store Updater, publisher Publisher, interval time.Duration, clk clock.Clock) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	return &Poller{
		backend:   backend,
		store:     store,
		publisher: publisher,
		interval:  interval,
		clock:     clk,
		log:       logging.NewLogger("poll"),
	}
}

// Run ticks until the context is cancelled. The first tick fires
// immediately so the API serves real data as soon as possible.
func (p *Poller) Run(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"backend":  p.backend.Name(),
		"interval": p.interval,
	}).Info("Poller started")

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick performs one poll. A discovery failure still completes the store
// update with an empty list: sessions vanish rather than go stale, and no
// waiting time accrues for PIDs that were not seen.
func (p *Poller) tick(ctx context.Context) {
	start := p.clock.Now()
	raw, err := p.backend.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.WithError(err).Warn("Discovery failed; completing tick with no processes")
		raw = nil
	}

	snap := p.store.Update(ctx, raw)
	if p.publisher != nil {
		p.publisher.Publish(ctx, snap)
	}

	p.log.WithFields(logrus.Fields{
		"sessions": len(snap.Sessions),
		"elapsed":  p.clock.Since(start).Round(time.Millisecond),
	}).Debug("Tick complete")
}
