package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

type stubBackend struct {
	mu    sync.Mutex
	raw   []model.RawProcess
	err   error
	calls int
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Discover(context.Context) ([]model.RawProcess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.raw, b.err
}

type recordingStore struct {
	mu    sync.Mutex
	sizes []int
	done  chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{done: make(chan struct{}, 16)}
}

func (r *recordingStore) Update(_ context.Context, raw []model.RawProcess) *model.Snapshot {
	r.mu.Lock()
	r.sizes = append(r.sizes, len(raw))
	r.mu.Unlock()
	r.done <- struct{}{}
	return model.EmptySnapshot(time.Unix(0, 0))
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []*model.Snapshot
}

func (p *recordingPublisher) Publish(_ context.Context, snap *model.Snapshot) {
	p.mu.Lock()
	p.snaps = append(p.snaps, snap)
	p.mu.Unlock()
}

func waitTick(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not complete")
	}
}

func TestRunTicksImmediatelyThenOnInterval(t *testing.T) {
	clk := clock.NewMock()
	backend := &stubBackend{raw: []model.RawProcess{{PID: 1}}}
	store := newRecordingStore()
	pub := &recordingPublisher{}
	p := New(backend, store, pub, 2*time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	waitTick(t, store.done) // first tick, no clock advance needed

	clk.Add(2 * time.Second)
	waitTick(t, store.done)
	clk.Add(2 * time.Second)
	waitTick(t, store.done)

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run returned %v on cancellation, want nil", err)
	}

	store.mu.Lock()
	ticks := len(store.sizes)
	store.mu.Unlock()
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}

	pub.mu.Lock()
	published := len(pub.snaps)
	pub.mu.Unlock()
	if published != 3 {
		t.Errorf("published = %d, want one per tick", published)
	}
}

func TestDiscoveryFailureStillUpdatesStore(t *testing.T) {
	clk := clock.NewMock()
	backend := &stubBackend{err: errors.New("ps exploded")}
	store := newRecordingStore()
	p := New(backend, store, nil, time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	waitTick(t, store.done)
	cancel()
	<-errCh

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.sizes) != 1 || store.sizes[0] != 0 {
		t.Errorf("updates = %v, want one empty update", store.sizes)
	}
}

func TestNilPublisherIsFine(t *testing.T) {
	clk := clock.NewMock()
	store := newRecordingStore()
	p := New(&stubBackend{}, store, nil, time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	waitTick(t, store.done)
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
