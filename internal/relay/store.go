// Package relay implements the optional federation layer: a TTL store of
// per-user snapshots, a pure merger producing the combined view, and the
// HTTP surface remote observers publish to.
package relay

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// DefaultExpiry is how long a published entry stays visible without a
// refresh.
const DefaultExpiry = 30 * time.Second

// Entry is one user's published snapshot plus receipt metadata.
type Entry struct {
	User       string
	Color      string
	Snapshot   *model.Snapshot
	ReceivedAt time.Time
}

// UserInfo is one live publisher as reported by the users endpoint.
type UserInfo struct {
	Name         string `json:"name"`
	Color        string `json:"color"`
	SessionCount int    `json:"sessionCount"`
	LastSeen     string `json:"lastSeen"`
}

// SnapshotStore keeps the most recent snapshot per user. Entries that are
// not refreshed within the expiry window disappear from reads; eviction is
// lazy.
type SnapshotStore struct {
	cache *gocache.Cache
	clock clock.Clock
}

// NewSnapshotStore builds a store with the given expiry. Non-positive
// expiry means the default; a nil clock means the real one.
func NewSnapshotStore(expiry time.Duration, clk clock.Clock) *SnapshotStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SnapshotStore{
		cache: gocache.New(expiry, expiry),
		clock: clk,
	}
}

// Publish upserts a user's entry. Last writer wins; the expiry window
// restarts on every publish.
func (s *SnapshotStore) Publish(user, color string, snap *model.Snapshot) {
	entry := &Entry{
		User:       user,
		Color:      color,
		Snapshot:   snap,
		ReceivedAt: s.clock.Now(),
	}
	s.cache.Set(user, entry, gocache.DefaultExpiration)
}

// Entries returns the non-expired entries sorted by user name, evicting
// anything past its window first.
func (s *SnapshotStore) Entries() []Entry {
	s.cache.DeleteExpired()
	items := s.cache.Items()
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *(item.Object.(*Entry)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].User < entries[j].User })
	return entries
}

// Users summarises the live publishers.
func (s *SnapshotStore) Users() []UserInfo {
	entries := s.Entries()
	users := make([]UserInfo, 0, len(entries))
	for _, e := range entries {
		count := 0
		if e.Snapshot != nil {
			count = len(e.Snapshot.Sessions)
		}
		users = append(users, UserInfo{
			Name:         e.User,
			Color:        e.Color,
			SessionCount: count,
			LastSeen:     model.Timestamp(e.ReceivedAt),
		})
	}
	return users
}
