// Package publish pushes local snapshots to a relay, honouring the
// operator's sharing settings.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// defaultTimeout bounds one publish POST.
const defaultTimeout = 5 * time.Second

// Settings mirrors sharing.json. Sharing is opt-in: the zero file means
// nothing leaves the host.
type Settings struct {
	Enabled        bool     `json:"enabled"`
	ExcludedGroups []string `json:"excludedGroups"`
}

// DefaultSettings returns the opt-out default.
func DefaultSettings() Settings {
	return Settings{Enabled: false, ExcludedGroups: []string{}}
}

// LoadSettings reads sharing settings from path. A missing or malformed
// file yields the defaults.
func LoadSettings(path string) Settings {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings()
	}
	if settings.ExcludedGroups == nil {
		settings.ExcludedGroups = []string{}
	}
	return settings
}

// Options configures a Publisher.
type Options struct {
	// URL is the relay base URL, e.g. http://relay.example:3001.
	URL   string
	User  string
	Color string
	// Token is sent as a bearer credential when non-empty.
	Token string
	// SettingsPath locates sharing.json.
	SettingsPath string
	// Timeout bounds one POST; zero means the default.
	Timeout time.Duration
	Clock   clock.Clock
}

// Publisher filters and posts snapshots. Failures are logged and swallowed
// so publishing can never stall local observation; an exponential cool-down
// suppresses attempts after a failure and resets on the first success.
type Publisher struct {
	url          string
	user         string
	color        string
	token        string
	settingsPath string
	client       *http.Client
	clock        clock.Clock
	log          *logrus.Entry

	mu       sync.Mutex
	settings Settings
	watching bool
	coolDown *backoff.ExponentialBackOff
	nextTry  time.Time
}

// New builds a publisher with settings loaded once from disk. Call Watch
// to keep them live.
func New(opts Options) *Publisher {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coolDown := backoff.NewExponentialBackOff()
	coolDown.InitialInterval = 5 * time.Second
	coolDown.MaxInterval = 2 * time.Minute
	coolDown.MaxElapsedTime = 0 // keep retrying for the process lifetime

	return &Publisher{
		url:          opts.URL,
		user:         opts.User,
		color:        opts.Color,
		token:        opts.Token,
		settingsPath: opts.SettingsPath,
		client:       &http.Client{Timeout: timeout},
		clock:        clk,
		log:          logging.NewLogger("publish"),
		settings:     LoadSettings(opts.SettingsPath),
		coolDown:     coolDown,
	}
}

// Watch reloads sharing settings whenever the file changes. If a watcher
// cannot be established the publisher falls back to re-reading the file on
// every publish.
func (p *Publisher) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.WithError(err).Warn("Settings watcher unavailable; re-reading on every publish")
		return
	}
	if err := watcher.Add(filepath.Dir(p.settingsPath)); err != nil {
		watcher.Close()
		p.log.WithError(err).Warn("Cannot watch settings directory; re-reading on every publish")
		return
	}

	p.mu.Lock()
	p.watching = true
	p.settings = LoadSettings(p.settingsPath)
	p.mu.Unlock()

	go func() {
		defer watcher.Close()
		base := filepath.Base(p.settingsPath)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				settings := LoadSettings(p.settingsPath)
				p.mu.Lock()
				p.settings = settings
				p.mu.Unlock()
				p.log.WithField("enabled", settings.Enabled).Info("Sharing settings reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.WithError(err).Warn("Settings watcher error")
			}
		}
	}()
}

// publishPayload is the body posted to the relay.
type publishPayload struct {
	User     string          `json:"user"`
	Color    string          `json:"color,omitempty"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

// Publish sends the snapshot if sharing is enabled and the cool-down has
// passed. It never returns an error: a failed push is a log line, not a
// poll failure.
func (p *Publisher) Publish(ctx context.Context, snap *model.Snapshot) {
	settings := p.currentSettings()
	if !settings.Enabled {
		return
	}
	p.mu.Lock()
	wait := p.nextTry
	p.mu.Unlock()
	if p.clock.Now().Before(wait) {
		p.log.Debug("Publish skipped during cool-down")
		return
	}

	payload := publishPayload{
		User:     p.user,
		Color:    p.color,
		Snapshot: filterSnapshot(snap, settings.ExcludedGroups),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.fail(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/publish", bytes.NewReader(body))
	if err != nil {
		p.fail(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.fail(err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		p.fail(fmt.Errorf("relay returned %s", resp.Status))
		return
	}
	p.succeed()
}

func (p *Publisher) currentSettings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.watching {
		p.settings = LoadSettings(p.settingsPath)
	}
	return p.settings
}

func (p *Publisher) fail(err error) {
	p.mu.Lock()
	delay := p.coolDown.NextBackOff()
	p.nextTry = p.clock.Now().Add(delay)
	p.mu.Unlock()
	p.log.WithError(err).Warnf("Publish failed; cooling down for %s", delay.Round(time.Millisecond))
}

func (p *Publisher) succeed() {
	p.mu.Lock()
	p.coolDown.Reset()
	p.nextTry = time.Time{}
	p.mu.Unlock()
}

// filterSnapshot drops sessions in excluded groups and rebuilds the group
// list. Waiting-time economics stay host-level: awaitingAgentMinutes and
// longestWait pass through unchanged while blockedCount is recomputed over
// the sessions actually shared.
func filterSnapshot(snap *model.Snapshot, excluded []string) *model.Snapshot {
	if len(excluded) == 0 {
		return snap
	}
	drop := make(map[string]struct{}, len(excluded))
	for _, g := range excluded {
		drop[g] = struct{}{}
	}

	kept := make([]model.Session, 0, len(snap.Sessions))
	blocked := 0
	for _, sess := range snap.Sessions {
		if _, ok := drop[sess.Group]; ok {
			continue
		}
		kept = append(kept, sess)
		if sess.State == model.StateBlocked {
			blocked++
		}
	}
	return &model.Snapshot{
		Timestamp: snap.Timestamp,
		Sessions:  kept,
		Groups:    model.BuildGroups(kept),
		Metrics: model.Metrics{
			AwaitingAgentMinutes: snap.Metrics.AwaitingAgentMinutes,
			LongestWait:          snap.Metrics.LongestWait,
			BlockedCount:         blocked,
		},
	}
}
