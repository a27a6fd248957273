package relay

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// DefaultColor is assigned to publishers that omit a colour.
const DefaultColor = "#89CFF0"

// palette is the fixed colour wheel applied when two or more users are
// live, assigned in lexicographic order of user name.
var palette = [...]string{
	"#FF6B6B",
	"#4ECDC4",
	"#FFD93D",
	"#95E1D3",
	"#A78BFA",
	"#F9A8D4",
	"#FCA652",
	"#6BCB77",
}

// CombinedSession is a session annotated with its publishing user. The id
// is namespaced as <user>/<id>.
type CombinedSession struct {
	model.Session
	Owner      string `json:"owner"`
	OwnerColor string `json:"ownerColor"`
}

// CombinedGroup merges same-named groups across users.
type CombinedGroup struct {
	model.Group
	Owners []string `json:"owners"`
}

// MergedUser is a publisher as reported inside the combined view.
type MergedUser struct {
	Name         string `json:"name"`
	Color        string `json:"color"`
	SessionCount int    `json:"sessionCount"`
}

// Combined is the merged view across all live publishers.
type Combined struct {
	Timestamp string            `json:"timestamp"`
	Sessions  []CombinedSession `json:"sessions"`
	Groups    []CombinedGroup   `json:"groups"`
	Metrics   model.Metrics     `json:"metrics"`
	Users     []MergedUser      `json:"users"`
}

// Merge folds the entries into one combined snapshot. Entries are sorted
// by user name first, which fixes palette assignment, first-seen group
// cwds, and longest-wait tie-breaks regardless of input order. Nil or
// partial snapshots contribute empty data.
func Merge(entries []Entry, now time.Time) *Combined {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].User < sorted[j].User })

	combined := &Combined{
		Timestamp: model.Timestamp(now),
		Sessions:  []CombinedSession{},
		Groups:    []CombinedGroup{},
		Users:     []MergedUser{},
	}

	// With a single publisher their own colour stands; with two or more
	// every user is recoloured from the palette.
	colors := make(map[string]string, len(sorted))
	for i, e := range sorted {
		color := e.Color
		if color == "" {
			color = DefaultColor
		}
		if len(sorted) >= 2 {
			color = palette[i%len(palette)]
		}
		colors[e.User] = color
	}

	groupIndex := make(map[string]int)
	totalAwaitingMinutes := 0.0
	for _, e := range sorted {
		snap := e.Snapshot
		if snap == nil {
			snap = &model.Snapshot{}
		}
		color := colors[e.User]

		combined.Users = append(combined.Users, MergedUser{
			Name:         e.User,
			Color:        color,
			SessionCount: len(snap.Sessions),
		})

		for _, sess := range snap.Sessions {
			cs := CombinedSession{Session: sess, Owner: e.User, OwnerColor: color}
			cs.ID = e.User + "/" + sess.ID
			combined.Sessions = append(combined.Sessions, cs)
		}

		for _, g := range snap.Groups {
			i, ok := groupIndex[g.ID]
			if !ok {
				i = len(combined.Groups)
				groupIndex[g.ID] = i
				combined.Groups = append(combined.Groups, CombinedGroup{
					Group: model.Group{ID: g.ID, CWD: g.CWD, SessionIDs: []string{}},
				})
			}
			cg := &combined.Groups[i]
			cg.SessionCount += g.SessionCount
			for _, id := range g.SessionIDs {
				cg.SessionIDs = append(cg.SessionIDs, e.User+"/"+id)
			}
			if !slices.Contains(cg.Owners, e.User) {
				cg.Owners = append(cg.Owners, e.User)
			}
		}

		combined.Metrics.BlockedCount += snap.Metrics.BlockedCount
		totalAwaitingMinutes += snap.Metrics.AwaitingAgentMinutes
		if lw := snap.Metrics.LongestWait; lw != nil {
			if combined.Metrics.LongestWait == nil || lw.Seconds > combined.Metrics.LongestWait.Seconds {
				namespaced := *lw
				namespaced.SessionID = e.User + "/" + lw.SessionID
				combined.Metrics.LongestWait = &namespaced
			}
		}
	}
	combined.Metrics.AwaitingAgentMinutes = math.Round(totalAwaitingMinutes*10) / 10

	return combined
}
