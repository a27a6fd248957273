package discovery

import (
	"strconv"
	"strings"
	"time"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// psArgs requests the fixed columns both OS backends parse. lstart
// expands to five whitespace-separated tokens.
var psArgs = []string{"axo", "pid,ppid,pcpu,rss,tty,lstart,command"}

// lstartLayout matches the five lstart tokens after whitespace collapsing,
// e.g. "Thu Feb 6 14:30:00 2026". ps prints start times in local time.
const lstartLayout = "Mon Jan 2 15:04:05 2006"

// minPSFields is pid, ppid, pcpu, rss, tty, five lstart tokens, and at
// least one command token.
const minPSFields = 11

// parsePS parses a full ps listing into raw processes, header skipped.
// Malformed lines are dropped silently. The command filter is not applied
// here: hasChildren derivation needs the complete listing.
func parsePS(output []byte, loc *time.Location) []model.RawProcess {
	lines := strings.Split(string(output), "\n")
	procs := make([]model.RawProcess, 0, len(lines))
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if p, ok := parsePSLine(line, loc); ok {
			procs = append(procs, p)
		}
	}
	return procs
}

func parsePSLine(line string, loc *time.Location) (model.RawProcess, bool) {
	fields := strings.Fields(line)
	if len(fields) < minPSFields {
		return model.RawProcess{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.RawProcess{}, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.RawProcess{}, false
	}
	cpu, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.RawProcess{}, false
	}
	rssKB, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return model.RawProcess{}, false
	}
	tty := fields[4]
	// "??" on macOS, "?" on Linux: no controlling terminal.
	if tty == "??" || tty == "?" {
		tty = model.DetachedTTY
	}
	startTime, err := time.ParseInLocation(lstartLayout, strings.Join(fields[5:10], " "), loc)
	if err != nil {
		return model.RawProcess{}, false
	}
	return model.RawProcess{
		PID:        pid,
		PPID:       ppid,
		CPUPercent: cpu,
		RSSBytes:   rssKB * 1024,
		TTY:        tty,
		StartTime:  startTime,
		Command:    strings.Join(fields[10:], " "),
	}, true
}

// filterAssistants keeps assistant processes and derives hasChildren from
// the complete listing.
func filterAssistants(all []model.RawProcess) []model.RawProcess {
	parents := make(map[int]bool, len(all))
	for _, p := range all {
		parents[p.PPID] = true
	}
	var out []model.RawProcess
	for _, p := range all {
		if !isAssistantCommand(p.Command) {
			continue
		}
		p.HasChildren = parents[p.PID]
		out = append(out, p)
	}
	return out
}

// isAssistantCommand reports whether a command line names an observed
// assistant process.
func isAssistantCommand(cmd string) bool {
	if cmd == "claude" {
		return true
	}
	return strings.Contains(cmd, "/claude") ||
		strings.Contains(cmd, "@anthropic/claude-code") ||
		strings.Contains(cmd, "claude-code")
}

// pidList formats PIDs for lsof's comma-separated -p argument.
func pidList(procs []model.RawProcess) string {
	parts := make([]string, len(procs))
	for i, p := range procs {
		parts[i] = strconv.Itoa(p.PID)
	}
	return strings.Join(parts, ",")
}

// applyCwds fills in resolved working directories, substituting the
// unknown sentinel where resolution failed.
func applyCwds(procs []model.RawProcess, cwds map[int]string) {
	for i := range procs {
		if cwd, ok := cwds[procs[i].PID]; ok && cwd != "" {
			procs[i].CWD = cwd
		} else {
			procs[i].CWD = model.UnknownCWD
		}
	}
}
