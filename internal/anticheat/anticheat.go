// Package anticheat implements the anti-cheat guard: a bundled list of
// executable basenames with their anti-cheat family, a process-start
// watcher that feeds the forwarding service's revert_all, and the
// profile-save guard that refuses to silently apply a mapping targeting
// a listed executable.
//
// Grounded on main.go's device-scan poll loop (Manager.Scan) for the
// polling fallback's shape, and on this corpus's go-ole WMI usage
// (busclass/windows.go's Win32_PnPEntity chase) for the primary
// WMI event-subscription path.
package anticheat

import (
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/shirou/gopsutil/v4/process"
)

// Family names the anti-cheat product an executable belongs to.
type Family string

// Entry is one bundled executable/family pair.
type Entry struct {
	Executable string
	Family     Family
}

// Event is emitted when a listed executable starts.
type Event struct {
	Executable string
	Family     Family
}

// Guard holds the bundled list and dispatches matches to onMatch.
type Guard struct {
	mu      sync.Mutex
	entries map[string]Family
	onMatch func(Event)
	logger  kitlog.Logger
}

// New builds a Guard. onMatch is called (synchronously, from whichever
// watcher goroutine detected the process) for every listed executable
// that starts; it should trigger the Forwarding Service's revert_all
// before the game process fully initializes.
func New(entries []Entry, onMatch func(Event), logger kitlog.Logger) *Guard {
	m := make(map[string]Family, len(entries))
	for _, e := range entries {
		m[strings.ToLower(e.Executable)] = e.Family
	}
	return &Guard{entries: m, onMatch: onMatch, logger: logger}
}

// Match reports the anti-cheat family a basename belongs to, if any.
func (g *Guard) Match(executableBaseName string) (Family, bool) {
	f, ok := g.entries[strings.ToLower(executableBaseName)]
	return f, ok
}

// Names returns the bundled basenames, used to build the watcher's
// escaped WHERE-clause.
func (g *Guard) Names() []string {
	out := make([]string, 0, len(g.entries))
	for name := range g.entries {
		out = append(out, name)
	}
	return out
}

// CheckProfileTarget is called before a profile save commits. A target
// executable matching a listed entry must emit a warning and not
// silently apply — it does not prevent the caller from proceeding; that
// policy choice belongs to the caller.
func (g *Guard) CheckProfileTarget(targetExecutable string) (Family, bool) {
	f, ok := g.Match(targetExecutable)
	if ok {
		level.Warn(g.logger).Log("msg", "profile target matches a known anti-cheat executable, refusing to silently apply",
			"executable", targetExecutable, "family", f)
	}
	return f, ok
}

func (g *Guard) dispatch(basename string) {
	f, ok := g.Match(basename)
	if !ok {
		return
	}
	level.Info(g.logger).Log("msg", "anti-cheat process detected, triggering revert", "executable", basename, "family", f)
	g.onMatch(Event{Executable: basename, Family: f})
}

// processLister is the polling fallback's OS query, abstracted so tests
// don't need a real process table.
type processLister interface {
	ListProcessNames() ([]string, error)
}

// gopsutilLister lists every running process's basename via gopsutil, a
// real dependency of this corpus's cross-platform process tooling — the
// fallback path used when WMI event subscription can't be established.
type gopsutilLister struct{}

func (gopsutilLister) ListProcessNames() ([]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// NewPollingFallback builds the gopsutil-backed fallback lister.
func NewPollingFallback() processLister { return gopsutilLister{} }

// PollLoop runs until stop is closed, diffing consecutive process lists
// every interval and dispatching on every newly-appeared listed name.
// This synthesizes start events the way the WMI path receives them
// natively.
func (g *Guard) PollLoop(lister processLister, interval time.Duration, stop <-chan struct{}) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			names, err := lister.ListProcessNames()
			if err != nil {
				level.Warn(g.logger).Log("msg", "anti-cheat poll failed", "err", err)
				continue
			}
			next := make(map[string]bool, len(names))
			for _, n := range names {
				next[n] = true
				if !seen[n] {
					g.dispatch(n)
				}
			}
			seen = next
		}
	}
}
