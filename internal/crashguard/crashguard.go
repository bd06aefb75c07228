// Package crashguard installs the process-wide safety net that keeps a
// crash or a forced kill from leaving every physical gamepad hidden from
// every other process.
//
// Grounded on main.go's deferred cleanup (manager.Close() under a defer
// so Ctrl-C and normal exit release every claimed device the same way)
// — generalized from "one deferred Close" to "wipe filter residue on
// install, then run clear_all again on an interrupt signal or an orderly
// Stop." A panic or a forced kill skips that exit-time clear; the rules
// it leaves behind are wiped by the next process's Install.
package crashguard

import (
	"os"
	"os/signal"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// filterAdapter is the subset of inputfilter.Adapter the guard needs.
type filterAdapter interface {
	ClearAll() error
}

// Guard owns the one-time install and the repeatable, failure-swallowing
// cleanup. Every handler MUST swallow failures — this runs on crash
// paths, where re-raising only trades one bad state for a worse one.
type Guard struct {
	filter filterAdapter
	logger kitlog.Logger

	once sync.Once

	sigCh  chan os.Signal
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Guard over the given filter adapter.
func New(filter filterAdapter, logger kitlog.Logger) *Guard {
	return &Guard{
		filter: filter,
		logger: logger,
		sigCh:  make(chan os.Signal, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Install wipes any residue from a prior crash, then arms the exit hook.
// Safe to call more than once; only the first call has effect.
func (g *Guard) Install() {
	g.once.Do(func() {
		g.wipeResidue("install")
		signal.Notify(g.sigCh, os.Interrupt)
		go g.watch()
	})
}

func (g *Guard) watch() {
	defer close(g.doneCh)
	select {
	case <-g.sigCh:
		g.wipeResidue("signal")
	case <-g.stopCh:
		g.wipeResidue("shutdown")
	}
}

// Run implements the oklog/run actor signature: it blocks until Stop
// closes the guard's own channel or a process signal arrives, then
// performs cleanup either way.
func (g *Guard) Run() error {
	g.Install()
	<-g.doneCh
	return nil
}

// Stop is the oklog/run interrupt function: it triggers the same
// cleanup path Run's signal case would, then waits for it to finish.
func (g *Guard) Stop(error) {
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	<-g.doneCh
}

func (g *Guard) wipeResidue(reason string) {
	if err := g.filter.ClearAll(); err != nil {
		level.Warn(g.logger).Log("msg", "crash guard clear_all failed, swallowing", "reason", reason, "err", err)
		return
	}
	level.Info(g.logger).Log("msg", "crash guard clear_all succeeded", "reason", reason)
}
