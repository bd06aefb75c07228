// Package forwarding implements the forwarding channel and the
// forwarding service: the per-physical-slot read/submit loop and the
// serialized start/update_mapping/stop/revert_all mutator that owns the
// virtual-controller pool and the channel set.
//
// Grounded on hidinput.go's HIDReader read loop (a dedicated goroutine
// per device, reading fixed-size reports and handing them to a
// callback) generalized from "one report format" to "poll an extended
// state query, skip unchanged packets, submit to whatever virtual
// target is currently assigned" — and on main.go's Manager/ActiveDriver
// (one owner holding every active driver, atomic slot reassignment on
// device change) for the Service's pool/channel ownership shape.
package forwarding

import (
	"sync"
	"sync/atomic"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/caseybates-web/controlshift/internal/metrics"
	"github.com/caseybates-web/controlshift/internal/virtualbus"
)

// ExtendedState is one poll of the "extended" per-slot state query: the
// standard state plus the Guide button bit the ordinary query masks off,
// plus a packet sequence number used to skip resubmission of an
// unchanged packet.
type ExtendedState struct {
	Connected    bool
	Sequence     uint32
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

// extendedStateReader is the OS-specific per-slot extended query,
// abstracted so tests can fake it without touching real syscalls.
type extendedStateReader interface {
	ReadExtended(slot int) (ExtendedState, error)
}

// submitter is the subset of *virtualbus.Controller a channel needs.
type submitter interface {
	Submit(virtualbus.State) error
}

// ForwardingError is emitted when a channel's source slot stops
// responding.
type ForwardingError struct {
	PhysicalSlot int
	Err          error
}

func (e *ForwardingError) Error() string { return e.Err.Error() }

// target is the atomically-swapped (target_slot, virtual_ref) pair.
type target struct {
	slot    int
	virtual submitter
}

// Channel is the per-physical-slot forwarding loop: physical_slot is
// fixed for its life; target and virtual_ref are hot-swappable via
// SwapTarget.
type Channel struct {
	physicalSlot int
	source       extendedStateReader
	pollInterval time.Duration

	target atomic.Value // holds target

	errs    chan<- ForwardingError
	metrics *metrics.Registry
	logger  kitlog.Logger

	cancel chan struct{}
	done   chan struct{}

	hasSeq  bool
	lastSeq uint32

	stopOnce sync.Once
}

// NewChannel builds a channel reading physicalSlot at pollInterval and
// submitting to initialTargetSlot/initialVirtual until SwapTarget is
// called. errs receives a ForwardingError when the source vanishes;
// callers should give it a buffered or always-drained channel.
func NewChannel(physicalSlot int, source extendedStateReader, pollInterval time.Duration,
	initialTargetSlot int, initialVirtual submitter, errs chan<- ForwardingError,
	m *metrics.Registry, logger kitlog.Logger) *Channel {
	c := &Channel{
		physicalSlot: physicalSlot,
		source:       source,
		pollInterval: pollInterval,
		errs:         errs,
		metrics:      m,
		logger:       logger,
		cancel:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.target.Store(target{slot: initialTargetSlot, virtual: initialVirtual})
	return c
}

// PhysicalSlot returns the fixed source slot this channel reads.
func (c *Channel) PhysicalSlot() int { return c.physicalSlot }

// SwapTarget atomically updates the target slot and virtual reference;
// the next poll iteration picks it up. Never disconnects or disposes the
// previous virtual — the pool owns it.
func (c *Channel) SwapTarget(newTargetSlot int, newVirtual submitter) {
	c.target.Store(target{slot: newTargetSlot, virtual: newVirtual})
}

// TargetSlot returns the currently assigned target slot.
func (c *Channel) TargetSlot() int {
	return c.target.Load().(target).slot
}

// Run polls the source at pollInterval until the source reports
// disconnected (emits ForwardingError and returns) or Stop is called.
func (c *Channel) Run() {
	defer close(c.done)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.cancel:
			return
		case <-ticker.C:
			if !c.poll() {
				return
			}
		}
	}
}

// poll reads one extended state sample and submits it if the packet
// changed. Returns false if the loop should exit (source vanished).
func (c *Channel) poll() bool {
	ext, err := c.source.ReadExtended(c.physicalSlot)
	if err != nil || !ext.Connected {
		c.emitError(err)
		return false
	}

	if c.hasSeq && ext.Sequence == c.lastSeq {
		return true // unchanged packet, skip submission
	}
	c.hasSeq = true
	c.lastSeq = ext.Sequence

	tgt := c.target.Load().(target)
	state := virtualbus.State{
		Buttons:      ext.Buttons,
		LeftTrigger:  ext.LeftTrigger,
		RightTrigger: ext.RightTrigger,
		ThumbLX:      ext.ThumbLX,
		ThumbLY:      ext.ThumbLY,
		ThumbRX:      ext.ThumbRX,
		ThumbRY:      ext.ThumbRY,
	}
	if err := tgt.virtual.Submit(state); err != nil {
		level.Warn(c.logger).Log("msg", "forwarding submit failed", "physical_slot", c.physicalSlot, "target_slot", tgt.slot, "err", err)
		if c.metrics != nil {
			c.metrics.ChannelErrorsTotal.Inc()
		}
	}
	return true
}

func (c *Channel) emitError(err error) {
	if err == nil {
		err = errSourceVanished
	}
	if c.metrics != nil {
		c.metrics.ChannelErrorsTotal.Inc()
	}
	level.Warn(c.logger).Log("msg", "forwarding source vanished", "physical_slot", c.physicalSlot, "err", err)
	select {
	case c.errs <- ForwardingError{PhysicalSlot: c.physicalSlot, Err: err}:
	default:
	}
}

// Stop signals the loop to exit and waits for it to do so. Does not
// disconnect or drop the virtual controller — the pool owns it.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() { close(c.cancel) })
	<-c.done
}

var errSourceVanished = &forwardingSentinel{"forwarding: source slot reported not connected"}

type forwardingSentinel struct{ msg string }

func (s *forwardingSentinel) Error() string { return s.msg }
