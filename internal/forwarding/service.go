package forwarding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/caseybates-web/controlshift/internal/hidenum"
	"github.com/caseybates-web/controlshift/internal/inputfilter"
	"github.com/caseybates-web/controlshift/internal/metrics"
	"github.com/caseybates-web/controlshift/internal/profile"
	"github.com/caseybates-web/controlshift/internal/virtualbus"
)

var (
	// ErrAlreadyForwarding is returned by Start when forwarding is
	// already active.
	ErrAlreadyForwarding = errors.New("forwarding: already forwarding")
	// ErrNotForwarding is returned by UpdateMapping's precondition check.
	ErrNotForwarding = errors.New("forwarding: not forwarding")
	// ErrInfrastructureMissing wraps virtualbus's sentinel so callers of
	// this package only need to know one error surface.
	ErrInfrastructureMissing = virtualbus.ErrInfrastructureMissing
	// ErrVirtualCreationFailed wraps a connect-retry exhaustion during
	// pool growth.
	ErrVirtualCreationFailed = errors.New("forwarding: virtual creation failed")
	// ErrFilterMutationFailed wraps any single filter call failing
	// during start.
	ErrFilterMutationFailed = errors.New("forwarding: filter mutation failed")
)

// slotSnapshotter is the subset of *slotprobe.Prober the service needs
// for its pre/post pool-growth diff.
type slotSnapshotter interface {
	OccupiedSlots() map[int]bool
}

// poolController and poolClient are the narrow surface the pool needs
// from a virtual gamepad and its owning bus client — kept separate from
// virtualbus's own concrete types so tests can fake the pool without
// reaching into virtualbus's unexported interfaces.
// *virtualbus.Controller already satisfies poolController; virtualBusPool
// adapts *virtualbus.Client to poolClient.
type poolController interface {
	Connect() error
	Submit(virtualbus.State) error
	Disconnect() error
}

type poolClient interface {
	Create() (poolController, error)
	Close() error
}

type virtualBusPool struct{ c *virtualbus.Client }

func (v *virtualBusPool) Create() (poolController, error) {
	ctrl, err := v.c.Create()
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

func (v *virtualBusPool) Close() error { return v.c.Close() }

// FilterInstanceID transforms a HID path into the instance id the input
// filter driver expects: the same dedup transform hidenum.InstanceID
// applies, with every remaining '#' turned into '\'.
func FilterInstanceID(path string) string {
	return strings.ReplaceAll(hidenum.InstanceID(path), "#", `\`)
}

// Service implements the forwarding service: a single serialized
// mutator owning the virtual-controller pool and the channel set across
// start/update_mapping/stop/revert_all.
type Service struct {
	mu sync.Mutex

	ensureClient      func() (poolClient, error)
	filter            inputfilter.Adapter
	probe             slotSnapshotter
	source            extendedStateReader
	pollInterval      time.Duration
	settleDelay       time.Duration
	sleep             func(time.Duration)
	overlayHelperPath string
	metrics           *metrics.Registry
	logger            kitlog.Logger

	client              poolClient
	pool                []poolController
	virtualByTargetSlot map[int]poolController
	channels            map[int]*Channel // keyed by physical (source) slot
	forwarding          bool
}

// NewService builds a Service for production use. ensureClient is called
// at most once per pool-growth episode and should return a connected
// *virtualbus.Client (wiring: virtualbus.NewClient(virtualbus.NewWindowsBus())).
func NewService(ensureClient func() (*virtualbus.Client, error), filter inputfilter.Adapter,
	probe slotSnapshotter, source extendedStateReader, pollInterval, settleDelay time.Duration,
	overlayHelperPath string, m *metrics.Registry, logger kitlog.Logger) *Service {
	wrapped := func() (poolClient, error) {
		c, err := ensureClient()
		if err != nil {
			return nil, err
		}
		return &virtualBusPool{c: c}, nil
	}
	return newService(wrapped, filter, probe, source, pollInterval, settleDelay, overlayHelperPath, m, logger)
}

// newService is the test-facing constructor taking the narrow poolClient
// factory directly, so package-local tests can fake the pool.
func newService(ensureClient func() (poolClient, error), filter inputfilter.Adapter,
	probe slotSnapshotter, source extendedStateReader, pollInterval, settleDelay time.Duration,
	overlayHelperPath string, m *metrics.Registry, logger kitlog.Logger) *Service {
	return &Service{
		ensureClient:      ensureClient,
		filter:            filter,
		probe:             probe,
		source:            source,
		pollInterval:      pollInterval,
		settleDelay:       settleDelay,
		sleep:             time.Sleep,
		overlayHelperPath: overlayHelperPath,
		metrics:           m,
		logger:            logger,
	}
}

// IsForwarding reports whether Start has succeeded and Stop/RevertAll
// haven't since been called.
func (s *Service) IsForwarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwarding
}

// Start begins forwarding the given assignments. Precondition: not
// currently forwarding.
func (s *Service) Start(assignments []profile.Assignment, ownAppPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwarding {
		return ErrAlreadyForwarding
	}

	sessionID := uuid.NewString()
	logger := kitlog.With(s.logger, "session", sessionID)
	level.Info(logger).Log("msg", "forwarding start requested", "assignments", len(assignments))

	needed := 0
	for _, a := range assignments {
		if a.SourcePath != nil {
			needed++
		}
	}

	prevPoolSize := len(s.pool)
	clientCreatedHere := false

	if needed > len(s.pool) {
		pre := s.probe.OccupiedSlots()
		if s.client == nil {
			c, err := s.ensureClient()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInfrastructureMissing, err)
			}
			s.client = c
			clientCreatedHere = true
		}
		for len(s.pool) < needed {
			ctrl, err := s.client.Create()
			if err != nil {
				s.rollback(prevPoolSize, clientCreatedHere)
				return fmt.Errorf("%w: %v", ErrVirtualCreationFailed, err)
			}
			if err := ctrl.Connect(); err != nil {
				s.rollback(prevPoolSize, clientCreatedHere)
				return fmt.Errorf("%w: %v", ErrVirtualCreationFailed, err)
			}
			s.pool = append(s.pool, ctrl)
		}
		s.sleep(s.settleDelay)
		post := s.probe.OccupiedSlots()
		newSlots := diffSlots(pre, post)
		if s.virtualByTargetSlot == nil {
			s.virtualByTargetSlot = make(map[int]poolController)
		}
		// Pair newly observed slots with the pool elements created this
		// call, in order. If fewer slots appeared than expected (the
		// 300ms-race open question), log it and leave the pre-snapshot
		// authoritative: excess new pool elements simply have no slot
		// mapping yet, and won't be usable as an update_mapping target
		// until the next device change settles things.
		if len(newSlots) < needed-prevPoolSize {
			level.Warn(logger).Log("msg", "fewer new slots observed than pool growth; keeping pre-snapshot authoritative",
				"expected", needed-prevPoolSize, "observed", len(newSlots))
		}
		for i, slot := range newSlots {
			idx := prevPoolSize + i
			if idx >= len(s.pool) {
				break
			}
			s.virtualByTargetSlot[slot] = s.pool[idx]
		}
	}

	if err := s.filter.AddAppRule(ownAppPath); err != nil {
		s.rollback(prevPoolSize, clientCreatedHere)
		return fmt.Errorf("%w: %v", ErrFilterMutationFailed, err)
	}
	if s.overlayHelperPath != "" {
		// Permissive per the open policy question: a failure here
		// degrades Guide-button routing, never blocks forwarding.
		_ = s.filter.AddAppRule(s.overlayHelperPath)
	}

	var started []*Channel
	expectedSlots := make(map[int]bool, len(assignments))
	// One error channel per Start call, sized so every channel's single
	// error fits, keeps an earlier session's watcher off this one's errors.
	errs := make(chan ForwardingError, len(assignments))
	for _, a := range assignments {
		if a.SourcePath == nil || a.SourceSlot == nil {
			continue
		}
		instanceID := FilterInstanceID(*a.SourcePath)
		if err := s.filter.Hide(instanceID); err != nil {
			for _, ch := range started {
				ch.Stop()
			}
			s.rollback(prevPoolSize, clientCreatedHere)
			return fmt.Errorf("%w: %v", ErrFilterMutationFailed, err)
		}
		virt, ok := s.virtualByTargetSlot[a.TargetSlot]
		if !ok {
			for _, ch := range started {
				ch.Stop()
			}
			s.rollback(prevPoolSize, clientCreatedHere)
			return fmt.Errorf("%w: no virtual assigned to target slot %d", ErrFilterMutationFailed, a.TargetSlot)
		}
		ch := NewChannel(*a.SourceSlot, s.source, s.pollInterval, a.TargetSlot, virt, errs, s.metrics, s.logger)
		expectedSlots[*a.SourceSlot] = true
		go ch.Run()
		started = append(started, ch)
	}

	// Activate globally only after every device is on the blocked list.
	if err := s.filter.SetActive(true); err != nil {
		for _, ch := range started {
			ch.Stop()
		}
		s.rollback(prevPoolSize, clientCreatedHere)
		return fmt.Errorf("%w: %v", ErrFilterMutationFailed, err)
	}

	s.channels = make(map[int]*Channel, len(started))
	for _, ch := range started {
		s.channels[ch.PhysicalSlot()] = ch
	}
	s.forwarding = true
	if s.metrics != nil {
		s.metrics.ForwardingStarts.Inc()
	}
	level.Info(logger).Log("msg", "forwarding started", "channels", len(started))
	go s.watchForAllChannelsFailed(errs, expectedSlots)
	return nil
}

// UpdateMapping hot-swaps channel targets without touching the filter,
// virtuals, or threads. Precondition: is_forwarding.
func (s *Service) UpdateMapping(assignments []profile.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.forwarding {
		return ErrNotForwarding
	}
	for _, a := range assignments {
		if a.SourceSlot == nil || a.SourcePath == nil {
			continue
		}
		ch, ok := s.channels[*a.SourceSlot]
		if !ok {
			continue
		}
		virt, ok := s.virtualByTargetSlot[a.TargetSlot]
		if !ok {
			continue
		}
		ch.SwapTarget(a.TargetSlot, virt)
	}
	return nil
}

// Stop disposes all channels and clears the filter, but keeps the
// virtual pool so a subsequent Start reuses it. Idempotent: calling it
// when not forwarding still invokes filter.ClearAll.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	for _, ch := range s.channels {
		ch.Stop()
	}
	s.channels = nil
	err := s.filter.ClearAll()
	s.forwarding = false
	if s.metrics != nil {
		s.metrics.ForwardingStops.Inc()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilterMutationFailed, err)
	}
	return nil
}

// RevertAll disposes channels, clears the filter, and disconnects and
// drops every virtual, including the client. Idempotent.
func (s *Service) RevertAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		ch.Stop()
	}
	s.channels = nil
	err := s.filter.ClearAll()
	for _, ctrl := range s.pool {
		_ = ctrl.Disconnect()
	}
	s.pool = nil
	s.virtualByTargetSlot = nil
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.forwarding = false
	if s.metrics != nil {
		s.metrics.ForwardingStops.Inc()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilterMutationFailed, err)
	}
	return nil
}

// rollback undoes partial start-time side effects: clears the filter
// (exactly once per failed Start call), drops any pool growth back to
// its pre-call size, and drops the client if this call created it.
func (s *Service) rollback(prevPoolSize int, dropClient bool) {
	_ = s.filter.ClearAll()
	if s.metrics != nil {
		s.metrics.ForwardingRollbacks.Inc()
	}
	for len(s.pool) > prevPoolSize {
		last := s.pool[len(s.pool)-1]
		_ = last.Disconnect()
		s.pool = s.pool[:len(s.pool)-1]
	}
	s.pruneVirtualByTargetSlot()
	if dropClient {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *Service) pruneVirtualByTargetSlot() {
	alive := make(map[poolController]bool, len(s.pool))
	for _, c := range s.pool {
		alive[c] = true
	}
	for slot, c := range s.virtualByTargetSlot {
		if !alive[c] {
			delete(s.virtualByTargetSlot, slot)
		}
	}
}

// watchForAllChannelsFailed schedules an automatic Stop once every
// channel started by one Start call has reported a ForwardingError.
func (s *Service) watchForAllChannelsFailed(errs <-chan ForwardingError, expectedSlots map[int]bool) {
	errored := make(map[int]bool, len(expectedSlots))
	for e := range errs {
		if !expectedSlots[e.PhysicalSlot] {
			continue
		}
		errored[e.PhysicalSlot] = true
		if len(errored) == len(expectedSlots) {
			_ = s.Stop()
			return
		}
	}
}

func diffSlots(pre, post map[int]bool) []int {
	var out []int
	for slot := range post {
		if !pre[slot] {
			out = append(out, slot)
		}
	}
	sort.Ints(out)
	return out
}
