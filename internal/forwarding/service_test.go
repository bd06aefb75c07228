package forwarding

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseybates-web/controlshift/internal/applog"
	"github.com/caseybates-web/controlshift/internal/profile"
	"github.com/caseybates-web/controlshift/internal/virtualbus"
)

type fakePoolController struct {
	id         int
	connectErr error
	submitted  []virtualbus.State
	disconnected bool
}

func (c *fakePoolController) Connect() error { return c.connectErr }
func (c *fakePoolController) Submit(s virtualbus.State) error {
	c.submitted = append(c.submitted, s)
	return nil
}
func (c *fakePoolController) Disconnect() error {
	c.disconnected = true
	return nil
}

type fakePoolClient struct {
	created   []*fakePoolController
	createErr error
	closed    bool
	nextConnectErr error
}

func (c *fakePoolClient) Create() (poolController, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	ctrl := &fakePoolController{id: len(c.created), connectErr: c.nextConnectErr}
	c.created = append(c.created, ctrl)
	return ctrl, nil
}

func (c *fakePoolClient) Close() error {
	c.closed = true
	return nil
}

type fakeSnapshotter struct {
	occupied map[int]bool
}

func (f *fakeSnapshotter) OccupiedSlots() map[int]bool {
	out := make(map[int]bool, len(f.occupied))
	for k, v := range f.occupied {
		out[k] = v
	}
	return out
}

type fakeFilterAdapter struct {
	hideErr        error
	hideFailOn     string
	setActiveErr   error
	clearAllCalls  int
	hidden         []string
	appRules       []string
	active         bool
}

func (f *fakeFilterAdapter) IsAvailable() bool { return true }
func (f *fakeFilterAdapter) AddAppRule(path string) error {
	f.appRules = append(f.appRules, path)
	return nil
}
func (f *fakeFilterAdapter) Hide(instanceID string) error {
	if f.hideFailOn != "" && instanceID == f.hideFailOn {
		return errors.New("hide failed")
	}
	f.hidden = append(f.hidden, instanceID)
	return nil
}
func (f *fakeFilterAdapter) Unhide(string) error { return nil }
func (f *fakeFilterAdapter) ClearAll() error {
	f.clearAllCalls++
	return nil
}
func (f *fakeFilterAdapter) SetActive(active bool) error {
	if f.setActiveErr != nil {
		return f.setActiveErr
	}
	f.active = active
	return nil
}

type fakeExtReader struct{}

func (fakeExtReader) ReadExtended(slot int) (ExtendedState, error) {
	return ExtendedState{Connected: true, Sequence: 1}, nil
}

func ptr(s string) *string { return &s }
func iptr(i int) *int      { return &i }

func newTestService(client *fakePoolClient, filter *fakeFilterAdapter, snap *fakeSnapshotter) *Service {
	s := newService(
		func() (poolClient, error) { return client, nil },
		filter, snap, fakeExtReader{},
		time.Millisecond, 0, "", nil, applog.Nop(),
	)
	s.sleep = func(time.Duration) {}
	return s
}

func hidPath(igIndex int) string {
	return `\\?\HID#VID_045E&PID_02FD&IG_0` + string(rune('0'+igIndex)) + `#1#{guid}`
}

func TestStartGrowsPoolAndHidesAndActivatesFilter(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{occupied: map[int]bool{}}

	s := newTestService(client, filter, snap)
	// Simulate the OS assigning slot 2 to the first created virtual
	// during the post-growth settle window, by mutating the snapshot
	// from inside the injected sleep hook.
	s.sleep = func(time.Duration) { snap.occupied[2] = true }

	assignments := []profile.Assignment{
		{TargetSlot: 2, SourceSlot: iptr(0), SourcePath: ptr(hidPath(0))},
	}

	err := s.Start(assignments, `C:\controlshiftd.exe`)
	require.NoError(t, err)
	require.True(t, s.IsForwarding())
	require.Len(t, client.created, 1)
	require.Len(t, filter.hidden, 1)
	require.True(t, filter.active)
	s.Stop()
}

func TestStartRollsBackOnHideFailure(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{occupied: map[int]bool{0: true, 1: true}}

	s := newTestService(client, filter, snap)
	pathA := hidPath(0)
	pathB := hidPath(1)
	filter.hideFailOn = FilterInstanceID(pathB)

	assignments := []profile.Assignment{
		{TargetSlot: 0, SourceSlot: iptr(0), SourcePath: ptr(pathA)},
		{TargetSlot: 1, SourceSlot: iptr(1), SourcePath: ptr(pathB)},
	}
	// Pre-seed the pool so no growth is needed (assignments resolve
	// targets against an already-populated virtualByTargetSlot map).
	s.pool = []poolController{&fakePoolController{}, &fakePoolController{}}
	s.virtualByTargetSlot = map[int]poolController{0: s.pool[0], 1: s.pool[1]}

	err := s.Start(assignments, `C:\controlshiftd.exe`)
	require.ErrorIs(t, err, ErrFilterMutationFailed)
	require.False(t, s.IsForwarding())
	require.Equal(t, 1, filter.clearAllCalls)
	require.Len(t, s.pool, 2) // pool size unchanged, it was pre-seeded not grown this call
	require.False(t, filter.active)
}

func TestUpdateMappingRequiresForwarding(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{}
	s := newTestService(client, filter, snap)

	err := s.UpdateMapping(nil)
	require.ErrorIs(t, err, ErrNotForwarding)
}

func TestUpdateMappingSwapsTargetsWithoutFilterOrChannelChurn(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{occupied: map[int]bool{0: true, 1: true}}
	s := newTestService(client, filter, snap)

	s.pool = []poolController{&fakePoolController{}, &fakePoolController{}}
	s.virtualByTargetSlot = map[int]poolController{0: s.pool[0], 1: s.pool[1]}

	assignments := []profile.Assignment{
		{TargetSlot: 0, SourceSlot: iptr(0), SourcePath: ptr(hidPath(0))},
		{TargetSlot: 1, SourceSlot: iptr(1), SourcePath: ptr(hidPath(1))},
	}
	require.NoError(t, s.Start(assignments, `C:\controlshiftd.exe`))
	clearCallsAfterStart := filter.clearAllCalls

	remap := []profile.Assignment{
		{TargetSlot: 1, SourceSlot: iptr(0), SourcePath: ptr(hidPath(0))},
		{TargetSlot: 0, SourceSlot: iptr(1), SourcePath: ptr(hidPath(1))},
	}
	err := s.UpdateMapping(remap)
	require.NoError(t, err)
	require.Equal(t, clearCallsAfterStart, filter.clearAllCalls) // no filter mutation

	ch0 := s.channels[0]
	ch1 := s.channels[1]
	require.Equal(t, 1, ch0.TargetSlot())
	require.Equal(t, 0, ch1.TargetSlot())

	s.Stop()
}

func TestStopIsIdempotentAndClearsFilterEachTime(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{}
	s := newTestService(client, filter, snap)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.Equal(t, 2, filter.clearAllCalls)
}

func TestRevertAllDropsPoolAndClient(t *testing.T) {
	client := &fakePoolClient{}
	filter := &fakeFilterAdapter{}
	snap := &fakeSnapshotter{occupied: map[int]bool{0: true}}
	s := newTestService(client, filter, snap)

	s.client = client
	ctrl := &fakePoolController{}
	s.pool = []poolController{ctrl}
	s.virtualByTargetSlot = map[int]poolController{0: ctrl}

	require.NoError(t, s.RevertAll())
	require.Empty(t, s.pool)
	require.Empty(t, s.virtualByTargetSlot)
	require.True(t, ctrl.disconnected)
	require.True(t, client.closed)
	require.False(t, s.IsForwarding())
}
