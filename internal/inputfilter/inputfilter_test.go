package inputfilter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDriverHandle struct {
	available bool

	deactivateCalls      int
	clearBlockedCalls    int
	clearAppAllowCalls   int
	deactivateErr        error
	clearBlockedErr      error
	clearAppAllowErr     error

	hidden  []string
	shown   []string
	rules   []string
	active  *bool
}

func (f *fakeDriverHandle) Available() bool { return f.available }

func (f *fakeDriverHandle) AddAppRule(path string) error {
	f.rules = append(f.rules, path)
	return nil
}

func (f *fakeDriverHandle) Hide(instanceID string) error {
	f.hidden = append(f.hidden, instanceID)
	return nil
}

func (f *fakeDriverHandle) Unhide(instanceID string) error {
	f.shown = append(f.shown, instanceID)
	return nil
}

func (f *fakeDriverHandle) Deactivate() error {
	f.deactivateCalls++
	return f.deactivateErr
}

func (f *fakeDriverHandle) ClearBlockedList() error {
	f.clearBlockedCalls++
	return f.clearBlockedErr
}

func (f *fakeDriverHandle) ClearAppAllowList() error {
	f.clearAppAllowCalls++
	return f.clearAppAllowErr
}

func (f *fakeDriverHandle) SetActive(active bool) error {
	f.active = &active
	return nil
}

func TestClearAllRunsEverySubStepEvenWhenOneFails(t *testing.T) {
	driver := &fakeDriverHandle{
		available:     true,
		deactivateErr: errors.New("deactivate failed"),
	}
	f := New(driver)

	err := f.ClearAll()
	require.Error(t, err)
	require.Equal(t, 1, driver.deactivateCalls)
	require.Equal(t, 1, driver.clearBlockedCalls)
	require.Equal(t, 1, driver.clearAppAllowCalls)
}

func TestClearAllSucceedsWhenAllSubStepsSucceed(t *testing.T) {
	driver := &fakeDriverHandle{available: true}
	f := New(driver)

	require.NoError(t, f.ClearAll())
}

func TestClearAllIsIdempotent(t *testing.T) {
	driver := &fakeDriverHandle{available: true}
	f := New(driver)

	require.NoError(t, f.ClearAll())
	require.NoError(t, f.ClearAll())
	require.Equal(t, 2, driver.deactivateCalls)
	require.Equal(t, 2, driver.clearBlockedCalls)
	require.Equal(t, 2, driver.clearAppAllowCalls)
}

func TestIsAvailableReflectsDriverProbe(t *testing.T) {
	f := New(&fakeDriverHandle{available: false})
	require.False(t, f.IsAvailable())

	f = New(&fakeDriverHandle{available: true})
	require.True(t, f.IsAvailable())
}

func TestHideAndUnhidePassThroughInstanceID(t *testing.T) {
	driver := &fakeDriverHandle{available: true}
	f := New(driver)

	require.NoError(t, f.Hide("USB\\VID_045E&PID_02FD\\6&123"))
	require.NoError(t, f.Unhide("USB\\VID_045E&PID_02FD\\6&123"))
	require.Equal(t, []string{"USB\\VID_045E&PID_02FD\\6&123"}, driver.hidden)
	require.Equal(t, []string{"USB\\VID_045E&PID_02FD\\6&123"}, driver.shown)
}

func TestNullAdapterIsUnavailableAndAllCallsNoop(t *testing.T) {
	n := Null()
	require.False(t, n.IsAvailable())
	require.NoError(t, n.AddAppRule(`C:\Games\game.exe`))
	require.NoError(t, n.Hide("anything"))
	require.NoError(t, n.Unhide("anything"))
	require.NoError(t, n.ClearAll())
	require.NoError(t, n.SetActive(true))
}
