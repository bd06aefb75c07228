package virtualbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func init() {
	retryDelay = func(int) time.Duration { return 0 } // don't actually sleep in tests
}

type fakeDriver struct {
	openErr error
}

func (f *fakeDriver) Open() error  { return f.openErr }
func (f *fakeDriver) Close() error { return nil }
func (f *fakeDriver) Create() (virtualHandle, error) {
	return &fakeVirtual{}, nil
}

type fakeVirtual struct {
	connectAttempts int
	failUntil       int
	submitted       []State
	disconnected    bool
}

func (v *fakeVirtual) Connect() error {
	v.connectAttempts++
	if v.connectAttempts <= v.failUntil {
		return errors.New("not ready")
	}
	return nil
}
func (v *fakeVirtual) Submit(s State) error {
	v.submitted = append(v.submitted, s)
	return nil
}
func (v *fakeVirtual) Disconnect() error {
	v.disconnected = true
	return nil
}

func TestNewClientFailsWithInfrastructureMissing(t *testing.T) {
	_, err := NewClient(&fakeDriver{openErr: errors.New("no driver")})
	require.ErrorIs(t, err, ErrInfrastructureMissing)
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	c, err := NewClient(&fakeDriver{})
	require.NoError(t, err)

	ctrl, err := c.Create()
	require.NoError(t, err)
	fv := ctrl.handle.(*fakeVirtual)
	fv.failUntil = 3

	require.NoError(t, ctrl.Connect())
	require.Equal(t, 4, fv.connectAttempts)
}

func TestConnectExhaustsRetries(t *testing.T) {
	c, _ := NewClient(&fakeDriver{})
	ctrl, _ := c.Create()
	fv := ctrl.handle.(*fakeVirtual)
	fv.failUntil = 100

	err := ctrl.Connect()
	require.ErrorIs(t, err, ErrConnectFailed)
	require.Equal(t, maxConnectAttempts, fv.connectAttempts)
}

func TestSubmitRequiresExplicitCallPerUpdate(t *testing.T) {
	c, _ := NewClient(&fakeDriver{})
	ctrl, _ := c.Create()
	fv := ctrl.handle.(*fakeVirtual)

	require.NoError(t, ctrl.Submit(State{Buttons: GuideButtonBit}))
	require.NoError(t, ctrl.Submit(State{Buttons: 0}))
	require.Len(t, fv.submitted, 2)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, _ := NewClient(&fakeDriver{})
	ctrl, _ := c.Create()
	require.NoError(t, ctrl.Connect())

	require.NoError(t, ctrl.Disconnect())
	require.NoError(t, ctrl.Disconnect())
}
