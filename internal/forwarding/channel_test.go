package forwarding

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseybates-web/controlshift/internal/applog"
	"github.com/caseybates-web/controlshift/internal/virtualbus"
)

type fakeExtendedSource struct {
	mu     sync.Mutex
	states map[int]ExtendedState
	err    error
}

func (f *fakeExtendedSource) set(slot int, s ExtendedState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[slot] = s
}

func (f *fakeExtendedSource) ReadExtended(slot int) (ExtendedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ExtendedState{}, f.err
	}
	return f.states[slot], nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []virtualbus.State
}

func (f *fakeSubmitter) Submit(s virtualbus.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, s)
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func TestChannelSkipsSubmissionWhenSequenceUnchanged(t *testing.T) {
	src := &fakeExtendedSource{states: map[int]ExtendedState{
		0: {Connected: true, Sequence: 1, Buttons: 0x1},
	}}
	sub := &fakeSubmitter{}
	errs := make(chan ForwardingError, 4)

	c := NewChannel(0, src, 5*time.Millisecond, 0, sub, errs, nil, applog.Nop())
	go c.Run()
	time.Sleep(40 * time.Millisecond)
	c.Stop()

	require.Equal(t, 1, sub.count())
}

func TestChannelSubmitsOnEachNewSequence(t *testing.T) {
	src := &fakeExtendedSource{states: map[int]ExtendedState{
		0: {Connected: true, Sequence: 1},
	}}
	sub := &fakeSubmitter{}
	errs := make(chan ForwardingError, 4)

	c := NewChannel(0, src, 5*time.Millisecond, 0, sub, errs, nil, applog.Nop())
	go c.Run()
	time.Sleep(15 * time.Millisecond)
	src.set(0, ExtendedState{Connected: true, Sequence: 2})
	time.Sleep(15 * time.Millisecond)
	src.set(0, ExtendedState{Connected: true, Sequence: 3})
	time.Sleep(15 * time.Millisecond)
	c.Stop()

	require.GreaterOrEqual(t, sub.count(), 3)
}

func TestChannelExitsAndEmitsErrorOnSourceVanished(t *testing.T) {
	src := &fakeExtendedSource{states: map[int]ExtendedState{
		0: {Connected: true, Sequence: 1},
	}}
	sub := &fakeSubmitter{}
	errs := make(chan ForwardingError, 4)

	c := NewChannel(0, src, 5*time.Millisecond, 0, sub, errs, nil, applog.Nop())
	go c.Run()
	time.Sleep(15 * time.Millisecond)
	src.set(0, ExtendedState{Connected: false})

	select {
	case e := <-errs:
		require.Equal(t, 0, e.PhysicalSlot)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ForwardingError after source vanished")
	}
	c.Stop()
}

func TestChannelSwapTargetAffectsNextSubmission(t *testing.T) {
	src := &fakeExtendedSource{states: map[int]ExtendedState{
		0: {Connected: true, Sequence: 1},
	}}
	subA := &fakeSubmitter{}
	subB := &fakeSubmitter{}
	errs := make(chan ForwardingError, 4)

	c := NewChannel(0, src, 5*time.Millisecond, 0, subA, errs, nil, applog.Nop())
	go c.Run()
	time.Sleep(15 * time.Millisecond)
	c.SwapTarget(1, subB)
	require.Equal(t, 1, c.TargetSlot())
	src.set(0, ExtendedState{Connected: true, Sequence: 2})
	time.Sleep(15 * time.Millisecond)
	c.Stop()

	require.Greater(t, subB.count(), 0)
	require.Equal(t, 1, subA.count()) // pre-swap target only ever saw the original packet
}

func TestChannelReadErrorExitsLoop(t *testing.T) {
	src := &fakeExtendedSource{err: errors.New("driver gone")}
	sub := &fakeSubmitter{}
	errs := make(chan ForwardingError, 4)

	c := NewChannel(0, src, 5*time.Millisecond, 0, sub, errs, nil, applog.Nop())
	go c.Run()

	select {
	case e := <-errs:
		require.Error(t, e.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ForwardingError on read error")
	}
	c.Stop()
}
