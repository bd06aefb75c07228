package anticheat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseybates-web/controlshift/internal/applog"
)

func TestMatchIsCaseInsensitive(t *testing.T) {
	g := New([]Entry{{Executable: "EasyAntiCheat.exe", Family: "EAC"}}, func(Event) {}, applog.Nop())

	f, ok := g.Match("easyanticheat.exe")
	require.True(t, ok)
	require.Equal(t, Family("EAC"), f)
}

func TestMatchUnknownExecutableReportsFalse(t *testing.T) {
	g := New([]Entry{{Executable: "EasyAntiCheat.exe", Family: "EAC"}}, func(Event) {}, applog.Nop())

	_, ok := g.Match("notepad.exe")
	require.False(t, ok)
}

func TestCheckProfileTargetFlagsListedExecutable(t *testing.T) {
	g := New([]Entry{{Executable: "BEService.exe", Family: "BattlEye"}}, func(Event) {}, applog.Nop())

	f, ok := g.CheckProfileTarget("BEService.exe")
	require.True(t, ok)
	require.Equal(t, Family("BattlEye"), f)
}

type fakeLister struct {
	calls [][]string
	i     int
}

func (f *fakeLister) ListProcessNames() ([]string, error) {
	if f.i >= len(f.calls) {
		return f.calls[len(f.calls)-1], nil
	}
	out := f.calls[f.i]
	f.i++
	return out, nil
}

func TestPollLoopDispatchesOnlyOnNewlyAppearedListedName(t *testing.T) {
	var matched []Event
	g := New([]Entry{{Executable: "EasyAntiCheat.exe", Family: "EAC"}}, func(e Event) {
		matched = append(matched, e)
	}, applog.Nop())

	lister := &fakeLister{calls: [][]string{
		{"explorer.exe"},
		{"explorer.exe", "EasyAntiCheat.exe"},
		{"explorer.exe", "EasyAntiCheat.exe"}, // still running, must not re-fire
	}}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		g.PollLoop(lister, 5*time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	<-done

	require.Len(t, matched, 1)
	require.Equal(t, "EasyAntiCheat.exe", matched[0].Executable)
}

func TestPollLoopIgnoresUnlistedProcesses(t *testing.T) {
	var matched []Event
	g := New([]Entry{{Executable: "EasyAntiCheat.exe", Family: "EAC"}}, func(e Event) {
		matched = append(matched, e)
	}, applog.Nop())

	lister := &fakeLister{calls: [][]string{
		{"notepad.exe"},
		{"notepad.exe", "calculator.exe"},
	}}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		g.PollLoop(lister, 5*time.Millisecond, stop)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	close(stop)
	<-done

	require.Empty(t, matched)
}

func TestNamesReturnsBundledBasenames(t *testing.T) {
	g := New([]Entry{
		{Executable: "EasyAntiCheat.exe", Family: "EAC"},
		{Executable: "BEService.exe", Family: "BattlEye"},
	}, func(Event) {}, applog.Nop())

	require.ElementsMatch(t, []string{"easyanticheat.exe", "beservice.exe"}, g.Names())
}
