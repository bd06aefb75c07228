package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseybates-web/controlshift/internal/applog"
)

func TestLoadOrderAbsentFileReportsNoSavedState(t *testing.T) {
	s := New(t.TempDir(), applog.Nop())
	_, ok := s.LoadOrder()
	require.False(t, ok)
}

func TestSaveThenLoadOrderRoundTrips(t *testing.T) {
	s := New(t.TempDir(), applog.Nop())
	rec := OrderRecord{Order: []string{"045E:028E", "054C:0CE6"}, SlotMap: [4]int{1, 0, -1, -1}}

	s.SaveOrder(rec)
	got, ok := s.LoadOrder()
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestLoadOrderCorruptFileReportsNoSavedState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, orderFileName), []byte("{not json"), 0o644))

	s := New(dir, applog.Nop())
	_, ok := s.LoadOrder()
	require.False(t, ok)
}

func TestLoadNicknamesAbsentFileReturnsEmptyMap(t *testing.T) {
	s := New(t.TempDir(), applog.Nop())
	got := s.LoadNicknames()
	require.Empty(t, got)
}

func TestSaveThenLoadNicknamesRoundTrips(t *testing.T) {
	s := New(t.TempDir(), applog.Nop())
	rec := NicknameRecord{"045E:028E": "Player 1 pad"}

	s.SaveNicknames(rec)
	got := s.LoadNicknames()
	require.Equal(t, rec, got)
}

func TestWatchCallsOnChangeAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, applog.Nop())

	changed := make(chan struct{}, 1)
	s.Watch(20*time.Millisecond, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer s.Close()

	s.SaveOrder(OrderRecord{Order: []string{"045E:028E"}})

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called after directory write")
	}
}
