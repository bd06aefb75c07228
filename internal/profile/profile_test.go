package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestResolveFillsSourcePathForMatchingVidPid(t *testing.T) {
	want := [4]*string{ptr("045E:028E"), nil, nil, nil}
	connected := []Connected{{VidPid: "045E:028E", Path: `\\?\HID#VID_045E&PID_028E#1#{guid}`}}

	out := Resolve(want, connected)
	require.NotNil(t, out[0].SourcePath)
	require.Equal(t, `\\?\HID#VID_045E&PID_028E#1#{guid}`, *out[0].SourcePath)
	require.Nil(t, out[1].SourcePath)
}

func TestResolveNoMatchLeavesSourcePathNil(t *testing.T) {
	want := [4]*string{ptr("045E:028E"), nil, nil, nil}
	out := Resolve(want, nil)
	require.Nil(t, out[0].SourcePath)
}

func TestResolveDuplicateVidPidOnlyFirstSlotClaims(t *testing.T) {
	want := [4]*string{ptr("045E:028E"), ptr("045E:028E"), nil, nil}
	connected := []Connected{{VidPid: "045E:028E", Path: "path-a"}}

	out := Resolve(want, connected)
	require.NotNil(t, out[0].SourcePath)
	require.Nil(t, out[1].SourcePath)
}

func TestResolveTargetSlotAlwaysSetToIndex(t *testing.T) {
	want := [4]*string{nil, nil, nil, nil}
	out := Resolve(want, nil)
	for i, a := range out {
		require.Equal(t, i, a.TargetSlot)
	}
}
