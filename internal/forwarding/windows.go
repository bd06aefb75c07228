//go:build windows

package forwarding

import (
	"fmt"
	"syscall"
	"unsafe"
)

const errDeviceNotConnected = 1167

// windowsExtendedReader binds XInputGetStateEx, the undocumented
// ordinal-100 entry point in xinput1_4.dll that reports the full button
// bitmap including the Guide button the public XInputGetState masks off
// — the same DLL and binding style slotprobe/windows.go uses for
// capabilities/state/battery.
type windowsExtendedReader struct {
	procGetStateEx *syscall.LazyProc
}

// NewWindowsExtendedReader binds the extended state query.
func NewWindowsExtendedReader() *windowsExtendedReader {
	dll := syscall.NewLazyDLL("xinput1_4.dll")
	return &windowsExtendedReader{
		procGetStateEx: dll.NewProc("#100"),
	}
}

type xinputGamepadEx struct {
	Buttons      uint16
	LeftTrigger  byte
	RightTrigger byte
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

type xinputStateEx struct {
	PacketNumber uint32
	Gamepad      xinputGamepadEx
}

func (w *windowsExtendedReader) ReadExtended(slot int) (ExtendedState, error) {
	var state xinputStateEx
	r, _, _ := w.procGetStateEx.Call(uintptr(slot), uintptr(unsafe.Pointer(&state)))
	if r == errDeviceNotConnected {
		return ExtendedState{Connected: false}, nil
	}
	if r != 0 {
		return ExtendedState{}, fmt.Errorf("XInputGetStateEx slot %d: error %d", slot, r)
	}
	return ExtendedState{
		Connected:    true,
		Sequence:     state.PacketNumber,
		Buttons:      state.Gamepad.Buttons,
		LeftTrigger:  state.Gamepad.LeftTrigger,
		RightTrigger: state.Gamepad.RightTrigger,
		ThumbLX:      state.Gamepad.ThumbLX,
		ThumbLY:      state.Gamepad.ThumbLY,
		ThumbRX:      state.Gamepad.ThumbRX,
		ThumbRY:      state.Gamepad.ThumbRY,
	}, nil
}
