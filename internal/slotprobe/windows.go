//go:build windows

package slotprobe

import (
	"syscall"
	"unsafe"
)

// osBinding implements capabilityReader, stateReader and batteryReader
// against xinput1_4.dll, the real OS surface behind the fixed four-slot
// gamepad API. Bound with syscall.NewLazyDLL the way hid_windows.go
// binds setupapi.dll/hid.dll — no cgo.
type osBinding struct {
	getCapabilities *syscall.LazyProc
	getStateEx      *syscall.LazyProc
	getBattery      *syscall.LazyProc
}

const (
	errDeviceNotConnected = 1167
	xinputFlagGamepad     = 0x00000001
	xinputCapsWireless    = 0x0002 // XINPUT_CAPS_WIRELESS in xinput1_4
	batteryTypeDisconnect = 0x00
	battDevTypeGamepad    = 0x00
)

type xinputCapabilitiesEx struct {
	Type        byte
	SubType     byte
	Flags       uint16
	Gamepad     [12]byte // raw XINPUT_GAMEPAD fields, unused beyond Flags
	Vibration   [4]byte
	VendorID    uint16
	ProductID   uint16
	VersionNum  uint16
	unused      uint16
}

type xinputStateEx struct {
	PacketNumber uint32
	Gamepad      [12]byte
}

type xinputBatteryInformation struct {
	BatteryType  byte
	BatteryLevel byte
}

// NewWindowsBinding lazily loads xinput1_4.dll. Construction never
// fails; a missing DLL surfaces as every call returning !ok, which
// slotprobe.Prober already treats as "slot absent".
func NewWindowsBinding() *osBinding {
	dll := syscall.NewLazyDLL("xinput1_4.dll")
	return &osBinding{
		getCapabilities: dll.NewProc("XInputGetCapabilities"),
		getStateEx:      dll.NewProc("XInputGetStateEx"),
		getBattery:      dll.NewProc("XInputGetBatteryInformation"),
	}
}

func (b *osBinding) Capabilities(slot int) (wireless bool, ok bool, err error) {
	if b.getCapabilities.Find() != nil {
		return false, false, nil
	}
	var caps xinputCapabilitiesEx
	r, _, _ := b.getCapabilities.Call(
		uintptr(slot),
		uintptr(xinputFlagGamepad),
		uintptr(unsafe.Pointer(&caps)),
	)
	if r != 0 {
		return false, false, nil
	}
	return caps.Flags&xinputCapsWireless != 0, true, nil
}

func (b *osBinding) State(slot int) (ok bool, err error) {
	var state xinputStateEx
	r, _, _ := b.getStateEx.Call(
		uintptr(slot),
		uintptr(unsafe.Pointer(&state)),
	)
	if r == errDeviceNotConnected {
		return false, nil
	}
	if r != 0 {
		return false, syscall.Errno(r)
	}
	return true, nil
}

func (b *osBinding) BatteryLevel(slot int) (Battery, error) {
	var info xinputBatteryInformation
	r, _, _ := b.getBattery.Call(
		uintptr(slot),
		uintptr(battDevTypeGamepad),
		uintptr(unsafe.Pointer(&info)),
	)
	if r != 0 {
		return BatteryNone, syscall.Errno(r)
	}
	if info.BatteryType == batteryTypeDisconnect {
		return BatteryNone, nil
	}
	switch info.BatteryLevel {
	case 0:
		return Battery0, nil
	case 1:
		return Battery20, nil
	case 2:
		return Battery60, nil
	default:
		return Battery100, nil
	}
}
