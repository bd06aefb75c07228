//go:build windows

package virtualbus

import (
	"fmt"
	"syscall"
	"unsafe"
)

// busDevicePath is the symbolic link the signed kernel bus driver
// exposes. Naming follows this corpus's convention of a plain \\.\
// device path (main.go opens /dev/uinput the same way: a single
// well-known node, no enumeration needed).
const busDevicePath = `\\.\ControlShiftBus`

const (
	genericReadWrite  = 0xC0000000
	fileShareReadWr   = 0x00000003
	openExisting      = 3
	fileFlagOverlapped = 0x40000000

	ioctlPlugIn    = 0x80002000
	ioctlUnplug    = 0x80002004
	ioctlSubmit    = 0x80002008
	ioctlConnected = 0x8000200C
)

type windowsBus struct {
	handle syscall.Handle
}

// NewWindowsBus builds the driverHandle used by Client in production.
func NewWindowsBus() *windowsBus { return &windowsBus{handle: syscall.InvalidHandle} }

func (b *windowsBus) Open() error {
	p, err := syscall.UTF16PtrFromString(busDevicePath)
	if err != nil {
		return err
	}
	h, err := syscall.CreateFile(p, genericReadWrite, fileShareReadWr, nil, openExisting, fileFlagOverlapped, 0)
	if err != nil {
		return fmt.Errorf("virtual bus device not present: %w", err)
	}
	b.handle = h
	return nil
}

func (b *windowsBus) Close() error {
	if b.handle == syscall.InvalidHandle {
		return nil
	}
	err := syscall.CloseHandle(b.handle)
	b.handle = syscall.InvalidHandle
	return err
}

func (b *windowsBus) Create() (virtualHandle, error) {
	var serial uint32
	var bytesReturned uint32
	if err := syscall.DeviceIoControl(b.handle, ioctlPlugIn, nil, 0,
		(*byte)(unsafe.Pointer(&serial)), uint32(unsafe.Sizeof(serial)), &bytesReturned, nil); err != nil {
		return nil, fmt.Errorf("plug-in failed: %w", err)
	}
	return &windowsVirtual{bus: b.handle, serial: serial}, nil
}

type windowsVirtual struct {
	bus    syscall.Handle
	serial uint32
}

func (v *windowsVirtual) Connect() error {
	var bytesReturned uint32
	return syscall.DeviceIoControl(v.bus, ioctlConnected,
		(*byte)(unsafe.Pointer(&v.serial)), uint32(unsafe.Sizeof(v.serial)), nil, 0, &bytesReturned, nil)
}

// wireState is the packed report sent over DeviceIoControl: the
// serial identifying which virtual gamepad, followed by the state
// fields in a fixed layout.
type wireState struct {
	Serial       uint32
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

func (v *windowsVirtual) Submit(s State) error {
	w := wireState{
		Serial: v.serial, Buttons: s.Buttons,
		LeftTrigger: s.LeftTrigger, RightTrigger: s.RightTrigger,
		ThumbLX: s.ThumbLX, ThumbLY: s.ThumbLY, ThumbRX: s.ThumbRX, ThumbRY: s.ThumbRY,
	}
	var bytesReturned uint32
	return syscall.DeviceIoControl(v.bus, ioctlSubmit,
		(*byte)(unsafe.Pointer(&w)), uint32(unsafe.Sizeof(w)), nil, 0, &bytesReturned, nil)
}

func (v *windowsVirtual) Disconnect() error {
	var bytesReturned uint32
	return syscall.DeviceIoControl(v.bus, ioctlUnplug,
		(*byte)(unsafe.Pointer(&v.serial)), uint32(unsafe.Sizeof(v.serial)), nil, 0, &bytesReturned, nil)
}
