//go:build windows

package inputfilter

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"
)

const filterDevicePath = `\\.\ControlShiftFilter`

const (
	genericReadWrite = 0xC0000000
	fileShareReadWr  = 0x00000003
	openExisting     = 3

	ioctlSetActive      = 0x80003000
	ioctlAddBlocked     = 0x80003004
	ioctlRemoveBlocked  = 0x80003008
	ioctlClearBlocked   = 0x8000300C
	ioctlAddAppAllow    = 0x80003010
	ioctlClearAppAllow  = 0x80003014
)

// windowsFilter binds to the filter driver over a fixed device path, the
// same CreateFile-on-a-symlink pattern used by virtualbus.
type windowsFilter struct {
	mu        sync.Mutex
	handle    syscall.Handle
	available bool
}

// NewWindowsFilter probes the driver once at construction: is_available
// is a one-time open probe cached for the process lifetime.
func NewWindowsFilter() *windowsFilter {
	w := &windowsFilter{handle: syscall.InvalidHandle}
	p, err := syscall.UTF16PtrFromString(filterDevicePath)
	if err != nil {
		return w
	}
	h, err := syscall.CreateFile(p, genericReadWrite, fileShareReadWr, nil, openExisting, 0, 0)
	if err != nil {
		return w
	}
	w.handle = h
	w.available = true
	return w
}

func (w *windowsFilter) Available() bool { return w.available }

func (w *windowsFilter) ioctl(code uint32, in []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.available {
		return fmt.Errorf("filter driver not present")
	}
	var inPtr *byte
	var inLen uint32
	if len(in) > 0 {
		inPtr = &in[0]
		inLen = uint32(len(in))
	}
	var bytesReturned uint32
	return syscall.DeviceIoControl(w.handle, code, inPtr, inLen, nil, 0, &bytesReturned, nil)
}

func utf16Bytes(s string) []byte {
	u, _ := syscall.UTF16FromString(s)
	b := make([]byte, len(u)*2)
	for i, v := range u {
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return b
}

func (w *windowsFilter) AddAppRule(path string) error {
	return w.ioctl(ioctlAddAppAllow, utf16Bytes(path))
}
func (w *windowsFilter) Hide(instanceID string) error {
	return w.ioctl(ioctlAddBlocked, utf16Bytes(instanceID))
}
func (w *windowsFilter) Unhide(instanceID string) error {
	return w.ioctl(ioctlRemoveBlocked, utf16Bytes(instanceID))
}
func (w *windowsFilter) Deactivate() error {
	var zero uint32
	return w.ioctl(ioctlSetActive, (*(*[4]byte)(unsafe.Pointer(&zero)))[:])
}
func (w *windowsFilter) SetActive(active bool) error {
	var v uint32
	if active {
		v = 1
	}
	return w.ioctl(ioctlSetActive, (*(*[4]byte)(unsafe.Pointer(&v)))[:])
}
func (w *windowsFilter) ClearBlockedList() error  { return w.ioctl(ioctlClearBlocked, nil) }
func (w *windowsFilter) ClearAppAllowList() error { return w.ioctl(ioctlClearAppAllow, nil) }
