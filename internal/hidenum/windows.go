//go:build windows

package hidenum

import (
	"fmt"
	"syscall"
	"unsafe"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	setupapi = syscall.NewLazyDLL("setupapi.dll")
	hidDLL   = syscall.NewLazyDLL("hid.dll")

	procGetClassDevsW          = setupapi.NewProc("SetupDiGetClassDevsW")
	procEnumDeviceInterfaces   = setupapi.NewProc("SetupDiEnumDeviceInterfaces")
	procGetInterfaceDetailW    = setupapi.NewProc("SetupDiGetDeviceInterfaceDetailW")
	procDestroyDeviceInfoList  = setupapi.NewProc("SetupDiDestroyDeviceInfoList")
	procHidDGetAttributes      = hidDLL.NewProc("HidD_GetAttributes")
	procHidDGetProductString   = hidDLL.NewProc("HidD_GetProductString")
)

const (
	digcfPresent         = 0x00000002
	digcfDeviceInterface = 0x00000010
	genericRead          = 0x80000000
	genericWrite         = 0x40000000
	fileShareReadWrite   = 0x00000003
	openExisting         = 3
)

type guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// hidClassGUID is GUID_DEVINTERFACE_HID.
var hidClassGUID = guid{0x4d1e55b2, 0xf16f, 0x11cf, [8]byte{0x88, 0xcb, 0x00, 0x11, 0x11, 0x00, 0x00, 0x30}}

// hogpServiceGUID is the BLE HID-over-GATT service class GUID, unioned
// in because some OS builds only surface BLE gamepads under it.
var hogpServiceGUID = guid{0x00001812, 0x0000, 0x1000, [8]byte{0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb}}

type spDeviceInterfaceData struct {
	cbSize             uint32
	InterfaceClassGuid guid
	Flags              uint32
	Reserved           uintptr
}

type spDeviceInterfaceDetailData struct {
	cbSize     uint32
	DevicePath [512]uint16
}

type hiddAttributes struct {
	Size          uint32
	VendorID      uint16
	ProductID     uint16
	VersionNumber uint16
}

// classSource enumerates device interfaces under one class GUID.
type classSource struct {
	class guid
}

// NewWindowsHIDSource builds the generic-HID-class interfaceSource.
func NewWindowsHIDSource() interfaceSource { return classSource{class: hidClassGUID} }

// NewWindowsHOGPSource builds the HOGP-service-class interfaceSource.
func NewWindowsHOGPSource() interfaceSource { return classSource{class: hogpServiceGUID} }

func (c classSource) Interfaces() ([]rawInterface, error) {
	hDevInfo, _, _ := procGetClassDevsW.Call(
		uintptr(unsafe.Pointer(&c.class)), 0, 0, digcfPresent|digcfDeviceInterface,
	)
	if hDevInfo == 0 || hDevInfo == ^uintptr(0) {
		return nil, fmt.Errorf("SetupDiGetClassDevsW failed")
	}
	defer procDestroyDeviceInfoList.Call(hDevInfo)

	var out []rawInterface
	var ifaceData spDeviceInterfaceData
	ifaceData.cbSize = uint32(unsafe.Sizeof(ifaceData))

	for i := 0; ; i++ {
		r, _, _ := procEnumDeviceInterfaces.Call(
			hDevInfo, 0, uintptr(unsafe.Pointer(&c.class)), uintptr(i), uintptr(unsafe.Pointer(&ifaceData)),
		)
		if r == 0 {
			break
		}

		var detail spDeviceInterfaceDetailData
		detail.cbSize = 8 // sizeof(cbSize uint32) + alignment on amd64; matches corpus's hid_windows.go handling
		var reqSize uint32
		procGetInterfaceDetailW.Call(
			hDevInfo, uintptr(unsafe.Pointer(&ifaceData)), uintptr(unsafe.Pointer(&detail)),
			unsafe.Sizeof(detail), uintptr(unsafe.Pointer(&reqSize)), 0,
		)

		path := syscall.UTF16ToString(detail.DevicePath[:])
		raw := rawInterface{Path: path}

		if h, err := openQuery(path); err == nil {
			var attrs hiddAttributes
			attrs.Size = uint32(unsafe.Sizeof(attrs))
			ok, _, _ := procHidDGetAttributes.Call(uintptr(h), uintptr(unsafe.Pointer(&attrs)))
			if ok != 0 {
				raw.AttrVID = attrs.VendorID
				raw.AttrPID = attrs.ProductID
				raw.AttrValid = true
			}
			var nameBuf [126]uint16
			if n, _, _ := procHidDGetProductString.Call(uintptr(h), uintptr(unsafe.Pointer(&nameBuf[0])), uintptr(len(nameBuf)*2)); n != 0 {
				raw.ProductName = syscall.UTF16ToString(nameBuf[:])
			}
			syscall.CloseHandle(h)
		}

		out = append(out, raw)
	}
	return out, nil
}

func openQuery(path string) (syscall.Handle, error) {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return syscall.InvalidHandle, err
	}
	return syscall.CreateFile(p, genericRead|genericWrite, fileShareReadWrite, nil, openExisting, 0, 0)
}

// The rest of this file is the OS-event-driven device-change receiver: a
// hidden, message-only window registered for WM_DEVICECHANGE, whose
// WndProc does nothing but call a ChangeWatcher's notify() and return.
// Grounded on the same "small syscall binding behind a narrow interface"
// idiom as the rest of this package; there's no corpus precedent for a
// Win32 message loop, so this is built directly against the documented
// RegisterDeviceNotificationW/CreateWindowExW contract.
var (
	user32 = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procRegisterClassExW         = user32.NewProc("RegisterClassExW")
	procCreateWindowExW          = user32.NewProc("CreateWindowExW")
	procDestroyWindow            = user32.NewProc("DestroyWindow")
	procDefWindowProcW           = user32.NewProc("DefWindowProcW")
	procGetMessageW              = user32.NewProc("GetMessageW")
	procTranslateMessage         = user32.NewProc("TranslateMessage")
	procDispatchMessageW         = user32.NewProc("DispatchMessageW")
	procPostMessageW             = user32.NewProc("PostMessageW")
	procPostQuitMessage          = user32.NewProc("PostQuitMessage")
	procRegisterDeviceNotifyW    = user32.NewProc("RegisterDeviceNotificationW")
	procUnregisterDeviceNotify   = user32.NewProc("UnregisterDeviceNotification")
	procGetModuleHandleW         = kernel32.NewProc("GetModuleHandleW")
)

const (
	wmDeviceChange  = 0x0219
	wmClose         = 0x0010
	wmDestroy       = 0x0002
	wmQuit          = 0x0012
	wmUser          = 0x0400
	wmAppQuit       = wmUser + 1
	dbtDevNodesChanged = 0x0007
	dbtDeviceArrival   = 0x8000
	dbtDeviceRemove    = 0x8004
	deviceNotifyWindowHandle = 0x00000000
	dbtDevtypDeviceInterface = 0x00000005
)

// devBroadcastDeviceInterface is DEV_BROADCAST_DEVICEINTERFACE, used to
// scope RegisterDeviceNotificationW to the HID class GUID so arrival and
// removal of non-HID devices don't churn the watcher.
type devBroadcastDeviceInterface struct {
	size       uint32
	deviceType uint32
	reserved   uint32
	classGUID  guid
	name       [1]uint16
}

type wndClassExW struct {
	cbSize        uint32
	style         uint32
	lpfnWndProc   uintptr
	cbClsExtra    int32
	cbWndExtra    int32
	hInstance     syscall.Handle
	hIcon         syscall.Handle
	hCursor       syscall.Handle
	hbrBackground syscall.Handle
	lpszMenuName  *uint16
	lpszClassName *uint16
	hIconSm       syscall.Handle
}

type msg struct {
	hwnd    syscall.Handle
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// deviceChangeReceiver owns the message-only window and its
// notification-handle registration.
type deviceChangeReceiver struct {
	hwnd    syscall.Handle
	watcher *ChangeWatcher
	logger  kitlog.Logger
	quit    chan struct{}
}

// NewWindowsDeviceChangeReceiver builds the receiver; no window exists
// yet. Run must be called (on its own goroutine, locked to the OS thread
// — Win32 message loops are thread-affine) to create the hidden message
// window, arm WM_DEVICECHANGE and pump messages; Close tears the window
// down.
func NewWindowsDeviceChangeReceiver(watcher *ChangeWatcher, logger kitlog.Logger) (*deviceChangeReceiver, error) {
	return &deviceChangeReceiver{watcher: watcher, logger: logger, quit: make(chan struct{})}, nil
}

var deviceChangeReceivers = map[syscall.Handle]*deviceChangeReceiver{}

// Run creates the window, registers the notification, and pumps messages
// until Close is called. Must run on a single, dedicated goroutine
// (call runtime.LockOSThread from the caller before invoking Run).
func (r *deviceChangeReceiver) Run() error {
	className, err := syscall.UTF16PtrFromString("ControlShiftDeviceNotify")
	if err != nil {
		return err
	}
	hInstance, _, _ := procGetModuleHandleW.Call(0)

	wndProc := syscall.NewCallback(deviceChangeWndProc)

	var wc wndClassExW
	wc.cbSize = uint32(unsafe.Sizeof(wc))
	wc.lpfnWndProc = wndProc
	wc.hInstance = syscall.Handle(hInstance)
	wc.lpszClassName = className

	if atom, _, _ := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); atom == 0 {
		return fmt.Errorf("RegisterClassExW failed")
	}

	hwndRaw, _, _ := procCreateWindowExW.Call(
		0, uintptr(unsafe.Pointer(className)), 0, 0,
		0, 0, 0, 0,
		uintptr(0xFFFFFFFD), // HWND_MESSAGE
		0, hInstance, 0,
	)
	if hwndRaw == 0 {
		return fmt.Errorf("CreateWindowExW failed")
	}
	r.hwnd = syscall.Handle(hwndRaw)
	deviceChangeReceivers[r.hwnd] = r
	defer delete(deviceChangeReceivers, r.hwnd)

	var filter devBroadcastDeviceInterface
	filter.size = uint32(unsafe.Sizeof(filter))
	filter.deviceType = dbtDevtypDeviceInterface
	filter.classGUID = hidClassGUID
	hNotify, _, _ := procRegisterDeviceNotifyW.Call(
		uintptr(r.hwnd), uintptr(unsafe.Pointer(&filter)), deviceNotifyWindowHandle,
	)
	if hNotify != 0 {
		defer procUnregisterDeviceNotify.Call(hNotify)
	}

	level.Debug(r.logger).Log("msg", "device-change message window armed")

	var m msg
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), uintptr(hwndRaw), 0, 0)
		if int32(ret) <= 0 {
			return nil
		}
		if m.message == wmAppQuit {
			procDestroyWindow.Call(uintptr(r.hwnd))
			return nil
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

// Close posts a quit message to the receiver's window, breaking Run's
// message loop.
func (r *deviceChangeReceiver) Close() {
	if r.hwnd != 0 {
		procPostMessageW.Call(uintptr(r.hwnd), uintptr(wmAppQuit), 0, 0)
	}
}

// deviceChangeWndProc is the Win32 callback: it does nothing but notice
// WM_DEVICECHANGE and forward to the owning watcher. All debounce and
// re-enumeration logic lives outside this callback.
func deviceChangeWndProc(hwnd syscall.Handle, message uint32, wParam, lParam uintptr) uintptr {
	if message == wmDeviceChange {
		if r, ok := deviceChangeReceivers[hwnd]; ok {
			switch wParam {
			case dbtDeviceArrival, dbtDeviceRemove, dbtDevNodesChanged:
				r.watcher.notify()
			}
		}
		return 1
	}
	if message == wmClose || message == wmDestroy {
		return 0
	}
	ret, _, _ := procDefWindowProcW.Call(uintptr(hwnd), uintptr(message), wParam, lParam)
	return ret
}
