// Package hidenum enumerates connected HID interfaces, unioning the
// generic HID interface set and the HOGP (BLE HID-over-GATT) service set
// so Bluetooth-LE gamepads are seen on OS versions that only expose them
// under the HOGP class GUID.
//
// Grounded on this corpus's pure-syscall Windows HID device code
// (hid_windows.go: SetupDiGetClassDevsW / SetupDiEnumDeviceInterfaces /
// SetupDiGetDeviceInterfaceDetailW bound via syscall.NewLazyDLL) and
// hidraw.go's path-string scanning to resolve a device node.
package hidenum

import (
	"strconv"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Device is an enumerated HID interface: vid/pid are always 4
// uppercase hex chars regardless of transport.
type Device struct {
	VID         string
	PID         string
	ProductName string // empty means "unknown"
	Path        string
}

// rawInterface is what an OS-specific source hands back before
// VID/PID normalization and dedup.
type rawInterface struct {
	Path           string
	AttrVID        uint16 // OS-reported integer attribute, 0 if unavailable
	AttrPID        uint16
	AttrValid      bool
	ProductName    string
}

// interfaceSource abstracts the two unioned enumeration calls (generic
// HID GUID, HOGP service GUID) so both a Windows binding and a test
// fake implement the same small surface.
type interfaceSource interface {
	Interfaces() ([]rawInterface, error)
}

// Enumerator implements the HID enumerator: it unions one or more
// interface sources and dedups the result by instance ID.
type Enumerator struct {
	sources []interfaceSource
}

// New unions zero or more interface sources. The Windows binding passes
// two: the generic HID class and the HOGP service class.
func New(sources ...interfaceSource) *Enumerator {
	return &Enumerator{sources: sources}
}

// Devices returns all connected HID interfaces, deduplicated by instance
// ID (path with the \\?\ prefix dropped, the trailing #{guid} suffix
// dropped, uppercased).
func (e *Enumerator) Devices() ([]Device, error) {
	seen := make(map[string]bool)
	var out []Device

	for _, src := range e.sources {
		raws, err := src.Interfaces()
		if err != nil {
			continue // one source failing (e.g. HOGP GUID absent on older OS) is non-fatal
		}
		for _, r := range raws {
			id := InstanceID(r.Path)
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, toDevice(r))
		}
	}
	return out, nil
}

func toDevice(r rawInterface) Device {
	vid, pid, ok := extractBluetoothClassicVidPid(r.Path)
	if !ok {
		if r.AttrValid {
			vid = hex4(r.AttrVID)
			pid = hex4(r.AttrPID)
		}
	}
	return Device{
		VID:         vid,
		PID:         pid,
		ProductName: r.ProductName,
		Path:        r.Path,
	}
}

func hex4(v uint16) string {
	s := strconv.FormatUint(uint64(v), 16)
	for len(s) < 4 {
		s = "0" + s
	}
	return strings.ToUpper(s)
}

// InstanceID derives the dedup key from a device path: drop the \\?\
// prefix and the trailing #{interface-guid} suffix, then uppercase.
// Round-trip: running this twice on its own output is a no-op.
func InstanceID(path string) string {
	p := strings.TrimPrefix(path, `\\?\`)
	if idx := strings.LastIndex(p, "#{"); idx >= 0 && strings.HasSuffix(p, "}") {
		p = p[:idx]
	}
	return strings.ToUpper(p)
}

// extractBluetoothClassicVidPid handles Bluetooth-Classic paths, where
// "VID&" is followed by an 8-hex blob: a 4-hex transport subcode, then
// the real 4-hex VID. PID follows its own "PID&" token untouched.
func extractBluetoothClassicVidPid(path string) (vid, pid string, ok bool) {
	upper := strings.ToUpper(path)
	vidIdx := strings.Index(upper, "VID&")
	if vidIdx < 0 {
		return "", "", false
	}
	rest := upper[vidIdx+len("VID&"):]
	if len(rest) < 8 || !isHex(rest[:8]) {
		return "", "", false
	}
	vid = rest[4:8]

	pidIdx := strings.Index(upper, "PID&")
	if pidIdx < 0 || len(upper) < pidIdx+len("PID&")+4 {
		return "", "", false
	}
	pidCandidate := upper[pidIdx+len("PID&"):]
	if len(pidCandidate) < 4 || !isHex(pidCandidate[:4]) {
		return "", "", false
	}
	pid = pidCandidate[:4]
	return vid, pid, true
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// ChangeWatcher turns a burst of raw OS device-change notifications into a
// single debounced signal: a dedicated, OS-event-driven receiver that only
// ever calls notify() — no business logic lives in the callback itself,
// all of it lives here and in the control-thread loop that reads
// Changes().
type ChangeWatcher struct {
	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer
	out      chan struct{}
	logger   kitlog.Logger
}

// NewChangeWatcher builds a watcher that coalesces notify() calls arriving
// within debounce of each other into one signal on Changes().
func NewChangeWatcher(debounce time.Duration, logger kitlog.Logger) *ChangeWatcher {
	return &ChangeWatcher{debounce: debounce, out: make(chan struct{}, 1), logger: logger}
}

// Changes is the control thread's re-enumeration trigger: on each signal
// the consumer should call Devices() again and diff against its last
// snapshot to synthesize attach/detach events.
func (w *ChangeWatcher) Changes() <-chan struct{} { return w.out }

// notify is called by the OS-specific receiver on every raw arrival or
// removal event, possibly several times for a single physical plug event.
func (w *ChangeWatcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		level.Debug(w.logger).Log("msg", "device change debounced, signaling re-enumeration")
		select {
		case w.out <- struct{}{}:
		default:
		}
	})
}

// Close stops any pending debounce timer.
func (w *ChangeWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
