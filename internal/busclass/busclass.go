// Package busclass classifies a HID device path into a BusType, using
// path heuristics first and a PnP parent-chain walk as a fallback.
//
// The ancestor walk is grounded on hidraw.go's matchesUSBDevice:
// "walk up a tree from a resolved node, checking each
// ancestor against a marker, bounded depth, first hit wins." There it
// walks sysfs busnum/devnum files; here it walks PnP instance IDs via
// an injected ancestor source (cfgmgr32 or WMI on Windows, a fake in
// tests).
package busclass

import "strings"

type BusType int

const (
	Unknown BusType = iota
	Usb
	BluetoothClassic
	BluetoothLE
	WirelessAdapter
)

// knownWirelessAdapters lists the path substrings of known
// wireless-dongle receiver VID+PID pairs.
var knownWirelessAdapters = []string{
	"VID_045E&PID_02FE",
	"VID_045E&PID_02E6",
}

// ancestorSource walks a device's PnP parent chain, returning instance
// IDs from nearest to farthest ancestor. Implementations must never
// panic or block indefinitely; any OS failure should just yield a short
// or empty slice.
type ancestorSource interface {
	Ancestors(instanceID string, maxDepth int) []string
}

const maxAncestorDepth = 12

// Classifier implements the bus classifier: it decides, for a given HID
// path, whether the underlying transport is USB, classic Bluetooth,
// Bluetooth LE, or a wireless adapter dongle.
type Classifier struct {
	ancestors ancestorSource
}

func New(ancestors ancestorSource) *Classifier {
	return &Classifier{ancestors: ancestors}
}

// servicePathMarkers are substrings of a device path that imply
// BluetoothLE regardless of ClassifyInstanceId, per rule (1).
var servicePathMarkers = []string{
	"0000180300001000", // HOGP profile UUID, compact form
	"00001812",         // HID-over-GATT service UUID
}

// BusFor applies the three-rule precedence (service marker, instance-id
// pattern, ancestor walk) in order. Never panics; any OS failure during
// the ancestor walk returns Unknown.
func (c *Classifier) BusFor(path string) BusType {
	upper := strings.ToUpper(path)

	for _, marker := range servicePathMarkers {
		if strings.Contains(upper, strings.ToUpper(marker)) {
			return BluetoothLE
		}
	}

	if bt := ClassifyInstanceId(path); bt != Unknown {
		return bt
	}

	if c.ancestors == nil {
		return Unknown
	}
	for _, ancestor := range c.ancestors.Ancestors(path, maxAncestorDepth) {
		if bt := ClassifyInstanceId(ancestor); bt != Unknown {
			return bt
		}
	}
	return Unknown
}

// ClassifyInstanceId applies the strict-order instance-id pattern rules
// to a single instance ID / path string. Never throws.
func ClassifyInstanceId(id string) BusType {
	upper := strings.ToUpper(id)

	switch {
	case strings.Contains(upper, "BTHLEDEVICE"), strings.Contains(upper, "BTHLE"):
		return BluetoothLE
	case strings.Contains(upper, "BTHENUM"):
		return BluetoothClassic
	case strings.HasPrefix(upper, "BTH"):
		return BluetoothLE
	}

	for _, marker := range knownWirelessAdapters {
		if strings.Contains(upper, marker) {
			return WirelessAdapter
		}
	}

	if strings.HasPrefix(upper, `USB\VID_`) {
		return Usb
	}
	return Unknown
}
