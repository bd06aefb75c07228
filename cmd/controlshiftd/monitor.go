package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caseybates-web/controlshift/internal/busclass"
	"github.com/caseybates-web/controlshift/internal/hidenum"
	"github.com/caseybates-web/controlshift/internal/matcher"
	"github.com/caseybates-web/controlshift/internal/slotprobe"
)

// slotMonitorOptions configures the --monitor terminal viewer.
type slotMonitorOptions struct {
	ShowPath   bool
	UpdateRate time.Duration
}

// slotMonitor is a change-detecting terminal viewer over the four OS
// gamepad slots, run with --monitor instead of the long-running service.
// Adapted from display.go's InputMonitor: same "only reprint on change,
// overwrite the line in place" idiom, retargeted from one raw HID
// report to the four-slot controller-matcher output.
type slotMonitor struct {
	probe       *slotprobe.Prober
	enumerator  *hidenum.Enumerator
	match       *matcher.Matcher
	opts        slotMonitorOptions
	lastPrinted string
}

func newSlotMonitor(probe *slotprobe.Prober, enumerator *hidenum.Enumerator, match *matcher.Matcher, opts slotMonitorOptions) *slotMonitor {
	return &slotMonitor{probe: probe, enumerator: enumerator, match: match, opts: opts}
}

// Run polls and reprints until stop is closed.
func (m *slotMonitor) Run(stop <-chan struct{}) error {
	fmt.Println("controlshiftd slot monitor — Ctrl+C to quit")
	ticker := time.NewTicker(m.opts.UpdateRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			devices, err := m.enumerator.Devices()
			if err != nil {
				continue
			}
			controllers := m.match.Match(m.probe.Snapshot(), devices)
			line := m.format(controllers)
			if line != m.lastPrinted {
				fmt.Printf("\r\033[K%s", line)
				m.lastPrinted = line
			}
		}
	}
}

func (m *slotMonitor) format(controllers [slotprobe.SlotCount]matcher.Controller) string {
	var parts []string
	for i, c := range controllers {
		if !c.Connected {
			parts = append(parts, fmt.Sprintf("P%d: --", i+1))
			continue
		}
		label := "unknown"
		if c.KnownName != "" {
			label = c.KnownName
		} else if c.VendorBrand != "" {
			label = c.VendorBrand
		}
		entry := fmt.Sprintf("P%d: %s [%s]", i+1, label, busLabel(c.Bus))
		if m.opts.ShowPath && c.Physical != nil {
			entry += " " + c.Physical.Path
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, " | ")
}

func busLabel(b busclass.BusType) string {
	switch b {
	case busclass.Usb:
		return "usb"
	case busclass.BluetoothClassic:
		return "bt-classic"
	case busclass.BluetoothLE:
		return "bt-le"
	case busclass.WirelessAdapter:
		return "wireless-adapter"
	default:
		return "unknown"
	}
}
