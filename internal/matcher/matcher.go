// Package matcher implements the controller matcher: associates each
// occupied OS slot with its HID interface via the IG_0N path marker,
// with a claimed-path fallback pass for devices whose IG index doesn't
// match their slot.
//
// Grounded on main.go's Manager.findFreeSlot / Manager.Scan: a shared
// claim set walked in two passes (exact match, then best-available),
// generalized from "first free slot wins" to "first unclaimed marker
// match wins."
package matcher

import (
	"fmt"
	"strings"

	"github.com/caseybates-web/controlshift/internal/busclass"
	"github.com/caseybates-web/controlshift/internal/hidenum"
	"github.com/caseybates-web/controlshift/internal/knowledge"
	"github.com/caseybates-web/controlshift/internal/slotprobe"
)

// Controller is one slot's resolved identity after matching.
type Controller struct {
	SlotIndex    int
	Connected    bool
	Physical     *hidenum.Device
	Bus          busclass.BusType
	IsIntegrated bool
	KnownName    string
	VendorBrand  string
	Battery      slotprobe.Battery
}

// busClassifier is the subset of *busclass.Classifier the matcher needs,
// so tests can fake it.
type busClassifier interface {
	BusFor(path string) busclass.BusType
}

// Matcher resolves each occupied slot to its matched HID interface.
type Matcher struct {
	bus   busClassifier
	known *knowledge.Base
}

func New(bus busClassifier, known *knowledge.Base) *Matcher {
	return &Matcher{bus: bus, known: known}
}

// Match returns one Controller per slot, same length as slots.
func (m *Matcher) Match(slots [slotprobe.SlotCount]slotprobe.State, hids []hidenum.Device) [slotprobe.SlotCount]Controller {
	claimed := make(map[string]bool, len(hids))
	var out [slotprobe.SlotCount]Controller

	// Pass 1: exact IG_0N match.
	for i, s := range slots {
		out[i] = Controller{SlotIndex: s.Index, Connected: s.Connected, Bus: busclass.Unknown, Battery: s.Battery}
		if !s.Connected {
			continue
		}
		marker := fmt.Sprintf("IG_0%d", s.Index)
		for hi := range hids {
			h := &hids[hi]
			if claimed[h.Path] {
				continue
			}
			if strings.Contains(strings.ToUpper(h.Path), marker) {
				claimed[h.Path] = true
				out[i].Physical = h
				break
			}
		}
	}

	// Pass 2: fallback — any other IG_0X for slots still unmatched.
	for i, s := range slots {
		if !s.Connected || out[i].Physical != nil {
			continue
		}
		for x := 0; x < slotprobe.SlotCount; x++ {
			if x == s.Index {
				continue
			}
			marker := fmt.Sprintf("IG_0%d", x)
			found := false
			for hi := range hids {
				h := &hids[hi]
				if claimed[h.Path] {
					continue
				}
				if strings.Contains(strings.ToUpper(h.Path), marker) {
					claimed[h.Path] = true
					out[i].Physical = h
					found = true
					break
				}
			}
			if found {
				break
			}
		}
	}

	// Annotate bus/knowledge for every matched entry.
	for i := range out {
		if out[i].Physical == nil {
			continue
		}
		h := out[i].Physical
		out[i].Bus = m.bus.BusFor(h.Path)
		if m.known != nil {
			out[i].VendorBrand = m.known.Brand(h.VID)
			out[i].IsIntegrated = m.known.IsIntegrated(h.VID, h.PID)
			if dev, ok := m.known.Device(h.VID, h.PID); ok {
				out[i].KnownName = dev.Name
			}
		}
	}
	return out
}
