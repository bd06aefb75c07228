// Package slotprobe polls the OS's fixed four-slot gamepad API and
// reports per-slot connection, transport, and battery state.
//
// Grounded on main.go's Manager.Scan() poll loop — same "snapshot a
// fixed resource, report non-fatal per-entry failures" shape, generalized
// from a USB device scan to an OS slot-state query.
package slotprobe

import "github.com/caseybates-web/controlshift/internal/metrics"

// Connection is the transport of a connected physical slot.
type Connection int

const (
	Wired Connection = iota
	Wireless
)

// Battery is the discrete battery level the OS reports for wireless
// pads. BatteryNone means "not applicable" (disconnected or wired).
type Battery int

const (
	BatteryNone Battery = -1
	Battery0    Battery = 0
	Battery20   Battery = 20
	Battery60   Battery = 60
	Battery100  Battery = 100
)

// State is one slot's snapshot. Invariant: !Connected implies
// Battery == BatteryNone and Connection == Wired.
type State struct {
	Index      int
	Connected  bool
	Connection Connection
	Battery    Battery
}

// capabilityReader and stateReader split the two underlying OS calls so
// a Windows binding and a test fake can each implement exactly what they
// need. The "wireless" bit lives on the capability read, never on the
// battery-type read: the battery API falsely reports "wired" for some
// Bluetooth pads.
type capabilityReader interface {
	// Capabilities returns whether the slot is present and whether its
	// capabilities flag the wireless bit. ok=false means the slot is
	// absent (not an error worth logging, just "disconnected").
	Capabilities(slot int) (wireless bool, ok bool, err error)
}

type stateReader interface {
	// State returns true if the slot produced a state packet. A
	// "device not connected" failure here on a slot that *did* report
	// capabilities is the ghost-slot case: present but unreadable.
	State(slot int) (ok bool, err error)
}

type batteryReader interface {
	// BatteryLevel returns one of the four discrete levels; only called
	// when the slot is wireless.
	BatteryLevel(slot int) (Battery, error)
}

// Prober implements the gamepad slot prober: a poll over a fixed set
// of OS gamepad slots.
type Prober struct {
	caps    capabilityReader
	state   stateReader
	battery batteryReader
	metrics *metrics.Registry // optional, nil disables gauge updates
}

const SlotCount = 4

// New builds a Prober over the given OS bindings. metrics may be nil.
func New(caps capabilityReader, state stateReader, battery batteryReader, m *metrics.Registry) *Prober {
	return &Prober{caps: caps, state: state, battery: battery, metrics: m}
}

// Snapshot returns exactly SlotCount entries, index 0..SlotCount-1.
// Every failure is non-fatal: a slot that fails any call reports
// disconnected, never an error to the caller.
func (p *Prober) Snapshot() [SlotCount]State {
	var out [SlotCount]State
	for i := 0; i < SlotCount; i++ {
		out[i] = p.snapshotOne(i)
		if p.metrics != nil {
			slot := slotLabel(i)
			connected := 0.0
			if out[i].Connected {
				connected = 1.0
			}
			p.metrics.SlotConnected.WithLabelValues(slot).Set(connected)
			battery := 0.0
			if out[i].Battery != BatteryNone {
				battery = float64(out[i].Battery)
			}
			p.metrics.SlotBattery.WithLabelValues(slot).Set(battery)
		}
	}
	return out
}

func (p *Prober) snapshotOne(i int) State {
	s := State{Index: i, Connection: Wired, Battery: BatteryNone}

	wireless, ok, err := p.caps.Capabilities(i)
	if err != nil || !ok {
		return s
	}

	// Ghost slot: capability query succeeded but state read fails with
	// "device not connected" — report disconnected, not an error.
	stateOK, err := p.state.State(i)
	if err != nil || !stateOK {
		return s
	}

	s.Connected = true
	if wireless {
		s.Connection = Wireless
		if lvl, err := p.battery.BatteryLevel(i); err == nil {
			s.Battery = lvl
		}
	}
	return s
}

// OccupiedSlots reports which of the four OS slots are currently
// connected, keyed by index. Used by the Forwarding Service to diff
// pre/post snapshots around a pool-growth settle window.
func (p *Prober) OccupiedSlots() map[int]bool {
	snap := p.Snapshot()
	out := make(map[int]bool, SlotCount)
	for _, s := range snap {
		if s.Connected {
			out[s.Index] = true
		}
	}
	return out
}

func slotLabel(i int) string {
	switch i {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "3"
	}
}
