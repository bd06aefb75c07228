// Package reorder implements the reorder state machine: the
// Idle/Reordering focus machine that lets a user drag a card to a new
// visual slot without the UI's own focus-change callbacks corrupting the
// index mid-gesture.
//
// Grounded on main.go's Manager state — a single owned index plus an
// explicit apply/cancel pair (its slot reassignment on unplug)
// generalized from "one index, one resource" to "one focus index, N
// cards, snapshot-and-restore on cancel."
package reorder

// CardState is a card's focus/selection state within the reorder grid.
type CardState int

const (
	Normal CardState = iota
	Focused
	Selected
	Dimmed
)

// Phase distinguishes Idle from Reordering without exposing the
// underlying index arithmetic to callers.
type Phase int

const (
	Idle Phase = iota
	Reordering
)

// Machine owns the current visual order (a slice of opaque keys, e.g.
// vid:pid strings) and the focus/reorder state layered over it.
type Machine struct {
	order []string

	phase    Phase
	focus    int  // valid in both phases once a card has ever had focus
	hasFocus bool

	snapshot         []string // order at the moment Reordering began
	snapshotFocus    int      // focus at the moment Reordering began
	snapshotHasFocus bool     // whether any card had focus at that moment
	suppress         bool     // latches out UI-driven focus callbacks mid-transition
}

// New builds a Machine over an initial visual order.
func New(order []string) *Machine {
	cp := make([]string, len(order))
	copy(cp, order)
	return &Machine{order: cp, phase: Idle}
}

// Order returns the current visual order.
func (m *Machine) Order() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Phase reports whether the machine is Idle or Reordering.
func (m *Machine) Phase() Phase { return m.phase }

// Focus reports the currently focused index, if any.
func (m *Machine) Focus() (int, bool) { return m.focus, m.hasFocus }

// Focused is called by the UI layer when focus moves onto index i.
// Ignored while the suppress latch is held, so a transition's own
// programmatic focus change can't re-enter this and desync state.
func (m *Machine) Focused(i int) {
	if m.suppress {
		return
	}
	m.focus = i
	m.hasFocus = true
}

// BeginReorder moves Idle(focus: i) -> Reordering(i), snapshotting the
// current order so Cancel can restore it exactly.
func (m *Machine) BeginReorder(i int) {
	if m.phase == Reordering {
		return
	}
	m.withSuppressedFocus(func() {
		m.snapshot = append([]string(nil), m.order...)
		m.snapshotFocus, m.snapshotHasFocus = m.focus, m.hasFocus
		m.phase = Reordering
		m.focus = i
		m.hasFocus = true
	})
}

// Move swaps the card at the current focus with its neighbour at
// focus+delta (delta is ±1), and focus follows the moving card. A delta
// that would step out of bounds is a no-op.
func (m *Machine) Move(delta int) {
	if m.phase != Reordering {
		return
	}
	j := m.focus + delta
	if j < 0 || j >= len(m.order) {
		return
	}
	m.withSuppressedFocus(func() {
		m.order[m.focus], m.order[j] = m.order[j], m.order[m.focus]
		m.focus = j
		m.hasFocus = true
	})
}

// Confirm moves Reordering(i) -> Idle(i), keeping the new order.
func (m *Machine) Confirm() {
	if m.phase != Reordering {
		return
	}
	m.withSuppressedFocus(func() {
		m.phase = Idle
		m.snapshot = nil
	})
}

// Cancel moves Reordering(i) -> Idle(original_focus), restoring the
// snapshot taken at BeginReorder.
func (m *Machine) Cancel() {
	if m.phase != Reordering {
		return
	}
	m.withSuppressedFocus(func() {
		m.order = m.snapshot
		m.snapshot = nil
		m.focus, m.hasFocus = m.snapshotFocus, m.snapshotHasFocus
		m.phase = Idle
	})
}

// CardStateFor reports the visual state of the card at index i given the
// current phase and focus.
func (m *Machine) CardStateFor(i int) CardState {
	if m.phase == Reordering {
		if i == m.focus {
			return Selected
		}
		return Dimmed
	}
	if m.hasFocus && i == m.focus {
		return Focused
	}
	return Normal
}

// withSuppressedFocus runs fn with the "suppress focus events" latch
// held so nested Focused() calls from queued UI callbacks can't
// interleave with fn's own focus assignment, then re-asserts whatever
// focus fn left behind once the latch drops.
func (m *Machine) withSuppressedFocus(fn func()) {
	m.suppress = true
	fn()
	intendedFocus, hadFocus := m.focus, m.hasFocus
	m.suppress = false
	m.focus, m.hasFocus = intendedFocus, hadFocus
}
