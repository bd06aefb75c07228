// Package profile implements the profile resolver: it turns a saved
// per-game profile's slot assignments (by vid:pid) into concrete source
// paths against whatever is actually connected right now.
//
// Grounded on main.go's Manager.findFreeSlot claim-set pattern — the
// same "first claim wins, later duplicates resolve to nothing" rule the
// matcher already uses for IG_0N paths, reapplied here to vid:pid
// identity instead of a path marker.
package profile

// Assignment is one slot's resolved source assignment.
type Assignment struct {
	TargetSlot int
	SourceSlot *int
	SourcePath *string
}

// Connected is one currently-connected controller's identity and path.
type Connected struct {
	VidPid string
	Path   string
}

// Resolve turns slotAssignments (a saved profile's per-slot assignment,
// a 4-length array of optional "vid:pid" strings) into a 4-length
// Assignment array whose SourcePath is filled in against connected. If
// two slots reference the same vid:pid, only the first (lowest target
// slot index) receives a path; later slots resolve to nil.
func Resolve(slotAssignments [4]*string, connected []Connected) [4]Assignment {
	byVidPid := make(map[string]Connected, len(connected))
	for _, c := range connected {
		if _, exists := byVidPid[c.VidPid]; !exists {
			byVidPid[c.VidPid] = c
		}
	}

	claimed := make(map[string]bool, 4)
	var out [4]Assignment
	for i, want := range slotAssignments {
		out[i] = Assignment{TargetSlot: i}
		if want == nil {
			continue
		}
		if claimed[*want] {
			continue
		}
		c, ok := byVidPid[*want]
		if !ok {
			continue
		}
		claimed[*want] = true
		path := c.Path
		out[i].SourcePath = &path
	}
	return out
}
