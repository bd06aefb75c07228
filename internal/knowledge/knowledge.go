// Package knowledge implements the device knowledge base: two
// read-only, case-insensitive maps — VID→brand and (VID,PID)→name —
// loaded once at startup, never fatal on failure.
//
// Grounded on hidinput.go's calibration/known-device pattern of "parse a
// small fixed file into a lookup table, degrade silently on error"
// (its DefaultCalibration is the same shape: a compiled-in fallback
// used whenever a better source isn't available).
package knowledge

import (
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/known-vendors.json data/known-devices.json
var embedded embed.FS

// KnownDevice is one (VID,PID) entry.
type KnownDevice struct {
	Name      string `json:"name"`
	Confirmed bool   `json:"confirmed"`
	Integrated bool  `json:"integrated"`
}

// Base is the read-only knowledge base.
type Base struct {
	vendors map[string]string      // VID -> brand
	devices map[string]KnownDevice // "VID:PID" -> entry
}

// Load reads known-vendors.json/known-devices.json from overrideDir if
// present (so a tester can drop a newer file beside the app-data
// directory without a rebuild), falling back to the embedded defaults
// when the override file is absent or is not valid JSON. overrideDir may
// be empty. Load never errors — absent/corrupt data just means empty (or
// embedded-default) maps.
func Load(overrideDir string) *Base {
	b := &Base{vendors: map[string]string{}, devices: map[string]KnownDevice{}}

	vendorsRaw, ok := readOverrideOrEmbedded(overrideDir, "known-vendors.json")
	if ok {
		var raw map[string]string
		if json.Unmarshal(vendorsRaw, &raw) == nil {
			for vid, brand := range raw {
				b.vendors[strings.ToUpper(vid)] = brand
			}
		}
	}

	devicesRaw, ok := readOverrideOrEmbedded(overrideDir, "known-devices.json")
	if ok {
		var raw map[string]map[string]KnownDevice
		if json.Unmarshal(devicesRaw, &raw) == nil {
			for vid, byPid := range raw {
				for pid, entry := range byPid {
					b.devices[key(vid, pid)] = entry
				}
			}
		}
	}
	return b
}

func readOverrideOrEmbedded(overrideDir, name string) ([]byte, bool) {
	if overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(overrideDir, name)); err == nil && json.Valid(data) {
			return data, true
		}
	}
	data, err := embedded.ReadFile("data/" + name)
	if err != nil {
		return nil, false
	}
	return data, true
}

func key(vid, pid string) string {
	return strings.ToUpper(vid) + ":" + strings.ToUpper(pid)
}

// Brand returns the vendor brand for a VID, "" if unknown.
func (b *Base) Brand(vid string) string {
	return b.vendors[strings.ToUpper(vid)]
}

// Device returns the known name/confirmed flag for a VID:PID pair.
func (b *Base) Device(vid, pid string) (KnownDevice, bool) {
	d, ok := b.devices[key(vid, pid)]
	return d, ok
}

// IsIntegrated reports whether the VID:PID pair is flagged as an
// integrated handheld gamepad rather than a detachable/external one.
func (b *Base) IsIntegrated(vid, pid string) bool {
	d, ok := b.devices[key(vid, pid)]
	return ok && d.Integrated
}
