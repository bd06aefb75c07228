package busclass

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyInstanceIdPrecedenceBTHLEBeatsBTHENUM(t *testing.T) {
	id := `BTHLEDEVICE\{BTHENUM}\7&abc`
	require.Equal(t, BluetoothLE, ClassifyInstanceId(id))
}

func TestClassifyInstanceIdBthenum(t *testing.T) {
	require.Equal(t, BluetoothClassic, ClassifyInstanceId(`BTHENUM\DEV_00... `))
}

func TestClassifyInstanceIdUsbPrefix(t *testing.T) {
	require.Equal(t, Usb, ClassifyInstanceId(`USB\VID_045E&PID_028E\6&123`))
}

func TestClassifyInstanceIdWirelessAdapter(t *testing.T) {
	require.Equal(t, WirelessAdapter, ClassifyInstanceId(`USB\VID_045E&PID_02FE\6&123`))
}

func TestClassifyInstanceIdUnknownOnGarbage(t *testing.T) {
	require.Equal(t, Unknown, ClassifyInstanceId(`ACPI\PNP0A03\0`))
}

type fakeAncestors struct {
	chain []string
}

func (f fakeAncestors) Ancestors(string, int) []string { return f.chain }

func TestBusForServiceUUIDRuleBeatsEverything(t *testing.T) {
	c := New(nil)
	path := `\\?\BLUETOOTHLE#{00001812-0000-1000-8000-00805f9b34fb}_VID&0002045e_PID&02e0#...`
	require.Equal(t, BluetoothLE, c.BusFor(path))
}

func TestBusForFallsBackToAncestorWalk(t *testing.T) {
	c := New(fakeAncestors{chain: []string{"ACPI\\FOO", "USB\\VID_045E&PID_028E\\1"}})
	require.Equal(t, Usb, c.BusFor(`HID#SOME_UNCLASSIFIABLE_PATH`))
}

func TestBusForUnknownWhenAncestorWalkExhausted(t *testing.T) {
	c := New(fakeAncestors{chain: []string{"ACPI\\FOO", "ACPI\\BAR"}})
	require.Equal(t, Unknown, c.BusFor(`HID#SOME_UNCLASSIFIABLE_PATH`))
}

func TestBusForNilAncestorsIsSafe(t *testing.T) {
	c := New(nil)
	require.Equal(t, Unknown, c.BusFor(`HID#SOME_UNCLASSIFIABLE_PATH`))
}
