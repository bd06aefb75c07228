package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoArgsReturnsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.False(t, cfg.Daemon)
	require.Equal(t, "127.0.0.1:9095", cfg.MetricsAddr)
	require.True(t, cfg.AntiCheatEnabled)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--daemon", "--metrics-addr=127.0.0.1:9999", "--anticheat-enabled=false"})
	require.NoError(t, err)
	require.True(t, cfg.Daemon)
	require.Equal(t, "127.0.0.1:9999", cfg.MetricsAddr)
	require.False(t, cfg.AntiCheatEnabled)
}

func TestLoadRejectsInvalidLogFormat(t *testing.T) {
	_, err := Load([]string{"--log-format=xml"})
	require.Error(t, err)
}

func TestLoadParsesDeviceDebounceMilliseconds(t *testing.T) {
	cfg, err := Load([]string{"--device-debounce-ms=750"})
	require.NoError(t, err)
	require.Equal(t, int64(750), cfg.DeviceDebounce.Milliseconds())
}
