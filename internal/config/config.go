// Package config resolves ServiceConfig from defaults, a config file,
// environment variables, and flags, in that order of increasing
// precedence.
//
// Grounded on spf13/viper + spf13/pflag, real dependencies of this
// corpus's USB/IP device plugin. main.go resolves its two flags with a
// bare flag.Parse() at the top of main; this generalizes that single
// flag layer into the file/env/flag stack a long-running Windows service
// actually needs, without attempting live reconfiguration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/caseybates-web/controlshift/internal/applog"
)

// ServiceConfig is the fully resolved process configuration.
type ServiceConfig struct {
	Daemon           bool
	LogFormat        applog.Format
	AppDataDir       string // override for the per-user app-data directory
	MetricsAddr      string
	SlotProbeHz      float64
	ForwardingHz     float64
	DeviceDebounce   time.Duration
	AntiCheatEnabled bool
}

func defaults() ServiceConfig {
	return ServiceConfig{
		Daemon:           false,
		LogFormat:        applog.FormatText,
		AppDataDir:       "",
		MetricsAddr:      "127.0.0.1:9095",
		SlotProbeHz:      10,
		ForwardingHz:     250,
		DeviceDebounce:   500 * time.Millisecond,
		AntiCheatEnabled: true,
	}
}

// Load resolves configuration from (lowest to highest precedence):
// compiled-in defaults, controlshiftd.yaml beside the executable,
// CONTROLSHIFT_* environment variables, and the given CLI args.
func Load(args []string) (ServiceConfig, error) {
	d := defaults()

	v := viper.New()
	v.SetConfigName("controlshiftd")
	v.SetConfigType("yaml")
	if exe, err := os.Executable(); err == nil {
		v.AddConfigPath(filepath.Dir(exe))
	}
	v.SetEnvPrefix("CONTROLSHIFT")
	v.AutomaticEnv()

	v.SetDefault("daemon", d.Daemon)
	v.SetDefault("log_format", string(d.LogFormat))
	v.SetDefault("app_data_dir", d.AppDataDir)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("slot_probe_hz", d.SlotProbeHz)
	v.SetDefault("forwarding_hz", d.ForwardingHz)
	v.SetDefault("device_debounce_ms", d.DeviceDebounce.Milliseconds())
	v.SetDefault("anticheat_enabled", d.AntiCheatEnabled)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return d, fmt.Errorf("reading controlshiftd.yaml: %w", err)
		}
	}

	fs := pflag.NewFlagSet("controlshiftd", pflag.ContinueOnError)
	daemon := fs.Bool("daemon", v.GetBool("daemon"), "write logs to stderr instead of stdout")
	logFormat := fs.String("log-format", v.GetString("log_format"), "text or json")
	appData := fs.String("app-data-dir", v.GetString("app_data_dir"), "override the per-user app-data directory")
	metricsAddr := fs.String("metrics-addr", v.GetString("metrics_addr"), "loopback address for the /metrics endpoint, empty to disable")
	slotHz := fs.Float64("slot-probe-hz", v.GetFloat64("slot_probe_hz"), "gamepad slot poll rate")
	fwdHz := fs.Float64("forwarding-hz", v.GetFloat64("forwarding_hz"), "forwarding channel poll rate")
	debounceMs := fs.Int64("device-debounce-ms", v.GetInt64("device_debounce_ms"), "device-change debounce in milliseconds")
	antiCheat := fs.Bool("anticheat-enabled", v.GetBool("anticheat_enabled"), "watch for protected game processes")

	if err := fs.Parse(args); err != nil {
		return d, fmt.Errorf("parsing flags: %w", err)
	}

	cfg := ServiceConfig{
		Daemon:           *daemon,
		LogFormat:        applog.Format(*logFormat),
		AppDataDir:       *appData,
		MetricsAddr:      *metricsAddr,
		SlotProbeHz:      *slotHz,
		ForwardingHz:     *fwdHz,
		DeviceDebounce:   time.Duration(*debounceMs) * time.Millisecond,
		AntiCheatEnabled: *antiCheat,
	}
	if cfg.LogFormat != applog.FormatText && cfg.LogFormat != applog.FormatJSON {
		return d, fmt.Errorf("invalid log-format %q: want text or json", *logFormat)
	}
	return cfg, nil
}
