// Package applog builds the root logger shared by every component.
//
// Grounded on this corpus's go-kit/log usage (the USB/IP device plugin
// wires log.Logger + level.{Debug,Info,Warn,Error} through every
// component rather than a package-global logger).
package applog

import (
	"io"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
)

// Format selects the root logger's encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New builds a root logger writing to w (controlshiftd passes os.Stdout,
// or os.Stderr with --daemon). Text
// format matches main.go's terse log.Printf register; JSON is for
// environments that ingest logs as structured records.
func New(w io.Writer, format Format) kitlog.Logger {
	var base kitlog.Logger
	switch format {
	case FormatJSON:
		base = kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
	default:
		base = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	}
	return kitlog.With(base,
		"ts", kitlog.TimestampFormat(time.Now, time.RFC3339),
	)
}

// Nop returns a logger that discards everything, used by tests that
// don't care about log output.
func Nop() kitlog.Logger {
	return kitlog.NewNopLogger()
}

// Discard is a convenience io.Writer for callers that want a New()
// logger without wiring up os.Stderr directly (e.g. one-off tools).
var Discard = io.Discard

// Default is the process-wide fallback used only by code paths that run
// before configuration is resolved (e.g. flag parsing failures). Every
// other component receives its logger explicitly.
var Default = New(os.Stderr, FormatText)
