// Package metrics exposes the Forwarding Service's and Slot Prober's
// counters/gauges on a private Prometheus registry.
//
// Grounded on github.com/prometheus/client_golang, a real dependency of
// this corpus's USB/IP device plugin. This is operator/developer
// tooling, not a game-facing surface, so it binds loopback-only and a
// bind failure is logged and non-fatal rather than killing the process
// (the same posture given to the input filter driver's absence).
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics this repo actually updates. Every metric
// field is exported so components can take a narrow dependency (e.g. one
// prometheus.Counter) instead of the whole Registry.
type Registry struct {
	reg *prometheus.Registry

	SlotConnected *prometheus.GaugeVec
	SlotBattery   *prometheus.GaugeVec

	ChannelErrorsTotal  prometheus.Counter
	ForwardingStarts    prometheus.Counter
	ForwardingStops     prometheus.Counter
	ForwardingRollbacks prometheus.Counter
}

// New builds and registers all metrics against a fresh private registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SlotConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlshift_slot_connected",
			Help: "1 if a physical gamepad slot is connected, 0 otherwise.",
		}, []string{"slot"}),
		SlotBattery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlshift_slot_battery_percent",
			Help: "Reported battery level (0/20/60/100) for wireless slots.",
		}, []string{"slot"}),
		ChannelErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlshift_forwarding_channel_errors_total",
			Help: "Forwarding channel errors (e.g. SourceVanished) across the process lifetime.",
		}),
		ForwardingStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlshift_forwarding_start_total",
			Help: "Successful Forwarding Service start() calls.",
		}),
		ForwardingStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlshift_forwarding_stop_total",
			Help: "Forwarding Service stop() calls, including idempotent repeats.",
		}),
		ForwardingRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlshift_forwarding_rollback_total",
			Help: "Forwarding Service start() calls that rolled back due to a mid-start failure.",
		}),
	}

	reg.MustRegister(r.SlotConnected, r.SlotBattery, r.ChannelErrorsTotal,
		r.ForwardingStarts, r.ForwardingStops, r.ForwardingRollbacks)
	return r
}

// Serve starts the /metrics HTTP server on addr. It returns immediately;
// ctx cancellation shuts the server down. An empty addr disables it. A
// listen failure is logged at Warn and Serve returns without serving; no
// error is reported to the caller.
func (r *Registry) Serve(ctx context.Context, addr string, logger kitlog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		level.Warn(logger).Log("msg", "metrics listener failed, continuing without /metrics", "addr", addr, "err", err)
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			level.Warn(logger).Log("msg", "metrics server stopped", "err", err)
		}
	}()
}
