// Package acmemetrics exposes the daemons' Prometheus collectors, the way
// the teacher's metrics package wires a Scope to a prometheus.Registerer,
// adapted here to a fixed set of named collectors instead of a dynamically
// registered scope tree, since acmed/tacd have a small, known metric
// surface rather than boulder's many independently-evolving services.
package acmemetrics

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/letsencrypt/acmed/internal/acmelog"
)

// Metrics bundles the daemons' collectors. acmed and tacd both register the
// full set through New; tacd only updates HandshakesTotal and
// HandshakesRefused.
type Metrics struct {
	RenewalsAttempted *prometheus.CounterVec
	RenewalsSucceeded *prometheus.CounterVec
	RenewalsFailed    *prometheus.CounterVec
	CertNotAfter      *prometheus.GaugeVec
	NonceCacheSize    prometheus.Gauge
	RateLimiterWaits  *prometheus.CounterVec
	HookDuration      *prometheus.HistogramVec
	HandshakesTotal   prometheus.Counter
	HandshakesRefused prometheus.Counter
}

// New builds and registers a Metrics against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RenewalsAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acmed_renewals_attempted_total",
			Help: "Renewal attempts, by certificate name.",
		}, []string{"certificate"}),
		RenewalsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acmed_renewals_succeeded_total",
			Help: "Successful renewals, by certificate name.",
		}, []string{"certificate"}),
		RenewalsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acmed_renewals_failed_total",
			Help: "Failed renewal attempts, by certificate name and error kind.",
		}, []string{"certificate", "kind"}),
		CertNotAfter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acmed_certificate_not_after_seconds",
			Help: "Unix timestamp of the currently deployed certificate's NotAfter, by certificate name.",
		}, []string{"certificate"}),
		NonceCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acmed_nonce_pool_size",
			Help: "Number of unused nonces held in the client nonce pool.",
		}),
		RateLimiterWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acmed_rate_limiter_waits_total",
			Help: "Times a request blocked on the endpoint rate limiter, by endpoint name.",
		}, []string{"endpoint"}),
		HookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "acmed_hook_duration_seconds",
			Help: "Hook execution latency, by hook name and trigger.",
		}, []string{"hook", "trigger"}),
		HandshakesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tacd_handshakes_total",
			Help: "TLS handshakes accepted by the TLS-ALPN-01 responder.",
		}),
		HandshakesRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tacd_handshakes_refused_total",
			Help: "TLS handshakes refused for not offering acme-tls/1.",
		}),
	}
	registerer.MustRegister(
		m.RenewalsAttempted, m.RenewalsSucceeded, m.RenewalsFailed,
		m.CertNotAfter, m.NonceCacheSize, m.RateLimiterWaits, m.HookDuration,
		m.HandshakesTotal, m.HandshakesRefused,
	)
	return m
}

// DebugServer boots a /metrics + pprof listener, mirroring the teacher's
// cmd.DebugServer but serving a dedicated mux rather than the default one,
// and logging through acmelog instead of the standard logger.
func DebugServer(addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	acmelog.Get().Info("booting debug server", "addr", addr)
	go func() {
		acmelog.Get().Error("debug server exited", "error", http.Serve(ln, mux).Error())
	}()
	return nil
}
