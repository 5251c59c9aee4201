package acmemetrics

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RenewalsAttempted.WithLabelValues("example").Inc()
	m.RenewalsSucceeded.WithLabelValues("example").Inc()
	m.RenewalsFailed.WithLabelValues("example", "protocol").Inc()
	m.CertNotAfter.WithLabelValues("example").Set(1234)
	m.NonceCacheSize.Set(5)
	m.RateLimiterWaits.WithLabelValues("prod").Inc()
	m.HookDuration.WithLabelValues("deploy", "deployed_ok").Observe(0.5)
	m.HandshakesTotal.Inc()
	m.HandshakesRefused.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %s", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	want := []string{
		"acmed_renewals_attempted_total",
		"acmed_renewals_succeeded_total",
		"acmed_renewals_failed_total",
		"acmed_certificate_not_after_seconds",
		"acmed_nonce_pool_size",
		"acmed_rate_limiter_waits_total",
		"acmed_hook_duration_seconds",
		"tacd_handshakes_total",
		"tacd_handshakes_refused_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected collector %q to be registered", name)
		}
	}
}

func TestDebugServerNoopWithEmptyAddr(t *testing.T) {
	if err := DebugServer(""); err != nil {
		t.Fatalf("expected DebugServer(\"\") to be a no-op, got %s", err)
	}
}

func TestDebugServerRejectsUnavailableAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("could not reserve a port for the conflict test: %s", err)
	}
	defer ln.Close()

	if err := DebugServer(ln.Addr().String()); err == nil {
		t.Fatal("expected an error binding to an address already in use")
	}
}
