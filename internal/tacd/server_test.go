package tacd

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
)

func testDigestHex() string {
	sum := sha256.Sum256([]byte("token123.thumbprint"))
	return hex.EncodeToString(sum[:])
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %s", err)
	}
	return m.GetCounter().GetValue()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New("example.com", testDigestHex(), acmecrypto.SHA256, acmecrypto.P256)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	srv.HandshakesTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_handshakes_total"})
	srv.HandshakesRefused = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_handshakes_refused_total"})
	return srv
}

func TestServeAcceptsACMETLS1Handshake(t *testing.T) {
	srv := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	go srv.Serve(ln)
	defer ln.Close()

	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{acmeTLS1},
	})
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for counterValue(t, srv.HandshakesTotal) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := counterValue(t, srv.HandshakesTotal); got != 1 {
		t.Fatalf("HandshakesTotal = %v, want 1", got)
	}
	if got := counterValue(t, srv.HandshakesRefused); got != 0 {
		t.Fatalf("HandshakesRefused = %v, want 0", got)
	}
}

func TestServeRefusesNonACMETLS1Handshake(t *testing.T) {
	srv := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	go srv.Serve(ln)
	defer ln.Close()

	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"http/1.1"},
	})
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for a client that doesn't offer acme-tls/1")
	}

	deadline := time.Now().Add(2 * time.Second)
	for counterValue(t, srv.HandshakesRefused) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := counterValue(t, srv.HandshakesRefused); got != 1 {
		t.Fatalf("HandshakesRefused = %v, want 1", got)
	}
	if got := counterValue(t, srv.HandshakesTotal); got != 0 {
		t.Fatalf("HandshakesTotal = %v, want 0", got)
	}
}

func TestServeStopsWhenListenerCloses(t *testing.T) {
	srv := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	ln.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error after listener close: %s", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after listener was closed")
	}
}

func TestListenTCP(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen tcp: %s", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "tcp" {
		t.Fatalf("expected tcp network, got %s", ln.Addr().Network())
	}
}

func TestNewRejectsBadDigestHex(t *testing.T) {
	if _, err := New("example.com", "not-hex", acmecrypto.SHA256, acmecrypto.P256); err == nil {
		t.Fatal("expected error for non-hex digest")
	}
}
