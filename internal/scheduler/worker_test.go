package scheduler

import (
	"context"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/letsencrypt/acmed/internal/acmeclient"
	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
	"github.com/letsencrypt/acmed/internal/hook"
	"github.com/letsencrypt/acmed/internal/identifier"
)

var errTestFailure = acmeerrors.New(acmeerrors.ProtocolError, "synthetic failure for testing")

func writeCert(t *testing.T, path, domain string, kt acmecrypto.KeyType) {
	t.Helper()
	kp, err := acmecrypto.Generate(kt)
	if err != nil {
		t.Fatalf("Generate: %s", err)
	}
	_, der, err := acmecrypto.SynthesizeTLSALPNCert(domain, "token.thumb", acmecrypto.SHA256, kp)
	if err != nil {
		t.Fatalf("SynthesizeTLSALPNCert: %s", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0644); err != nil {
		t.Fatalf("write cert: %s", err)
	}
}

func newTestWorker(t *testing.T, certPath string, ids []identifier.ACMEIdentifier, kt acmecrypto.KeyType, delay time.Duration) *Worker {
	spec := &CertificateSpec{
		Name:         "example",
		Identifiers:  ids,
		KeyType:      kt,
		CertPath:     certPath,
		RenewalDelay: delay,
		Hooks:        hook.NewRegistry(nil, nil),
	}
	return NewWorker(spec, NewAccountMutexes(), clock.NewFake())
}

func TestNeedsRenewalMissingCertFile(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, filepath.Join(dir, "missing.pem"), nil, acmecrypto.P256, time.Hour)
	if !w.needsRenewal() {
		t.Fatal("expected needsRenewal to be true when the cert file is missing")
	}
}

func TestNeedsRenewalIdentifiersChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "old.example.com", acmecrypto.P256)

	ids := []identifier.ACMEIdentifier{identifier.DNSIdentifier("new.example.com", identifier.ChallengeHTTP01)}
	w := newTestWorker(t, path, ids, acmecrypto.P256, 21*24*time.Hour)
	if !w.needsRenewal() {
		t.Fatal("expected needsRenewal to be true when identifiers changed")
	}
}

func TestNeedsRenewalKeyTypeChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)

	ids := []identifier.ACMEIdentifier{identifier.DNSIdentifier("example.com", identifier.ChallengeHTTP01)}
	w := newTestWorker(t, path, ids, acmecrypto.RSA2048, 21*24*time.Hour)
	if !w.needsRenewal() {
		t.Fatal("expected needsRenewal to be true when the key type changed")
	}
}

func TestNeedsRenewalFalseWhenFarFromExpiry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256) // NotAfter ~30 real days out

	ids := []identifier.ACMEIdentifier{identifier.DNSIdentifier("example.com", identifier.ChallengeHTTP01)}
	w := newTestWorker(t, path, ids, acmecrypto.P256, 21*24*time.Hour)
	// The fake clock starts at the Unix epoch, far earlier than any real
	// certificate's NotAfter, so the renewal deadline hasn't arrived.
	if w.needsRenewal() {
		t.Fatal("expected needsRenewal to be false for a cert far from its renewal deadline")
	}
}

func TestComputeNextWakeNoCertIssuesImmediately(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, filepath.Join(dir, "missing.pem"), nil, acmecrypto.P256, time.Hour)
	wake := w.computeNextWake()
	if !wake.Equal(w.Clock.Now()) {
		t.Fatalf("expected immediate wake %s, got %s", w.Clock.Now(), wake)
	}
}

func TestComputeNextWakePrefersPendingRetry(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, filepath.Join(dir, "missing.pem"), nil, acmecrypto.P256, time.Hour)
	pending := w.Clock.Now().Add(10 * time.Minute)
	w.nextWake = pending
	if got := w.computeNextWake(); !got.Equal(pending) {
		t.Fatalf("expected pending retry deadline %s, got %s", pending, got)
	}
}

func TestOnFailureDoublesBackoffAndSchedulesRetry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)
	w := newTestWorker(t, path, nil, acmecrypto.P256, 21*24*time.Hour)

	now := w.Clock.Now()
	w.onFailure(context.Background(), errTestFailure)
	wantFirst := now.Add(minRetryBackoff)
	if !w.nextWake.Equal(wantFirst) {
		t.Fatalf("nextWake = %s, want %s", w.nextWake, wantFirst)
	}
	if w.backoff != 2*minRetryBackoff {
		t.Fatalf("backoff = %s, want %s", w.backoff, 2*minRetryBackoff)
	}

	w.onFailure(context.Background(), errTestFailure)
	wantSecond := now.Add(2 * minRetryBackoff)
	if !w.nextWake.Equal(wantSecond) {
		t.Fatalf("nextWake = %s, want %s", w.nextWake, wantSecond)
	}
	if w.backoff != 4*minRetryBackoff {
		t.Fatalf("backoff = %s, want %s", w.backoff, 4*minRetryBackoff)
	}
}

func TestOnFailureCapsBackoffAtMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)
	w := newTestWorker(t, path, nil, acmecrypto.P256, 21*24*time.Hour)
	w.backoff = maxRetryBackoff

	w.onFailure(context.Background(), errTestFailure)
	if w.backoff != maxRetryBackoff {
		t.Fatalf("backoff = %s, want capped at %s", w.backoff, maxRetryBackoff)
	}
}

func TestOnFailureClampsRetryToRenewalDeadline(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorker(t, filepath.Join(dir, "missing.pem"), nil, acmecrypto.P256, time.Hour)
	// No cert on disk: renewalDeadline returns "now",
	// which is earlier than now+minRetryBackoff, so the retry must be
	// clamped down to it rather than delaying an initial issuance.
	now := w.Clock.Now()
	w.onFailure(context.Background(), errTestFailure)
	if !w.nextWake.Equal(now) {
		t.Fatalf("nextWake = %s, want clamped to %s", w.nextWake, now)
	}
}

func TestOnSuccessResetsBackoffAndWake(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)
	spec := &CertificateSpec{Name: "example", CertPath: path, RenewalDelay: 21 * 24 * time.Hour, Hooks: hook.NewRegistry(nil, nil)}
	w := NewWorker(spec, NewAccountMutexes(), clock.NewFake())
	w.backoff = 2 * time.Hour
	w.nextWake = w.Clock.Now().Add(time.Hour)

	w.onSuccess(context.Background())

	if w.backoff != minRetryBackoff {
		t.Fatalf("backoff = %s, want reset to %s", w.backoff, minRetryBackoff)
	}
	if !w.nextWake.IsZero() {
		t.Fatalf("nextWake = %s, want zero", w.nextWake)
	}
}

func TestOnSuccessRecordsRenewalMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)
	spec := &CertificateSpec{Name: "example", CertPath: path, RenewalDelay: 21 * 24 * time.Hour, Hooks: hook.NewRegistry(nil, nil)}
	w := NewWorker(spec, NewAccountMutexes(), clock.NewFake())
	w.Metrics = acmemetrics.New(prometheus.NewRegistry())

	w.onSuccess(context.Background())

	if got := testutil.ToFloat64(w.Metrics.RenewalsSucceeded.WithLabelValues("example")); got != 1 {
		t.Fatalf("RenewalsSucceeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(w.Metrics.CertNotAfter.WithLabelValues("example")); got == 0 {
		t.Fatal("CertNotAfter was not set after a successful renewal")
	}
}

func TestOnFailureRecordsRenewalMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	writeCert(t, path, "example.com", acmecrypto.P256)
	w := newTestWorker(t, path, nil, acmecrypto.P256, 21*24*time.Hour)
	w.Metrics = acmemetrics.New(prometheus.NewRegistry())

	w.onFailure(context.Background(), errTestFailure)

	if got := testutil.ToFloat64(w.Metrics.RenewalsFailed.WithLabelValues("example", errTestFailure.Kind.String())); got != 1 {
		t.Fatalf("RenewalsFailed = %v, want 1", got)
	}
}

func TestAttemptIncrementsRenewalsAttempted(t *testing.T) {
	dir := t.TempDir()
	kp, err := acmecrypto.Generate(acmecrypto.P256)
	if err != nil {
		t.Fatalf("Generate: %s", err)
	}
	// A URL already set lets EnsureAccount short-circuit; the newOrder URL
	// is unreachable so Issue fails with a transport error right after,
	// but attempt must have already counted the attempt by then.
	acct := &acmeclient.AccountState{Name: "default", Key: kp, URL: "http://unused.invalid/acct/1"}
	transport, err := acmeclient.NewTransport("acmed-test", nil, acmeclient.NewLimiter(acmeclient.RateLimit{}), clock.NewFake(), acmeclient.RetryPolicy{})
	if err != nil {
		t.Fatalf("NewTransport: %s", err)
	}
	ep := &acmeclient.Endpoint{
		Name:      "letsencrypt",
		Directory: &acmeclient.Directory{NewOrder: "http://unused.invalid/new-order"},
		Transport: transport,
	}

	ids := []identifier.ACMEIdentifier{identifier.DNSIdentifier("example.com", identifier.ChallengeHTTP01)}
	spec := &CertificateSpec{
		Name:        "example",
		Identifiers: ids,
		KeyType:     acmecrypto.P256,
		CertPath:    filepath.Join(dir, "missing.pem"),
		Endpoint:    ep,
		Account:     acct,
		Hooks:       hook.NewRegistry(nil, nil),
	}
	w := NewWorker(spec, NewAccountMutexes(), clock.NewFake())
	w.Metrics = acmemetrics.New(prometheus.NewRegistry())

	w.attempt(context.Background())

	if got := testutil.ToFloat64(w.Metrics.RenewalsAttempted.WithLabelValues("example")); got != 1 {
		t.Fatalf("RenewalsAttempted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(w.Metrics.RenewalsSucceeded.WithLabelValues("example")); got != 0 {
		t.Fatalf("RenewalsSucceeded = %v, want 0 for a failed attempt", got)
	}
}
