package scheduler

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sort"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmeclient"
	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
	"github.com/letsencrypt/acmed/internal/hook"
	"github.com/letsencrypt/acmed/internal/identifier"
	"github.com/letsencrypt/acmed/internal/storage"
)

// minRetryBackoff/maxRetryBackoff are spec §4.5's failure-retry backoff:
// "starts at 5 min, doubles up to 24h."
const (
	minRetryBackoff = 5 * time.Minute
	maxRetryBackoff = 24 * time.Hour
)

// CertificateSpec is spec §3's CRR plus the endpoint/account/hook
// references a worker needs to drive one certificate's lifecycle.
type CertificateSpec struct {
	Name            string
	Endpoint        *acmeclient.Endpoint
	Account         *acmeclient.AccountState
	AccountName     string
	Identifiers     []identifier.ACMEIdentifier
	KeyType         acmecrypto.KeyType
	CSRDigest       acmecrypto.Digest
	Subject         acmecrypto.SubjectAttributes
	RenewalDelay    time.Duration
	KeyPairReuse    bool
	TOSAgreed       bool
	Hooks           *hook.Registry
	ChallengeHooks  []string
	PostOpHooks     []string
	Env             hook.Env
	CertPath        string
	KeyPath         string
	CertsDir        string
	PreferredRootCN string
	CertFileMode    os.FileMode
	KeyFileMode     os.FileMode
	AccountsDir     string
}

// Worker drives one certificate's renewal loop, spec §4.5.
type Worker struct {
	Spec     *CertificateSpec
	Mutexes  *AccountMutexes
	Clock    clock.Clock
	Metrics  *acmemetrics.Metrics
	nextWake time.Time
	backoff  time.Duration
}

// NewWorker constructs a Worker with its retry backoff at the initial
// value spec §4.5 specifies.
func NewWorker(spec *CertificateSpec, mutexes *AccountMutexes, clk clock.Clock) *Worker {
	return &Worker{Spec: spec, Mutexes: mutexes, Clock: clk, backoff: minRetryBackoff}
}

// Run loops forever: sleep until due, attempt a pass, reschedule.
// Cancellation via ctx returns promptly between suspension points, per
// spec §5's "finish the current HTTP response or the current hook (no
// preemption mid-process)".
func (w *Worker) Run(ctx context.Context) {
	for {
		wake := w.computeNextWake()
		if d := w.Clock.Now().Sub(wake); d < 0 {
			select {
			case <-ctx.Done():
				return
			case <-w.Clock.After(-d):
			}
		}
		if ctx.Err() != nil {
			return
		}
		w.attempt(ctx)
	}
}

// computeNextWake returns the next time this worker should act: either its
// pending retry deadline, or the renewal deadline computed from the
// on-disk certificate's expiry.
func (w *Worker) computeNextWake() time.Time {
	if !w.nextWake.IsZero() {
		return w.nextWake
	}
	return w.renewalDeadline()
}

// renewalDeadline returns the certificate's true renewal deadline, derived
// solely from the on-disk certificate's expiry: unlike computeNextWake it
// never short-circuits on a pending retry, so onFailure's clamp always
// compares against the real deadline rather than an earlier scheduled retry.
func (w *Worker) renewalDeadline() time.Time {
	notAfter, ok := w.currentExpiry()
	if !ok {
		return w.Clock.Now() // no cert yet, issue immediately
	}
	return notAfter.Add(-w.Spec.RenewalDelay)
}

func (w *Worker) currentExpiry() (time.Time, bool) {
	data, err := os.ReadFile(w.Spec.CertPath)
	if err != nil {
		return time.Time{}, false
	}
	t, err := acmecrypto.ParseCertExpiry(data)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// needsRenewal implements spec §4.5's "needs renewal" predicate: missing
// file, changed identifiers, changed key type, or past the renewal
// deadline.
func (w *Worker) needsRenewal() bool {
	data, err := os.ReadFile(w.Spec.CertPath)
	if err != nil {
		return true
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return true
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return true
	}
	if !sameIdentifiers(cert, w.Spec.Identifiers) {
		return true
	}
	if !sameKeyType(cert, w.Spec.KeyType) {
		return true
	}
	return !w.Clock.Now().Before(cert.NotAfter.Add(-w.Spec.RenewalDelay))
}

func sameIdentifiers(cert *x509.Certificate, want []identifier.ACMEIdentifier) bool {
	var haveNames []string
	haveNames = append(haveNames, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		haveNames = append(haveNames, ip.String())
	}
	var wantNames []string
	for _, id := range want {
		wantNames = append(wantNames, id.Value)
	}
	sort.Strings(haveNames)
	sort.Strings(wantNames)
	if len(haveNames) != len(wantNames) {
		return false
	}
	for i := range haveNames {
		if haveNames[i] != wantNames[i] {
			return false
		}
	}
	return true
}

func sameKeyType(cert *x509.Certificate, want acmecrypto.KeyType) bool {
	switch want {
	case acmecrypto.RSA2048, acmecrypto.RSA4096:
		return cert.PublicKeyAlgorithm == x509.RSA
	case acmecrypto.P256, acmecrypto.P384, acmecrypto.P521:
		return cert.PublicKeyAlgorithm == x509.ECDSA
	case acmecrypto.Ed25519, acmecrypto.Ed448:
		return cert.PublicKeyAlgorithm == x509.Ed25519
	default:
		return false
	}
}

// attempt performs one renewal pass, spec §4.5 steps 1-4.
func (w *Worker) attempt(ctx context.Context) {
	if !w.needsRenewal() {
		w.nextWake = time.Time{}
		return
	}
	if w.Metrics != nil {
		w.Metrics.RenewalsAttempted.WithLabelValues(w.Spec.Name).Inc()
	}

	mu := w.Mutexes.For(w.Spec.AccountName)
	mu.Lock()
	defer mu.Unlock()

	csrKey, err := w.loadOrGenerateCSRKey()
	if err != nil {
		w.onFailure(ctx, err)
		return
	}

	req := &acmeclient.IssuanceRequest{
		Identifiers:     w.Spec.Identifiers,
		AccountKey:      w.Spec.Account.Key,
		CSRKey:          csrKey,
		CSRDigest:       w.Spec.CSRDigest,
		Subject:         w.Spec.Subject,
		PreferredRootCN: w.Spec.PreferredRootCN,
		Hooks:           w.Spec.Hooks,
		ChallengeHooks:  w.Spec.ChallengeHooks,
		Env:             w.Spec.Env,
		TOSAgreed:       w.Spec.TOSAgreed,
	}
	accountURLBefore := w.Spec.Account.URL
	result, err := acmeclient.Issue(ctx, w.Spec.Endpoint, w.Spec.Account, req, w.Clock)
	if err != nil {
		w.onFailure(ctx, err)
		return
	}
	if w.Spec.Account.URL != accountURLBefore {
		if err := w.persistAccount(); err != nil {
			acmelog.Get().Warn("failed to persist account bundle after registration", "account", w.Spec.AccountName, "error", err.Error())
		}
	}

	if err := w.persist(csrKey, result); err != nil {
		w.onFailure(ctx, err)
		return
	}

	w.onSuccess(ctx)
}

func (w *Worker) loadOrGenerateCSRKey() (*acmecrypto.KeyPair, error) {
	if w.Spec.KeyPairReuse {
		if data, err := os.ReadFile(w.Spec.KeyPath); err == nil {
			if kp, err := acmecrypto.LoadKeyPair(data); err == nil && kp.Type == w.Spec.KeyType {
				return kp, nil
			}
		}
	}
	return acmecrypto.Generate(w.Spec.KeyType)
}

func (w *Worker) persist(csrKey *acmecrypto.KeyPair, result *acmeclient.Result) error {
	var keyPEM []byte
	if !w.Spec.KeyPairReuse {
		encoded, err := acmecrypto.MarshalPKCS8(csrKey)
		if err != nil {
			return err
		}
		keyPEM = encoded
	} else if _, err := os.Stat(w.Spec.KeyPath); err != nil {
		encoded, err := acmecrypto.MarshalPKCS8(csrKey)
		if err != nil {
			return err
		}
		keyPEM = encoded
	}
	_, err := storage.WriteCertAndKey(
		w.Spec.CertsDir, w.Spec.CertPath, w.Spec.KeyPath,
		result.PEMChain, keyPEM,
		w.Spec.CertFileMode, w.Spec.KeyFileMode,
		w.Spec.Hooks, w.Spec.ChallengeHooks, w.Spec.Env,
	)
	return err
}

// persistAccount saves the account bundle after EnsureAccount discovers or
// creates a URL for it, so the next process start skips registration,
// per spec §3's account-to-endpoint URL invariant.
func (w *Worker) persistAccount() error {
	acct := w.Spec.Account
	keyPEM, err := acmecrypto.MarshalPKCS8(acct.Key)
	if err != nil {
		return err
	}
	history := make([][]byte, 0, len(acct.KeyHistory))
	for _, kp := range acct.KeyHistory {
		pemBytes, err := acmecrypto.MarshalPKCS8(kp)
		if err != nil {
			return err
		}
		history = append(history, pemBytes)
	}
	urlByEndpoint := map[string]string{}
	if existing, err := storage.LoadAccountBundle(w.Spec.AccountsDir, w.Spec.AccountName); err == nil && existing != nil {
		for k, v := range existing.URLByEndpoint {
			urlByEndpoint[k] = v
		}
	}
	urlByEndpoint[w.Spec.Endpoint.Name] = acct.URL
	bundle := &storage.AccountBundle{
		Name:          w.Spec.AccountName,
		Contacts:      acct.Contacts,
		KeyPEM:        keyPEM,
		KeyType:       acct.Key.Type,
		KeyHistory:    history,
		URLByEndpoint: urlByEndpoint,
	}
	return storage.SaveAccountBundle(w.Spec.AccountsDir, bundle)
}

func (w *Worker) onSuccess(ctx context.Context) {
	w.backoff = minRetryBackoff
	w.nextWake = time.Time{}
	if w.Metrics != nil {
		w.Metrics.RenewalsSucceeded.WithLabelValues(w.Spec.Name).Inc()
		if notAfter, ok := w.currentExpiry(); ok {
			w.Metrics.CertNotAfter.WithLabelValues(w.Spec.Name).Set(float64(notAfter.Unix()))
		}
	}
	vars := hook.PostOperationContext(true, acmeclient.IdentifiersCSV(w.Spec.Identifiers))
	w.runPostOp(ctx, vars)
}

func (w *Worker) onFailure(ctx context.Context, err error) {
	acmelog.Get().Error("certificate renewal failed", "certificate", w.Spec.Name, "error", err.Error())
	vars := hook.PostOperationContext(false, acmeclient.IdentifiersCSV(w.Spec.Identifiers))
	w.runPostOp(ctx, vars)

	kind := "unknown"
	if ae, ok := err.(*acmeerrors.AcmedError); ok {
		kind = ae.Kind.String()
	}
	if w.Metrics != nil {
		w.Metrics.RenewalsFailed.WithLabelValues(w.Spec.Name, kind).Inc()
	}
	acmelog.Get().Debug("scheduling retry", "certificate", w.Spec.Name, "kind", kind, "backoff", w.backoff.String())

	retryAt := w.Clock.Now().Add(w.backoff)
	deadline := w.renewalDeadline()
	if retryAt.After(deadline) {
		retryAt = deadline
	}
	w.nextWake = retryAt
	w.backoff *= 2
	if w.backoff > maxRetryBackoff {
		w.backoff = maxRetryBackoff
	}
}

func (w *Worker) runPostOp(ctx context.Context, vars hook.Vars) {
	hooks, err := w.Spec.Hooks.Flatten(w.Spec.PostOpHooks)
	if err != nil {
		acmelog.Get().Warn("failed to resolve post-operation hooks", "certificate", w.Spec.Name, "error", err.Error())
		return
	}
	if err := hook.RunSet(ctx, hook.ForTrigger(hooks, hook.PostOperation), vars); err != nil {
		acmelog.Get().Warn("post-operation hook failed", "certificate", w.Spec.Name, "error", err.Error())
	}
}
