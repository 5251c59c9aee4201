package acmeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/probs"
)

const joseContentType = "application/jose+json"

// RetryPolicy is spec §4.2's retry configuration: up to Max retries after
// the first attempt, with exponential backoff, base 1s factor 2 jitter ±20%.
type RetryPolicy struct {
	Max  int
	Base time.Duration
}

// DefaultRetryPolicy matches spec §4.2's stated defaults.
var DefaultRetryPolicy = RetryPolicy{Max: 3, Base: time.Second}

// Transport is the per-endpoint HTTPS client, grounded on the teacher's
// pattern of a configured *http.Client plus a rate limiter and clock
// injected at construction (log/log.go, nonce/nonce.go take a
// jmhodges/clock.Clock the same way).
type Transport struct {
	client      *http.Client
	userAgent   string
	limiter     *Limiter
	clock       clock.Clock
	retry       RetryPolicy
	nonces      *NoncePool
}

// NewTransport builds an HTTPS client honoring spec §4.2: custom
// user-agent, extra trusted roots, proxy-from-environment (the default
// http.Transport already reads HTTP_PROXY/HTTPS_PROXY/NO_PROXY), and a
// per-endpoint rate limiter.
func NewTransport(userAgent string, extraRoots []*x509.Certificate, limiter *Limiter, clk clock.Clock, retry RetryPolicy) (*Transport, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, c := range extraRoots {
		pool.AddCert(c)
	}
	rt := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
	return &Transport{
		client:    &http.Client{Transport: rt, Timeout: 30 * time.Second},
		userAgent: userAgent,
		limiter:   limiter,
		clock:     clk,
		retry:     retry,
	}, nil
}

// SetNoncePool wires the pool built from this transport's own Head method
// (avoiding a construction-order cycle: the pool needs a HEAD function that
// closes over this transport).
func (t *Transport) SetNoncePool(p *NoncePool) { t.nonces = p }

// Nonces returns the transport's nonce pool.
func (t *Transport) Nonces() *NoncePool { return t.nonces }

// Head performs an unsigned HEAD request, used to fetch the directory's
// initial nonce or to mint a fresh one on pool exhaustion (spec §4.3).
func (t *Transport) Head(ctx context.Context, url string) (*http.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	return t.client.Do(req)
}

// GetJSON performs an unsigned GET, used only for the directory and
// certificate downloads that don't require POST-as-GET (spec §4.2).
func (t *Transport) GetJSON(ctx context.Context, url string) ([]byte, http.Header, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.TransportError, err, "build GET")
	}
	req.Header.Set("User-Agent", t.userAgent)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.TransportError, err, "GET %s", url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.TransportError, err, "read GET body")
	}
	if resp.StatusCode >= 400 {
		return nil, resp.Header, parseProblem(resp.StatusCode, body)
	}
	return body, resp.Header, nil
}

// PostAsGet performs a POST-as-GET (RFC 8555 §6.3): a JWS with an empty
// string payload.
func (t *Transport) PostAsGet(ctx context.Context, kp *acmecrypto.KeyPair, acctURL, url string) ([]byte, http.Header, error) {
	return t.postJWS(ctx, kp, acctURL, url, []byte(""))
}

// PostJSON signs payload (typically JSON) and POSTs it, retrying per
// spec §4.2's policy.
func (t *Transport) PostJSON(ctx context.Context, kp *acmecrypto.KeyPair, acctURL, url string, payload interface{}) ([]byte, http.Header, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "marshal request payload")
		}
		body = b
	}
	return t.postJWS(ctx, kp, acctURL, url, body)
}

func (t *Transport) postJWS(ctx context.Context, kp *acmecrypto.KeyPair, acctURL, url string, payload []byte) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retry.Max; attempt++ {
		if attempt > 0 {
			t.clock.Sleep(backoff(t.retry.Base, attempt, lastErr))
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		jws, err := acmecrypto.SignJWS(kp, acctURL, url, nonceSource{ctx, t.nonces}, payload)
		if err != nil {
			return nil, nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(jws)))
		if err != nil {
			return nil, nil, acmeerrors.Wrap(acmeerrors.TransportError, err, "build POST")
		}
		req.Header.Set("Content-Type", joseContentType)
		req.Header.Set("User-Agent", t.userAgent)

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = acmeerrors.Wrap(acmeerrors.TransportError, err, "POST %s", url)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.nonces.Push(resp.Header.Get("Replay-Nonce"))
		if readErr != nil {
			lastErr = acmeerrors.Wrap(acmeerrors.TransportError, readErr, "read POST body")
			continue
		}
		if resp.StatusCode >= 400 {
			perr := parseProblem(resp.StatusCode, respBody)
			if d, ok := retryAfterFromHeader(resp.Header); ok {
				perr = perr.WithRetryAfter(d)
			}
			// Any 5xx except 501 Not Implemented is retried regardless of
			// whether the body parsed into a retryable ACME problem: a CA
			// mid-outage often returns an HTML or empty body.
			if perr.Retryable() || (resp.StatusCode >= 500 && resp.StatusCode != 501) {
				lastErr = perr
				continue
			}
			return nil, resp.Header, perr
		}
		return respBody, resp.Header, nil
	}
	return nil, nil, lastErr
}

// backoff computes the exponential delay with jitter for the given attempt
// count (1-indexed) per spec §4.2, honoring Retry-After for rate-limited
// problems.
func backoff(base time.Duration, attempt int, lastErr error) time.Duration {
	if ae, ok := lastErr.(*acmeerrors.AcmedError); ok && ae.Problem != nil && ae.Problem.Type == probs.RateLimitedProblem {
		if d, ok := retryAfterOf(ae); ok {
			return d
		}
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	jitter := 0.8 + rand.Float64()*0.4 // ±20%
	return time.Duration(float64(d) * jitter)
}

// retryAfterCarrier is satisfied by an error that postJWS has tagged via
// WithRetryAfter when the response carried a Retry-After, so backoff() can
// honor it without a second round trip.
type retryAfterCarrier interface {
	RetryAfter() (time.Duration, bool)
}

func retryAfterOf(err error) (time.Duration, bool) {
	if c, ok := err.(retryAfterCarrier); ok {
		return c.RetryAfter()
	}
	return 0, false
}

func parseProblem(status int, body []byte) *acmeerrors.AcmedError {
	var p probs.ProblemDetails
	if err := json.Unmarshal(body, &p); err != nil || p.Type == "" {
		return acmeerrors.New(acmeerrors.ProtocolError, "HTTP %d, unparseable problem body", status)
	}
	p.Status = status
	return acmeerrors.FromProblem(&p)
}

// nonceSource adapts *NoncePool to acmecrypto.NonceSource, closing over the
// request's context so go-jose's synchronous NonceSource.Nonce() interface
// can still perform the async HEAD-newNonce fallback.
type nonceSource struct {
	ctx context.Context
	np  *NoncePool
}

func (n nonceSource) Nonce() (string, error) {
	return n.np.Nonce(n.ctx)
}

func retryAfterFromHeader(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
