package acmeclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/identifier"
)

// PollBackoff is spec §4.4's authorization/order polling backoff:
// exponential from 1s capped at 8s, honoring Retry-After.
type PollBackoff struct {
	Start time.Duration
	Cap   time.Duration
}

var DefaultPollBackoff = PollBackoff{Start: time.Second, Cap: 8 * time.Second}

// maxPollCycles is spec §4.4's "timeout after 30 polling cycles".
const maxPollCycles = 30

// NewOrder implements spec §4.4's "New order".
func NewOrder(ctx context.Context, ep *Endpoint, acct *AccountState, ids []identifier.ACMEIdentifier, notBefore, notAfter string) (*OrderResponse, error) {
	req := NewOrderRequest{NotBefore: notBefore, NotAfter: notAfter}
	for _, id := range ids {
		req.Identifiers = append(req.Identifiers, WireIdentifier{Type: string(id.Type), Value: id.Value})
	}
	body, hdr, err := ep.Transport.PostJSON(ctx, acct.Key, acct.URL, ep.Directory.NewOrder, req)
	if err != nil {
		return nil, err
	}
	var order OrderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse order response")
	}
	order.URL = hdr.Get("Location")
	if order.URL == "" {
		return nil, acmeerrors.New(acmeerrors.ProtocolError, "new-order response missing Location")
	}
	return &order, nil
}

// FetchOrder POST-as-GETs the order object, used to re-check status
// between authorization completion and finalize. The response header is
// returned alongside so Finalize's poll loop can honor a Retry-After.
func FetchOrder(ctx context.Context, ep *Endpoint, acct *AccountState, orderURL string) (*OrderResponse, http.Header, error) {
	body, hdr, err := ep.Transport.PostAsGet(ctx, acct.Key, acct.URL, orderURL)
	if err != nil {
		return nil, nil, err
	}
	var order OrderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse order response")
	}
	order.URL = orderURL
	return &order, hdr, nil
}

// Finalize submits the CSR and polls the order until valid/invalid, per
// spec §4.4 "Finalize".
func Finalize(ctx context.Context, ep *Endpoint, acct *AccountState, order *OrderResponse, csrDER []byte, clk clock.Clock, backoff PollBackoff) (*OrderResponse, error) {
	req := FinalizeRequest{CSR: base64.RawURLEncoding.EncodeToString(csrDER)}
	body, hdr, err := ep.Transport.PostJSON(ctx, acct.Key, acct.URL, order.Finalize, req)
	if err != nil {
		return nil, err
	}
	var cur OrderResponse
	if err := json.Unmarshal(body, &cur); err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse finalize response")
	}
	cur.URL = order.URL

	delay := backoff.Start
	for i := 0; i < maxPollCycles; i++ {
		switch cur.Status {
		case "valid":
			return &cur, nil
		case "invalid":
			return nil, acmeerrors.New(acmeerrors.ChallengeError, "order %s is invalid after finalize", order.URL)
		}
		wait := delay
		if d, ok := retryAfterFromHeader(hdr); ok {
			wait = d
		}
		clk.Sleep(wait)
		delay *= 2
		if delay > backoff.Cap {
			delay = backoff.Cap
		}
		next, nextHdr, err := FetchOrder(ctx, ep, acct, order.URL)
		if err != nil {
			return nil, err
		}
		cur = *next
		hdr = nextHdr
	}
	return nil, acmeerrors.New(acmeerrors.ChallengeError, "ChallengeTimeout: order %s never finalized", order.URL)
}

// DownloadCertificate POST-as-GETs the certificate URL and returns the PEM
// chain, honoring a best-effort preferred-chain-by-root-CN selection per
// SPEC_FULL.md's Open Question decision: if preferredRootCN is non-empty
// and one of the Link: rel="alternate" chains has a matching root CN, that
// chain is fetched and returned instead of the default.
func DownloadCertificate(ctx context.Context, ep *Endpoint, acct *AccountState, certURL, preferredRootCN string) ([]byte, error) {
	body, hdr, err := ep.Transport.PostAsGet(ctx, acct.Key, acct.URL, certURL)
	if err != nil {
		return nil, err
	}
	if preferredRootCN == "" {
		return body, nil
	}
	if acmecrypto.LeafRootCN(body) == preferredRootCN {
		return body, nil
	}
	for _, alt := range alternateLinks(hdr.Values("Link")) {
		altBody, _, err := ep.Transport.PostAsGet(ctx, acct.Key, acct.URL, alt)
		if err != nil {
			continue
		}
		if acmecrypto.LeafRootCN(altBody) == preferredRootCN {
			return altBody, nil
		}
	}
	// No alternate matched; spec §9 permits skipping preferred-chain
	// selection silently.
	acmelog.Get().Debug("no certificate chain matches the preferred root CN; using the default chain", "preferred_root_cn", preferredRootCN)
	return body, nil
}

// alternateLinks extracts URLs from Link headers with rel="alternate",
// RFC 8555 §7.4.2.
func alternateLinks(linkHeaders []string) []string {
	var out []string
	for _, h := range linkHeaders {
		parts := strings.Split(h, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if !strings.Contains(p, `rel="alternate"`) {
				continue
			}
			start := strings.Index(p, "<")
			end := strings.Index(p, ">")
			if start >= 0 && end > start {
				out = append(out, p[start+1:end])
			}
		}
	}
	return out
}
