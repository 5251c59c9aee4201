package acmeclient

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// NoncePool is spec §3/§4.3's per-endpoint FIFO of server-minted anti-replay
// nonces. Structurally simpler than the teacher's nonce.NonceService (which
// exists CA-side to *generate* nonces via an encrypted counter); a client
// only ever consumes nonces the CA hands it, so the pool is a queue guarded
// by a mutex rather than a counter/heap. The queue has no size limit; only
// the duplicate-tracking set is bounded (see Push).
type NoncePool struct {
	mu   sync.Mutex
	pool []string
	seen map[string]bool

	newNonceURL string
	getter      func(ctx context.Context, url string) (*http.Response, error)
	size        prometheus.Gauge
}

// SetMetric attaches the shared NonceCacheSize gauge, so it reports the
// number of unused nonces currently held instead of sitting at zero.
func (p *NoncePool) SetMetric(g prometheus.Gauge) {
	p.mu.Lock()
	p.size = g
	p.mu.Unlock()
	p.reportSize()
}

func (p *NoncePool) reportSize() {
	p.mu.Lock()
	g, n := p.size, len(p.pool)
	p.mu.Unlock()
	if g != nil {
		g.Set(float64(n))
	}
}

// NewNoncePool constructs a pool that mints via a HEAD to newNonceURL when
// empty, using getter as the low-level HEAD transport (bound to
// *Transport.Head to avoid an import cycle between acmeclient's transport
// and nonce files).
func NewNoncePool(newNonceURL string, getter func(ctx context.Context, url string) (*http.Response, error)) *NoncePool {
	return &NoncePool{
		newNonceURL: newNonceURL,
		getter:      getter,
		seen:        make(map[string]bool),
	}
}

// Nonce pops the oldest queued nonce, minting one via HEAD newNonce if the
// pool is empty.
func (p *NoncePool) Nonce(ctx context.Context) (string, error) {
	p.mu.Lock()
	if len(p.pool) > 0 {
		v := p.pool[0]
		p.pool = p.pool[1:]
		p.mu.Unlock()
		p.reportSize()
		return v, nil
	}
	p.mu.Unlock()

	resp, err := p.getter(ctx, p.newNonceURL)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.TransportError, err, "HEAD newNonce")
	}
	defer resp.Body.Close()
	nonce := resp.Header.Get("Replay-Nonce")
	if nonce == "" {
		return "", acmeerrors.New(acmeerrors.ProtocolError, "newNonce response missing Replay-Nonce")
	}
	return nonce, nil
}

// Push stores a nonce carried on a response for later reuse, discarding it
// if already seen (a well-behaved CA never repeats one, but a duplicate
// must never be handed out twice by us either).
func (p *NoncePool) Push(nonce string) {
	if nonce == "" {
		return
	}
	p.mu.Lock()
	if p.seen[nonce] {
		p.mu.Unlock()
		return
	}
	p.seen[nonce] = true
	p.pool = append(p.pool, nonce)
	// Bound seen-set growth; correctness only requires "not currently
	// queued twice", not permanent global dedup.
	if len(p.seen) > 4096 {
		p.seen = make(map[string]bool, len(p.pool))
		for _, n := range p.pool {
			p.seen[n] = true
		}
	}
	p.mu.Unlock()
	p.reportSize()
}
