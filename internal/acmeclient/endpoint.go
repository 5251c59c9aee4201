package acmeclient

import (
	"context"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// Endpoint bundles the per-CA state spec §3 requires: one nonce pool and
// one rate limiter per endpoint, plus the cached directory and the
// transport both are threaded through.
type Endpoint struct {
	Name      string
	Directory *Directory
	Transport *Transport
}

// NewEndpoint fetches the directory and wires the transport's nonce pool
// to it, satisfying spec §3's "one nonce pool and one rate limiter per
// endpoint" invariant: both live on the Transport this Endpoint owns.
func NewEndpoint(ctx context.Context, name, directoryURL string, t *Transport) (*Endpoint, error) {
	dir, err := FetchDirectory(ctx, t, directoryURL)
	if err != nil {
		return nil, err
	}
	t.SetNoncePool(NewNoncePool(dir.NewNonce, t.Head))
	return &Endpoint{Name: name, Directory: dir, Transport: t}, nil
}

// clockOrDefault avoids importing a nil clock.Clock into callers that don't
// need to fake time, mirroring the teacher's clock.Default() fallback.
func clockOrDefault(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.New()
	}
	return c
}

var errNilEndpoint = acmeerrors.New(acmeerrors.ProtocolError, "nil endpoint")
