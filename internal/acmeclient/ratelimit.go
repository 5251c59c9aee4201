package acmeclient

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// RateLimit configures the per-endpoint token bucket, spec §3's Endpoint
// "HTTPS rate-limit policy (token bucket with window and max-burst)".
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Limiter wraps golang.org/x/time/rate the way the teacher's
// email/exporter.go wires a worker-count limiter, giving spec §4.2's
// "await_permit()" blocking semantics per endpoint.
type Limiter struct {
	l     *rate.Limiter
	name  string
	waits *prometheus.CounterVec
}

// SetMetrics attaches the endpoint name and the shared RateLimiterWaits
// collector, so Wait can record every request that actually blocked on the
// bucket rather than leaving the metric permanently at zero.
func (l *Limiter) SetMetrics(endpointName string, waits *prometheus.CounterVec) {
	l.name = endpointName
	l.waits = waits
}

// NewLimiter builds a Limiter refilling at Requests-per-Window with the
// given burst (defaulting to Requests if unset).
func NewLimiter(cfg RateLimit) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Requests
	}
	if burst <= 0 {
		burst = 1
	}
	var freq rate.Limit
	if cfg.Requests <= 0 || cfg.Window <= 0 {
		freq = rate.Inf
	} else {
		freq = rate.Every(cfg.Window / time.Duration(cfg.Requests))
	}
	return &Limiter{l: rate.NewLimiter(freq, burst)}
}

// Wait blocks until a token is available, per spec §4.2's "the transport
// awaits until a token is available before each request." A reservation
// that requires an actual delay counts against RateLimiterWaits; a request
// that finds a token already available does not.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.l.Reserve()
	if !r.OK() {
		return acmeerrors.New(acmeerrors.TransportError, "rate limiter cannot ever grant a reservation for this request")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	if l.waits != nil {
		l.waits.WithLabelValues(l.name).Inc()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
