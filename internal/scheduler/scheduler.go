package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmemetrics"
)

// ShutdownGrace is spec §5's default shutdown grace window.
const ShutdownGrace = 30 * time.Second

// Scheduler owns the process-wide worker set: one goroutine per configured
// certificate, spec §5's "each configured certificate is an independent
// task." It is the "root context passed by reference to workers" spec §9
// describes for the process-singleton nonce pools/rate limiters/account
// registry.
type Scheduler struct {
	Mutexes *AccountMutexes
	Clock   clock.Clock
	Metrics *acmemetrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
	grace  time.Duration
}

// New constructs a Scheduler with its own account-mutex registry.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		Mutexes: NewAccountMutexes(),
		Clock:   clk,
		ctx:     ctx,
		cancel:  cancel,
		grace:   ShutdownGrace,
	}
}

// SetMetrics wires the shared metrics instance into every worker this
// scheduler spawns from this point on.
func (s *Scheduler) SetMetrics(m *acmemetrics.Metrics) { s.Metrics = m }

// Spawn starts one worker goroutine for spec, per spec §5's one-task-per-
// certificate model.
func (s *Scheduler) Spawn(spec *CertificateSpec) {
	w := NewWorker(spec, s.Mutexes, s.Clock)
	w.Metrics = s.Metrics
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.Run(s.ctx)
	}()
}

// Shutdown signals every worker to stop at its next suspension point and
// waits up to the shutdown grace window (spec §5), returning false if the
// grace period elapsed with workers still outstanding.
func (s *Scheduler) Shutdown() bool {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(s.grace):
		return false
	}
}
