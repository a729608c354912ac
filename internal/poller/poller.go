// Package poller watches in-flight jobs until they reach a terminal
// status, then invalidates the cache entries derived from them.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/metrics"
)

// JobFetcher fetches the current state of a job.
type JobFetcher interface {
	GetJob(ctx context.Context, id int64) (dataqual.Job, error)
}

// Invalidator marks cache entries stale after a terminal job outcome.
type Invalidator interface {
	InvalidateJob(job dataqual.Job)
}

// Config controls Watcher behavior.
type Config struct {
	Interval    time.Duration
	MaxFailures int
}

// Watcher constructs job watches. One Watcher is shared per process.
type Watcher struct {
	backend JobFetcher
	inval   Invalidator
	clock   dataqual.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewWatcher constructs a Watcher.
func NewWatcher(backend JobFetcher, inval Invalidator, clock dataqual.Clock, cfg Config, logger *zap.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		backend: backend,
		inval:   inval,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Observation is one polled view of a job.
type Observation struct {
	Job dataqual.Job
	At  time.Time
}

// Watch is a finite, cancellable sequence of job observations. The
// channel returned by Observations closes after the job reaches a
// terminal status, the failure cap is hit, or the watch is cancelled;
// Err is then safe to read.
type Watch struct {
	JobID int64

	obs    chan Observation
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	err  error
	last *Observation
}

// Observations returns the channel of polled job states.
func (w *Watch) Observations() <-chan Observation {
	return w.obs
}

// Err reports why the watch stopped: nil after a terminal status or
// cancellation, a PollingFailedError after repeated transport failures.
// Valid once Observations is closed.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Last returns the most recent observation, if any.
func (w *Watch) Last() (Observation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Observation{}, false
	}
	return *w.last, true
}

// Cancel stops the watch. It is idempotent; a poll already in flight has
// its response discarded rather than delivered.
func (w *Watch) Cancel() {
	w.cancel()
}

// Done closes when the polling goroutine has fully stopped.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

func (w *Watch) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *Watch) record(obs Observation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = &obs
}

// Watch starts polling the job. The first poll is immediate; subsequent
// polls run every configured interval until a terminal status, the
// consecutive-failure cap, or cancellation.
func (p *Watcher) Watch(ctx context.Context, jobID int64) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		JobID:  jobID,
		obs:    make(chan Observation),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.IncActiveWatches()
	go p.run(ctx, w)
	return w
}

func (p *Watcher) run(ctx context.Context, w *Watch) {
	defer func() {
		close(w.obs)
		close(w.done)
		metrics.DecActiveWatches()
	}()

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.ObserveWatchOutcome("cancelled")
			return
		case <-timer.C:
		}

		job, err := p.backend.GetJob(ctx, w.JobID)
		if ctx.Err() != nil {
			// Cancelled while the request was in flight; the response,
			// if any, is discarded.
			metrics.ObserveWatchOutcome("cancelled")
			return
		}
		if err != nil {
			failures++
			p.logger.Warn("job poll failed",
				zap.Int64("job_id", w.JobID),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= p.cfg.MaxFailures {
				w.setErr(&dataqual.PollingFailedError{JobID: w.JobID, Failures: failures, Last: err})
				metrics.ObserveWatchOutcome("polling_failed")
				return
			}
			timer.Reset(p.cfg.Interval)
			continue
		}
		failures = 0

		obs := Observation{Job: job, At: p.now()}
		w.record(obs)
		select {
		case w.obs <- obs:
		case <-ctx.Done():
			metrics.ObserveWatchOutcome("cancelled")
			return
		}

		if job.Status.Terminal() {
			// Exactly one invalidation of the job, its dataset, and the
			// corresponding result, then stop.
			if p.inval != nil {
				p.inval.InvalidateJob(job)
			}
			metrics.ObserveWatchOutcome(string(job.Status))
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

func (p *Watcher) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}
