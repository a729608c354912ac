package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// scriptedFetcher returns one scripted response per GetJob call and
// repeats the last one when the script runs out.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []scriptStep
	calls   int
	blockCh chan struct{}
}

type scriptStep struct {
	job dataqual.Job
	err error
}

func (f *scriptedFetcher) GetJob(ctx context.Context, id int64) (dataqual.Job, error) {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return dataqual.Job{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.script[len(f.script)-1]
	if f.calls < len(f.script) {
		step = f.script[f.calls]
	}
	f.calls++
	if step.err != nil {
		return dataqual.Job{}, step.err
	}
	job := step.job
	job.ID = id
	return job, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingInvalidator struct {
	calls atomic.Int64
	last  atomic.Value
}

func (i *countingInvalidator) InvalidateJob(job dataqual.Job) {
	i.calls.Add(1)
	i.last.Store(job)
}

func runningJob(progress int) dataqual.Job {
	return dataqual.Job{DatasetID: 1, Type: dataqual.JobTypeAnalysis, Status: dataqual.JobStatusRunning, Progress: progress}
}

func terminalJob(status dataqual.JobStatus) dataqual.Job {
	return dataqual.Job{DatasetID: 1, Type: dataqual.JobTypeAnalysis, Status: status, Progress: 100}
}

func newTestWatcher(f JobFetcher, inval Invalidator) *Watcher {
	return NewWatcher(f, inval, &fakeClock{now: time.Unix(500, 0)}, Config{
		Interval:    5 * time.Millisecond,
		MaxFailures: 3,
	}, zap.NewNop())
}

func TestWatch_StopsAfterTerminalStatus(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptStep{
		{job: runningJob(10)},
		{job: runningJob(40)},
		{job: runningJob(80)},
		{job: terminalJob(dataqual.JobStatusCompleted)},
	}}
	inval := &countingInvalidator{}
	w := newTestWatcher(fetcher, inval).Watch(context.Background(), 7)

	var observed []dataqual.JobStatus
	for obs := range w.Observations() {
		observed = append(observed, obs.Job.Status)
	}

	require.Equal(t, []dataqual.JobStatus{
		dataqual.JobStatusRunning,
		dataqual.JobStatusRunning,
		dataqual.JobStatusRunning,
		dataqual.JobStatusCompleted,
	}, observed)
	require.NoError(t, w.Err())

	// Terminal status stops polling entirely: exactly four fetches.
	require.Equal(t, 4, fetcher.callCount())

	// Exactly one invalidation, after the terminal observation.
	require.Equal(t, int64(1), inval.calls.Load())
	last, ok := inval.last.Load().(dataqual.Job)
	require.True(t, ok)
	require.Equal(t, int64(7), last.ID)
	require.Equal(t, dataqual.JobStatusCompleted, last.Status)
}

func TestWatch_FailureCapSurfacesPollingFailed(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	fetcher := &scriptedFetcher{script: []scriptStep{{err: boom}}}
	inval := &countingInvalidator{}
	w := newTestWatcher(fetcher, inval).Watch(context.Background(), 9)

	for range w.Observations() {
		t.Fatal("no observation expected when every poll fails")
	}

	var perr *dataqual.PollingFailedError
	require.ErrorAs(t, w.Err(), &perr)
	require.Equal(t, int64(9), perr.JobID)
	require.Equal(t, 3, perr.Failures)
	require.ErrorIs(t, perr, boom)
	require.Equal(t, 3, fetcher.callCount())
	require.Zero(t, inval.calls.Load())
}

func TestWatch_FailureCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	boom := errors.New("flaky")
	fetcher := &scriptedFetcher{script: []scriptStep{
		{err: boom},
		{err: boom},
		{job: runningJob(50)},
		{err: boom},
		{err: boom},
		{job: terminalJob(dataqual.JobStatusCompleted)},
	}}
	w := newTestWatcher(fetcher, &countingInvalidator{}).Watch(context.Background(), 3)

	var count int
	for range w.Observations() {
		count++
	}
	require.Equal(t, 2, count)
	require.NoError(t, w.Err())
}

func TestWatch_CancelStopsPollingAndDiscardsInFlight(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	fetcher := &scriptedFetcher{
		script:  []scriptStep{{job: runningJob(10)}},
		blockCh: block,
	}
	inval := &countingInvalidator{}
	w := newTestWatcher(fetcher, inval).Watch(context.Background(), 5)

	// First poll is in flight and blocked; cancel while it waits.
	w.Cancel()
	close(block)

	for range w.Observations() {
		t.Fatal("cancelled watch must not deliver observations")
	}
	<-w.Done()
	require.NoError(t, w.Err())
	require.Zero(t, inval.calls.Load())

	calls := fetcher.callCount()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, calls, fetcher.callCount(), "no further polls after cancel")
}

func TestWatch_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptStep{{job: terminalJob(dataqual.JobStatusCompleted)}}}
	w := newTestWatcher(fetcher, &countingInvalidator{}).Watch(context.Background(), 2)
	for range w.Observations() {
	}
	w.Cancel()
	w.Cancel()
	<-w.Done()
}

func TestWatch_FailedJobInvalidatesOnce(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptStep{
		{job: runningJob(30)},
		{job: terminalJob(dataqual.JobStatusFailed)},
	}}
	inval := &countingInvalidator{}
	w := newTestWatcher(fetcher, inval).Watch(context.Background(), 11)

	var last dataqual.Job
	for obs := range w.Observations() {
		last = obs.Job
	}
	require.Equal(t, dataqual.JobStatusFailed, last.Status)
	require.Equal(t, int64(1), inval.calls.Load())

	got, ok := w.Last()
	require.True(t, ok)
	require.Equal(t, dataqual.JobStatusFailed, got.Job.Status)
}
