// Package orchestrator wires the backend client, cache, lifecycle store,
// job poller, and upload pipeline into the dataset lifecycle driver the
// presentation layer consumes.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/cache"
	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/lifecycle"
	"github.com/JakeFAU/dataqual/internal/poller"
	"github.com/JakeFAU/dataqual/internal/stats"
	"github.com/JakeFAU/dataqual/internal/upload"
)

// Backend is the remote-service surface the orchestrator drives.
type Backend interface {
	ListDatasets(ctx context.Context) ([]dataqual.Dataset, error)
	GetDataset(ctx context.Context, id int64) (dataqual.Dataset, error)
	Upload(ctx context.Context, filename string, file io.Reader) (dataqual.Dataset, error)
	DeleteDataset(ctx context.Context, id int64) error
	DeleteAllDatasets(ctx context.Context) error
	DownloadCleaned(ctx context.Context, id int64, w io.Writer) error
	StartAnalysis(ctx context.Context, datasetID int64) (dataqual.Job, error)
	StartCleaning(ctx context.Context, datasetID int64) (dataqual.Job, error)
	GetAnalysisResult(ctx context.Context, datasetID int64) (*dataqual.AnalysisResult, *dataqual.PendingResult, error)
	GetCleaningResult(ctx context.Context, datasetID int64) (*dataqual.CleaningResult, *dataqual.PendingResult, error)
	ListJobs(ctx context.Context) ([]dataqual.Job, error)
	GetJob(ctx context.Context, id int64) (dataqual.Job, error)
	ListDatasetJobs(ctx context.Context, datasetID int64) ([]dataqual.Job, error)
	CancelJob(ctx context.Context, id int64) error
}

// Config controls orchestrator behavior.
type Config struct {
	PollInterval    time.Duration
	PollMaxFailures int
	MaxUploadBytes  int64
}

// Orchestrator owns the client-side dataset lifecycle: cached server
// state, in-flight job watches, and upload submission.
type Orchestrator struct {
	backend   Backend
	cache     *cache.Store
	lifecycle *lifecycle.Store
	watcher   *poller.Watcher
	uploads   *upload.Pipeline
	clock     dataqual.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	watches map[int64]*poller.Watch
	owners  map[int64]int64 // job id -> dataset id
	wg      sync.WaitGroup
}

// New constructs an Orchestrator with a fresh cache and lifecycle store.
func New(backend Backend, clock dataqual.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		backend:   backend,
		cache:     cache.New(clock, logger.Named("cache")),
		lifecycle: lifecycle.New(logger.Named("lifecycle")),
		clock:     clock,
		logger:    logger,
		watches:   make(map[int64]*poller.Watch),
		owners:    make(map[int64]int64),
	}
	o.watcher = poller.NewWatcher(backend, o, clock, poller.Config{
		Interval:    cfg.PollInterval,
		MaxFailures: cfg.PollMaxFailures,
	}, logger.Named("poller"))
	o.uploads = upload.New(backend, o, cfg.MaxUploadBytes, logger.Named("upload"))
	return o
}

// Cache exposes the cache store for read-only inspection.
func (o *Orchestrator) Cache() *cache.Store {
	return o.cache
}

// Uploads exposes the upload pipeline state machine.
func (o *Orchestrator) Uploads() *upload.Pipeline {
	return o.uploads
}

// Datasets returns the cached dataset list with client-local lifecycle
// statuses overlaid.
func (o *Orchestrator) Datasets(ctx context.Context) ([]dataqual.Dataset, error) {
	value, err := o.cache.Query(ctx, cache.DatasetsKey(), func(ctx context.Context) (any, error) {
		return o.backend.ListDatasets(ctx)
	})
	if err != nil {
		return nil, err
	}
	listed, _ := value.([]dataqual.Dataset)
	out := make([]dataqual.Dataset, len(listed))
	copy(out, listed)
	for i := range out {
		out[i].Status = o.lifecycle.Overlay(out[i].ID, out[i].Status)
	}
	return out, nil
}

// Dataset returns one cached dataset with the lifecycle overlay applied.
func (o *Orchestrator) Dataset(ctx context.Context, id int64) (dataqual.Dataset, error) {
	value, err := o.cache.Query(ctx, cache.DatasetKey(id), func(ctx context.Context) (any, error) {
		return o.backend.GetDataset(ctx, id)
	})
	if err != nil {
		return dataqual.Dataset{}, err
	}
	ds, ok := value.(dataqual.Dataset)
	if !ok {
		return dataqual.Dataset{}, fmt.Errorf("unexpected cache payload for dataset %d", id)
	}
	ds.Status = o.lifecycle.Overlay(ds.ID, ds.Status)
	return ds, nil
}

// Upload validates and submits one file, seeding the cache on success.
func (o *Orchestrator) Upload(ctx context.Context, filename string, size int64, file io.Reader) (dataqual.Dataset, error) {
	return o.uploads.Submit(ctx, filename, size, file)
}

// SeedDataset implements upload.Seeder: the freshly created dataset is
// written into the cache as if just fetched, and prepended to the cached
// list so the dashboard count rises without a refetch.
func (o *Orchestrator) SeedDataset(ds dataqual.Dataset) {
	o.lifecycle.Seed(ds.ID, ds.Status)
	o.cache.Seed(cache.DatasetKey(ds.ID), ds)
	if entry, ok := o.cache.Peek(cache.DatasetsKey()); ok {
		if listed, ok := entry.Data.([]dataqual.Dataset); ok {
			updated := make([]dataqual.Dataset, 0, len(listed)+1)
			updated = append(updated, ds)
			updated = append(updated, listed...)
			o.cache.Seed(cache.DatasetsKey(), updated)
			return
		}
	}
	o.cache.Seed(cache.DatasetsKey(), []dataqual.Dataset{ds})
}

// Analyze submits an analysis job for the dataset and starts watching it.
func (o *Orchestrator) Analyze(ctx context.Context, datasetID int64) (dataqual.Job, error) {
	return o.submitJob(ctx, datasetID, dataqual.JobTypeAnalysis)
}

// Clean submits a cleaning job for the dataset and starts watching it.
func (o *Orchestrator) Clean(ctx context.Context, datasetID int64) (dataqual.Job, error) {
	return o.submitJob(ctx, datasetID, dataqual.JobTypeCleaning)
}

func (o *Orchestrator) submitJob(ctx context.Context, datasetID int64, jobType dataqual.JobType) (dataqual.Job, error) {
	if _, ok := o.lifecycle.Status(datasetID); !ok {
		ds, err := o.Dataset(ctx, datasetID)
		if err != nil {
			return dataqual.Job{}, err
		}
		o.lifecycle.Seed(ds.ID, ds.Status)
	}
	if err := o.lifecycle.Begin(datasetID, jobType); err != nil {
		return dataqual.Job{}, err
	}

	var job dataqual.Job
	var err error
	if jobType == dataqual.JobTypeAnalysis {
		job, err = o.backend.StartAnalysis(ctx, datasetID)
	} else {
		job, err = o.backend.StartCleaning(ctx, datasetID)
	}
	if err != nil {
		o.lifecycle.Abort(datasetID, jobType)
		return dataqual.Job{}, err
	}
	if job.DatasetID == 0 {
		job.DatasetID = datasetID
	}
	if job.Type == "" {
		job.Type = jobType
	}
	o.cache.Invalidate(cache.JobsKey())
	o.cache.Invalidate(cache.DatasetJobsKey(datasetID))
	o.startWatch(job)
	return job, nil
}

// startWatch begins polling a job. Watches are singletons per job id:
// starting a new one while another is active cancels and replaces it.
func (o *Orchestrator) startWatch(job dataqual.Job) {
	o.mu.Lock()
	if existing, ok := o.watches[job.ID]; ok {
		existing.Cancel()
		<-existing.Done()
	}
	w := o.watcher.Watch(context.Background(), job.ID)
	o.watches[job.ID] = w
	o.owners[job.ID] = job.DatasetID
	o.wg.Add(1)
	o.mu.Unlock()

	go o.consumeWatch(w, job)
}

func (o *Orchestrator) consumeWatch(w *poller.Watch, submitted dataqual.Job) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if o.watches[w.JobID] == w {
			delete(o.watches, w.JobID)
			delete(o.owners, w.JobID)
		}
		o.mu.Unlock()
	}()

	for range w.Observations() {
		// Observations are retained on the watch for the read API; the
		// loop just drains until the sequence ends.
	}

	final := submitted
	if last, ok := w.Last(); ok {
		final = last.Job
	}

	switch {
	case w.Err() != nil:
		// Repeated transport failures surface as a failed job.
		o.logger.Warn("job watch aborted", zap.Int64("job_id", w.JobID), zap.Error(w.Err()))
		o.finishJob(final, false)
	case final.Status == dataqual.JobStatusCancelled:
		o.lifecycle.Abort(final.DatasetID, final.Type)
	case final.Status.Terminal():
		o.finishJob(final, final.Status.Succeeded())
	default:
		// Cancelled locally before any terminal observation; the
		// lifecycle overlay is rolled back.
		o.lifecycle.Abort(final.DatasetID, final.Type)
	}
}

// finishJob resolves the lifecycle overlay and re-derives the dataset's
// authoritative status from the server after a terminal job outcome.
func (o *Orchestrator) finishJob(job dataqual.Job, succeeded bool) {
	if err := o.lifecycle.Complete(job.DatasetID, job.Type, succeeded); err != nil {
		o.logger.Debug("lifecycle completion skipped",
			zap.Int64("dataset_id", job.DatasetID),
			zap.Error(err),
		)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	value, err := o.cache.Query(ctx, cache.DatasetKey(job.DatasetID), func(ctx context.Context) (any, error) {
		return o.backend.GetDataset(ctx, job.DatasetID)
	})
	if err != nil {
		o.logger.Warn("dataset refetch after job failed",
			zap.Int64("dataset_id", job.DatasetID),
			zap.Error(err),
		)
		return
	}
	if ds, ok := value.(dataqual.Dataset); ok {
		o.lifecycle.Resolve(ds.ID, ds.Status)
	}
}

// InvalidateJob implements poller.Invalidator: after a terminal job the
// job itself, the owning dataset, and the corresponding result entry are
// marked stale, exactly once.
func (o *Orchestrator) InvalidateJob(job dataqual.Job) {
	o.cache.Invalidate(cache.JobKey(job.ID))
	o.cache.Invalidate(cache.JobsKey())
	o.cache.Invalidate(cache.DatasetJobsKey(job.DatasetID))
	o.cache.Invalidate(cache.DatasetKey(job.DatasetID))
	o.cache.Invalidate(cache.DatasetsKey())
	if job.Type == dataqual.JobTypeAnalysis {
		o.cache.Invalidate(cache.AnalysisKey(job.DatasetID))
	} else {
		o.cache.Invalidate(cache.CleaningKey(job.DatasetID))
	}
}

// analysisEnvelope is the cached value for an analysis result lookup:
// either the immutable result or the in-progress placeholder.
type analysisEnvelope struct {
	Result  *dataqual.AnalysisResult
	Pending *dataqual.PendingResult
}

type cleaningEnvelope struct {
	Result  *dataqual.CleaningResult
	Pending *dataqual.PendingResult
}

// AnalysisResult returns the dataset's analysis result, or its pending
// progress while the job is still running.
func (o *Orchestrator) AnalysisResult(ctx context.Context, datasetID int64) (*dataqual.AnalysisResult, *dataqual.PendingResult, error) {
	value, err := o.cache.Query(ctx, cache.AnalysisKey(datasetID), func(ctx context.Context) (any, error) {
		res, pending, ferr := o.backend.GetAnalysisResult(ctx, datasetID)
		if ferr != nil {
			return nil, ferr
		}
		return analysisEnvelope{Result: res, Pending: pending}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	env, ok := value.(analysisEnvelope)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected cache payload for analysis %d", datasetID)
	}
	return env.Result, env.Pending, nil
}

// CleaningResult returns the dataset's cleaning result, or its pending
// progress while the job is still running.
func (o *Orchestrator) CleaningResult(ctx context.Context, datasetID int64) (*dataqual.CleaningResult, *dataqual.PendingResult, error) {
	value, err := o.cache.Query(ctx, cache.CleaningKey(datasetID), func(ctx context.Context) (any, error) {
		res, pending, ferr := o.backend.GetCleaningResult(ctx, datasetID)
		if ferr != nil {
			return nil, ferr
		}
		return cleaningEnvelope{Result: res, Pending: pending}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	env, ok := value.(cleaningEnvelope)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected cache payload for cleaning %d", datasetID)
	}
	return env.Result, env.Pending, nil
}

// Jobs returns the cached job list.
func (o *Orchestrator) Jobs(ctx context.Context) ([]dataqual.Job, error) {
	value, err := o.cache.Query(ctx, cache.JobsKey(), func(ctx context.Context) (any, error) {
		return o.backend.ListJobs(ctx)
	})
	if err != nil {
		return nil, err
	}
	jobs, _ := value.([]dataqual.Job)
	out := make([]dataqual.Job, len(jobs))
	copy(out, jobs)
	return out, nil
}

// DatasetJobs returns the cached job history for one dataset.
func (o *Orchestrator) DatasetJobs(ctx context.Context, datasetID int64) ([]dataqual.Job, error) {
	value, err := o.cache.Query(ctx, cache.DatasetJobsKey(datasetID), func(ctx context.Context) (any, error) {
		return o.backend.ListDatasetJobs(ctx, datasetID)
	})
	if err != nil {
		return nil, err
	}
	jobs, _ := value.([]dataqual.Job)
	out := make([]dataqual.Job, len(jobs))
	copy(out, jobs)
	return out, nil
}

// Job returns one cached job.
func (o *Orchestrator) Job(ctx context.Context, id int64) (dataqual.Job, error) {
	value, err := o.cache.Query(ctx, cache.JobKey(id), func(ctx context.Context) (any, error) {
		return o.backend.GetJob(ctx, id)
	})
	if err != nil {
		return dataqual.Job{}, err
	}
	job, ok := value.(dataqual.Job)
	if !ok {
		return dataqual.Job{}, fmt.Errorf("unexpected cache payload for job %d", id)
	}
	return job, nil
}

// CancelJob cancels the job on the server and stops any local watch.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID int64) error {
	if err := o.backend.CancelJob(ctx, jobID); err != nil {
		return err
	}
	o.mu.Lock()
	w, ok := o.watches[jobID]
	owner, owned := o.owners[jobID]
	o.mu.Unlock()
	if ok {
		w.Cancel()
	}
	o.cache.Invalidate(cache.JobKey(jobID))
	o.cache.Invalidate(cache.JobsKey())
	if owned {
		o.cache.Invalidate(cache.DatasetJobsKey(owner))
	}
	return nil
}

// Delete removes a dataset, its cached entries, and any watches on its
// jobs.
func (o *Orchestrator) Delete(ctx context.Context, datasetID int64) error {
	if err := o.backend.DeleteDataset(ctx, datasetID); err != nil {
		return err
	}
	o.cancelWatchesForDataset(datasetID)
	o.lifecycle.Delete(datasetID)
	o.cache.Remove(cache.DatasetKey(datasetID))
	o.cache.Remove(cache.DatasetJobsKey(datasetID))
	o.cache.Remove(cache.AnalysisKey(datasetID))
	o.cache.Remove(cache.CleaningKey(datasetID))
	o.cache.Invalidate(cache.DatasetsKey())
	o.cache.Invalidate(cache.JobsKey())
	return nil
}

// DeleteAll removes every dataset and clears all client-side state.
func (o *Orchestrator) DeleteAll(ctx context.Context) error {
	if err := o.backend.DeleteAllDatasets(ctx); err != nil {
		return err
	}
	o.CancelWatches()
	o.lifecycle.Clear()
	o.cache.Clear()
	return nil
}

// Download streams the cleaned (or original) file for a dataset into w.
func (o *Orchestrator) Download(ctx context.Context, datasetID int64, w io.Writer) error {
	return o.backend.DownloadCleaned(ctx, datasetID, w)
}

// DashboardView is the aggregate the dashboard renders.
type DashboardView struct {
	Summary       stats.Summary `json:"summary"`
	Badges        []stats.Badge `json:"badges,omitempty"`
	BadgeDataset  int64         `json:"badge_dataset_id,omitempty"`
	GeneratedAt   time.Time     `json:"generated_at"`
	ActiveWatches int           `json:"active_watches"`
}

// Dashboard aggregates the current datasets into dashboard statistics and
// derives issue badges for the latest actionable dataset.
func (o *Orchestrator) Dashboard(ctx context.Context) (DashboardView, error) {
	datasets, err := o.Datasets(ctx)
	if err != nil {
		return DashboardView{}, err
	}
	view := DashboardView{
		Summary:       stats.Aggregate(datasets),
		GeneratedAt:   o.now(),
		ActiveWatches: len(o.WatchInfos()),
	}
	if latest, ok := stats.LatestActionable(datasets); ok {
		res, _, rerr := o.AnalysisResult(ctx, latest.ID)
		if rerr != nil {
			// A stale or missing result only suppresses badges; the
			// summary stays visible.
			o.logger.Debug("badge derivation skipped",
				zap.Int64("dataset_id", latest.ID),
				zap.Error(rerr),
			)
		} else if res != nil {
			view.Badges = stats.Badges(res)
			view.BadgeDataset = latest.ID
		}
	}
	return view, nil
}

// WatchInfo describes one active job watch for the read API.
type WatchInfo struct {
	JobID    int64              `json:"job_id"`
	Status   dataqual.JobStatus `json:"status,omitempty"`
	Progress int                `json:"progress"`
	LastSeen *time.Time         `json:"last_seen,omitempty"`
}

// WatchInfos lists the currently active job watches.
func (o *Orchestrator) WatchInfos() []WatchInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	infos := make([]WatchInfo, 0, len(o.watches))
	for _, w := range o.watches {
		info := WatchInfo{JobID: w.JobID}
		if obs, ok := w.Last(); ok {
			info.Status = obs.Job.Status
			info.Progress = obs.Job.Progress
			at := obs.At
			info.LastSeen = &at
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].JobID < infos[j].JobID })
	return infos
}

// ResumeWatches restarts watches for jobs that were queued or running
// when the process last stopped.
func (o *Orchestrator) ResumeWatches(ctx context.Context) error {
	jobs, err := o.Jobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		o.mu.Lock()
		_, active := o.watches[job.ID]
		o.mu.Unlock()
		if active {
			continue
		}
		if _, ok := o.lifecycle.Status(job.DatasetID); !ok {
			if ds, derr := o.Dataset(ctx, job.DatasetID); derr == nil {
				o.lifecycle.Seed(ds.ID, ds.Status)
			}
		}
		if err := o.lifecycle.Begin(job.DatasetID, job.Type); err != nil {
			o.logger.Debug("resume overlay skipped",
				zap.Int64("dataset_id", job.DatasetID),
				zap.Error(err),
			)
		}
		o.startWatch(job)
	}
	return nil
}

func (o *Orchestrator) cancelWatchesForDataset(datasetID int64) {
	o.mu.Lock()
	var cancelled []*poller.Watch
	for jobID, owner := range o.owners {
		if owner != datasetID {
			continue
		}
		if w, ok := o.watches[jobID]; ok {
			w.Cancel()
			cancelled = append(cancelled, w)
		}
	}
	o.mu.Unlock()
	for _, w := range cancelled {
		<-w.Done()
	}
}

// CancelWatches cancels every active watch and waits for them to stop.
func (o *Orchestrator) CancelWatches() {
	o.mu.Lock()
	for _, w := range o.watches {
		w.Cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}
