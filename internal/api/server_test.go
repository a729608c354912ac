package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/config"
	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/orchestrator"
)

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time {
	return c.now
}

// stubBackend serves fixed data for handler tests.
type stubBackend struct {
	mu       sync.Mutex
	datasets map[int64]dataqual.Dataset
	jobs     map[int64]dataqual.Job
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		datasets: make(map[int64]dataqual.Dataset),
		jobs:     make(map[int64]dataqual.Job),
	}
}

func (b *stubBackend) ListDatasets(context.Context) ([]dataqual.Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]dataqual.Dataset, 0, len(b.datasets))
	for _, ds := range b.datasets {
		out = append(out, ds)
	}
	return out, nil
}

func (b *stubBackend) GetDataset(_ context.Context, id int64) (dataqual.Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds, ok := b.datasets[id]
	if !ok {
		return dataqual.Dataset{}, &dataqual.TransportError{
			Method:     http.MethodGet,
			Path:       "/datasets",
			StatusCode: http.StatusNotFound,
			Message:    "Dataset not found",
		}
	}
	return ds, nil
}

func (b *stubBackend) Upload(_ context.Context, filename string, _ io.Reader) (dataqual.Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ds := dataqual.Dataset{
		ID:       77,
		Filename: filename,
		FileType: "csv",
		Shape:    dataqual.Shape{Rows: 3, Columns: 2},
		Status:   dataqual.DatasetUploaded,
	}
	b.datasets[ds.ID] = ds
	return ds, nil
}

func (b *stubBackend) DeleteDataset(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.datasets, id)
	return nil
}

func (b *stubBackend) DeleteAllDatasets(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.datasets = make(map[int64]dataqual.Dataset)
	return nil
}

func (b *stubBackend) DownloadCleaned(_ context.Context, _ int64, w io.Writer) error {
	_, err := w.Write([]byte("a,b\n"))
	return err
}

func (b *stubBackend) StartAnalysis(_ context.Context, datasetID int64) (dataqual.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job := dataqual.Job{ID: 500, DatasetID: datasetID, Type: dataqual.JobTypeAnalysis, Status: dataqual.JobStatusQueued}
	b.jobs[job.ID] = job
	return job, nil
}

func (b *stubBackend) StartCleaning(_ context.Context, datasetID int64) (dataqual.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job := dataqual.Job{ID: 501, DatasetID: datasetID, Type: dataqual.JobTypeCleaning, Status: dataqual.JobStatusQueued}
	b.jobs[job.ID] = job
	return job, nil
}

func (b *stubBackend) GetAnalysisResult(context.Context, int64) (*dataqual.AnalysisResult, *dataqual.PendingResult, error) {
	return nil, &dataqual.PendingResult{Status: dataqual.JobStatusRunning, Progress: 40}, nil
}

func (b *stubBackend) GetCleaningResult(context.Context, int64) (*dataqual.CleaningResult, *dataqual.PendingResult, error) {
	return nil, &dataqual.PendingResult{Status: dataqual.JobStatusRunning, Progress: 10}, nil
}

func (b *stubBackend) ListJobs(context.Context) ([]dataqual.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]dataqual.Job, 0, len(b.jobs))
	for _, job := range b.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (b *stubBackend) GetJob(_ context.Context, id int64) (dataqual.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return dataqual.Job{}, &dataqual.TransportError{StatusCode: http.StatusNotFound, Message: "Job not found"}
	}
	return job, nil
}

func (b *stubBackend) ListDatasetJobs(_ context.Context, datasetID int64) ([]dataqual.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]dataqual.Job, 0, len(b.jobs))
	for _, job := range b.jobs {
		if job.DatasetID == datasetID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (b *stubBackend) CancelJob(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return &dataqual.TransportError{StatusCode: http.StatusNotFound, Message: "Job not found"}
	}
	job.Status = dataqual.JobStatusCancelled
	b.jobs[id] = job
	return nil
}

func newTestServer(t *testing.T, backend orchestrator.Backend, cfg config.Config) *Server {
	t.Helper()
	orch := orchestrator.New(backend, &stubClock{now: time.Unix(3000, 0)}, orchestrator.Config{
		PollInterval:    time.Hour, // keep background polls quiet in handler tests
		PollMaxFailures: 3,
	}, zap.NewNop())
	t.Cleanup(orch.CancelWatches)
	return NewServer(orch, cfg, zap.NewNop())
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ListDatasets(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.datasets[1] = dataqual.Dataset{ID: 1, Filename: "sales.csv", Status: dataqual.DatasetUploaded}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sales.csv")
}

func TestServer_GetDataset_InvalidID(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/abc/", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetDataset_NotFoundPropagatesStatus(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/99/", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Dataset not found")
}

func TestServer_UploadDataset(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":77`)
}

func TestServer_UploadDataset_BadExtension(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not supported")
}

func TestServer_AnalyzeDataset(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.datasets[1] = dataqual.Dataset{ID: 1, Filename: "sales.csv", Status: dataqual.DatasetUploaded}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/1/analyze", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":500`)
}

func TestServer_CleanBeforeAnalyzeConflicts(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.datasets[1] = dataqual.Dataset{ID: 1, Filename: "sales.csv", Status: dataqual.DatasetUploaded}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/1/clean", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid transition")
}

func TestServer_GetAnalysisPending(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.datasets[1] = dataqual.Dataset{ID: 1, Status: dataqual.DatasetUploaded}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/1/analysis", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"running"`)
	require.Contains(t, rec.Body.String(), `"progress":40`)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.jobs[500] = dataqual.Job{ID: 500, DatasetID: 1, Type: dataqual.JobTypeAnalysis, Status: dataqual.JobStatusRunning}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/500/cancel", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cancelled"`)
}

func TestServer_ListDatasetJobs(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.jobs[500] = dataqual.Job{ID: 500, DatasetID: 1, Type: dataqual.JobTypeAnalysis, Status: dataqual.JobStatusCompleted}
	backend.jobs[501] = dataqual.Job{ID: 501, DatasetID: 2, Type: dataqual.JobTypeCleaning, Status: dataqual.JobStatusRunning}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/1/jobs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":500`)
	require.NotContains(t, rec.Body.String(), `"id":501`)
}

func TestServer_Watches(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/watches", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"watches":[]`)
}

func TestServer_Dashboard(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	score := 90.0
	backend.datasets[1] = dataqual.Dataset{ID: 1, Status: dataqual.DatasetCleaned, QualityScore: &score}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":1`)
	require.Contains(t, rec.Body.String(), `"cleaned":1`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "letmein"
	server := newTestServer(t, newStubBackend(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "letmein")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_UploadStateEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newStubBackend(), config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/upload", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"idle"`)

	req = httptest.NewRequest(http.MethodPost, "/v1/upload/reset", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_DeleteDataset(t *testing.T) {
	t.Parallel()

	backend := newStubBackend()
	backend.datasets[1] = dataqual.Dataset{ID: 1, Status: dataqual.DatasetUploaded}
	server := newTestServer(t, backend, config.Config{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/datasets/1/", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":1`)
}
