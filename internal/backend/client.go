package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

// datasetPayload mirrors the wire shape of a dataset row.
type datasetPayload struct {
	ID           int64             `json:"id"`
	Filename     string            `json:"filename"`
	FileType     string            `json:"file_type"`
	Shape        dataqual.Shape    `json:"shape"`
	Columns      []string          `json:"columns"`
	Dtypes       map[string]string `json:"dtypes"`
	QualityScore *float64          `json:"quality_score"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    *time.Time        `json:"updated_at"`
}

type jobPayload struct {
	ID           int64      `json:"id"`
	DatasetID    int64      `json:"dataset_id"`
	JobType      string     `json:"job_type"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// ListDatasets fetches every dataset known to the server.
func (c *Client) ListDatasets(ctx context.Context) ([]dataqual.Dataset, error) {
	var resp struct {
		Datasets []datasetPayload `json:"datasets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/datasets", nil, &resp); err != nil {
		return nil, err
	}
	datasets := make([]dataqual.Dataset, 0, len(resp.Datasets))
	for _, p := range resp.Datasets {
		ds, err := toDataset(p, "/datasets")
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

// GetDataset fetches one dataset by id.
func (c *Client) GetDataset(ctx context.Context, id int64) (dataqual.Dataset, error) {
	path := fmt.Sprintf("/datasets/%d", id)
	var p datasetPayload
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &p); err != nil {
		return dataqual.Dataset{}, err
	}
	return toDataset(p, path)
}

// Upload submits a file as a multipart request and returns the created
// dataset as the server reported it.
func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) (dataqual.Dataset, error) {
	var resp struct {
		Message   string         `json:"message"`
		DatasetID int64          `json:"dataset_id"`
		Filename  string         `json:"filename"`
		Shape     dataqual.Shape `json:"shape"`
		Columns   []string       `json:"columns"`
	}
	if err := c.doMultipart(ctx, "/datasets/upload", filename, file, &resp); err != nil {
		return dataqual.Dataset{}, err
	}
	if resp.DatasetID <= 0 {
		return dataqual.Dataset{}, &dataqual.TransportError{
			Method:  http.MethodPost,
			Path:    "/datasets/upload",
			Message: "upload response missing dataset id",
		}
	}
	return dataqual.Dataset{
		ID:        resp.DatasetID,
		Filename:  resp.Filename,
		FileType:  strings.TrimPrefix(filepath.Ext(resp.Filename), "."),
		Shape:     resp.Shape,
		Columns:   resp.Columns,
		Status:    dataqual.DatasetUploaded,
		CreatedAt: c.now(),
	}, nil
}

// DeleteDataset removes a dataset and its jobs.
func (c *Client) DeleteDataset(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/datasets/%d", id), nil, nil)
}

// DeleteAllDatasets removes every dataset.
func (c *Client) DeleteAllDatasets(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/datasets", nil, nil)
}

// DownloadCleaned streams the cleaned (or original, when no cleaning ran)
// file for a dataset into w.
func (c *Client) DownloadCleaned(ctx context.Context, id int64, w io.Writer) error {
	return c.doDownload(ctx, fmt.Sprintf("/datasets/%d/download", id), w)
}

// StartAnalysis submits an analysis job for the dataset.
func (c *Client) StartAnalysis(ctx context.Context, datasetID int64) (dataqual.Job, error) {
	return c.startJob(ctx, fmt.Sprintf("/analysis/%d/analyze", datasetID), datasetID, dataqual.JobTypeAnalysis)
}

// StartCleaning submits a cleaning job for the dataset.
func (c *Client) StartCleaning(ctx context.Context, datasetID int64) (dataqual.Job, error) {
	return c.startJob(ctx, fmt.Sprintf("/cleaning/%d/clean", datasetID), datasetID, dataqual.JobTypeCleaning)
}

func (c *Client) startJob(ctx context.Context, path string, datasetID int64, jobType dataqual.JobType) (dataqual.Job, error) {
	var resp struct {
		Message string `json:"message"`
		JobID   int64  `json:"job_id"`
		Status  string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return dataqual.Job{}, err
	}
	if resp.JobID <= 0 {
		return dataqual.Job{}, &dataqual.TransportError{
			Method:  http.MethodPost,
			Path:    path,
			Message: "job submission response missing job id",
		}
	}
	return dataqual.Job{
		ID:        resp.JobID,
		DatasetID: datasetID,
		Type:      jobType,
		Status:    normalizeJobStatus(resp.Status),
		CreatedAt: c.now(),
	}, nil
}

// resultEnvelope is the shared wire shape of the result endpoints: either a
// terminal payload under "results" or a pending {status, progress} pair.
type resultEnvelope struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`
}

// GetAnalysisResult fetches the analysis result for a dataset. Exactly one
// of the returns is populated: the result once the job completed, or the
// pending status while it is still queued/running.
func (c *Client) GetAnalysisResult(ctx context.Context, datasetID int64) (*dataqual.AnalysisResult, *dataqual.PendingResult, error) {
	path := fmt.Sprintf("/analysis/%d/analysis", datasetID)
	var resp struct {
		resultEnvelope
		Results *struct {
			QualityScore    float64              `json:"quality_score"`
			Recommendations []string             `json:"recommendations"`
			MissingData     dataqual.MissingData `json:"missing_data"`
			Outliers        dataqual.Outliers    `json:"outliers"`
			Duplicates      dataqual.Duplicates  `json:"duplicates"`
		} `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	if pending := pendingFrom(resp.resultEnvelope); pending != nil {
		return nil, pending, nil
	}
	if resp.resultEnvelope.Status == "failed" {
		return nil, nil, &dataqual.TransportError{
			Method:  http.MethodGet,
			Path:    path,
			Message: failedMessage(resp.resultEnvelope.Error),
		}
	}
	if resp.Results == nil {
		return nil, nil, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "analysis response missing results"}
	}
	if resp.Results.QualityScore < 0 || resp.Results.QualityScore > 100 {
		return nil, nil, &dataqual.TransportError{
			Method:  http.MethodGet,
			Path:    path,
			Message: fmt.Sprintf("quality score %.2f out of range", resp.Results.QualityScore),
		}
	}
	return &dataqual.AnalysisResult{
		DatasetID:       datasetID,
		QualityScore:    resp.Results.QualityScore,
		Recommendations: resp.Results.Recommendations,
		MissingData:     resp.Results.MissingData,
		Outliers:        resp.Results.Outliers,
		Duplicates:      resp.Results.Duplicates,
	}, nil, nil
}

// GetCleaningResult fetches the cleaning result for a dataset, with the
// same result-or-pending contract as GetAnalysisResult.
func (c *Client) GetCleaningResult(ctx context.Context, datasetID int64) (*dataqual.CleaningResult, *dataqual.PendingResult, error) {
	path := fmt.Sprintf("/cleaning/%d/cleaning", datasetID)
	var resp struct {
		resultEnvelope
		Results *struct {
			CleaningSteps []string       `json:"cleaning_steps"`
			OriginalShape dataqual.Shape `json:"original_shape"`
			FinalShape    dataqual.Shape `json:"final_shape"`
			RowsRemoved   int            `json:"rows_removed"`
		} `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	if pending := pendingFrom(resp.resultEnvelope); pending != nil {
		return nil, pending, nil
	}
	if resp.resultEnvelope.Status == "failed" {
		return nil, nil, &dataqual.TransportError{
			Method:  http.MethodGet,
			Path:    path,
			Message: failedMessage(resp.resultEnvelope.Error),
		}
	}
	if resp.Results == nil {
		return nil, nil, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "cleaning response missing results"}
	}
	return &dataqual.CleaningResult{
		DatasetID:     datasetID,
		CleaningSteps: resp.Results.CleaningSteps,
		OriginalShape: resp.Results.OriginalShape,
		FinalShape:    resp.Results.FinalShape,
		RowsRemoved:   resp.Results.RowsRemoved,
	}, nil, nil
}

// ListJobs fetches every processing job.
func (c *Client) ListJobs(ctx context.Context) ([]dataqual.Job, error) {
	var resp struct {
		Jobs []jobPayload `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}
	jobs := make([]dataqual.Job, 0, len(resp.Jobs))
	for _, p := range resp.Jobs {
		job, err := toJob(p, "/jobs")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id int64) (dataqual.Job, error) {
	path := fmt.Sprintf("/jobs/%d", id)
	var p jobPayload
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &p); err != nil {
		return dataqual.Job{}, err
	}
	return toJob(p, path)
}

// ListDatasetJobs fetches the job history for one dataset.
func (c *Client) ListDatasetJobs(ctx context.Context, datasetID int64) ([]dataqual.Job, error) {
	path := fmt.Sprintf("/jobs/dataset/%d", datasetID)
	var resp struct {
		DatasetID int64        `json:"dataset_id"`
		Jobs      []jobPayload `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	jobs := make([]dataqual.Job, 0, len(resp.Jobs))
	for _, p := range resp.Jobs {
		if p.DatasetID == 0 {
			p.DatasetID = datasetID
		}
		job, err := toJob(p, path)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CancelJob cancels a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/jobs/%d", id), nil, nil)
}

func toDataset(p datasetPayload, path string) (dataqual.Dataset, error) {
	if p.ID <= 0 {
		return dataqual.Dataset{}, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "dataset payload missing id"}
	}
	status, err := normalizeDatasetStatus(p.Status)
	if err != nil {
		return dataqual.Dataset{}, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: err.Error()}
	}
	return dataqual.Dataset{
		ID:           p.ID,
		Filename:     p.Filename,
		FileType:     strings.TrimPrefix(p.FileType, "."),
		Shape:        p.Shape,
		Columns:      p.Columns,
		Dtypes:       p.Dtypes,
		QualityScore: p.QualityScore,
		Status:       status,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func toJob(p jobPayload, path string) (dataqual.Job, error) {
	if p.ID <= 0 || p.DatasetID <= 0 {
		return dataqual.Job{}, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "job payload missing identifiers"}
	}
	jobType, err := normalizeJobType(p.JobType)
	if err != nil {
		return dataqual.Job{}, &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: err.Error()}
	}
	progress := p.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return dataqual.Job{
		ID:           p.ID,
		DatasetID:    p.DatasetID,
		Type:         jobType,
		Status:       normalizeJobStatus(p.Status),
		Progress:     progress,
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    p.CreatedAt,
		StartedAt:    p.StartedAt,
		CompletedAt:  p.CompletedAt,
	}, nil
}

// normalizeJobStatus maps the backend's "pending" onto queued; everything
// else passes through.
func normalizeJobStatus(raw string) dataqual.JobStatus {
	switch raw {
	case "pending", "queued", "":
		return dataqual.JobStatusQueued
	case "running":
		return dataqual.JobStatusRunning
	case "completed":
		return dataqual.JobStatusCompleted
	case "failed":
		return dataqual.JobStatusFailed
	case "cancelled", "canceled":
		return dataqual.JobStatusCancelled
	default:
		return dataqual.JobStatus(raw)
	}
}

// normalizeJobType maps the backend's "analyze"/"clean" verbs onto the job
// type names used across the client.
func normalizeJobType(raw string) (dataqual.JobType, error) {
	switch raw {
	case "analyze", "analysis":
		return dataqual.JobTypeAnalysis, nil
	case "clean", "cleaning":
		return dataqual.JobTypeCleaning, nil
	default:
		return "", fmt.Errorf("unknown job type %q", raw)
	}
}

func normalizeDatasetStatus(raw string) (dataqual.DatasetStatus, error) {
	switch raw {
	case "uploaded":
		return dataqual.DatasetUploaded, nil
	case "analyzed":
		return dataqual.DatasetAnalyzed, nil
	case "cleaned":
		return dataqual.DatasetCleaned, nil
	case "failed":
		return dataqual.DatasetFailed, nil
	default:
		return "", fmt.Errorf("unknown dataset status %q", raw)
	}
}

func pendingFrom(env resultEnvelope) *dataqual.PendingResult {
	switch env.Status {
	case "pending", "queued", "running":
		return &dataqual.PendingResult{Status: normalizeJobStatus(env.Status), Progress: env.Progress}
	default:
		return nil
	}
}

func failedMessage(serverErr string) string {
	if serverErr == "" {
		return "job failed"
	}
	return serverErr
}
