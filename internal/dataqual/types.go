// Package dataqual defines core types shared across subsystems.
package dataqual

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatasetStatus represents the processing state of an uploaded dataset.
type DatasetStatus string

// Dataset status values. The server only reports uploaded, analyzed,
// cleaned, and failed; analyzing and cleaning are client-local overlays
// that exist while a job is in flight.
const (
	DatasetUploaded  DatasetStatus = "uploaded"
	DatasetAnalyzing DatasetStatus = "analyzing"
	DatasetAnalyzed  DatasetStatus = "analyzed"
	DatasetCleaning  DatasetStatus = "cleaning"
	DatasetCleaned   DatasetStatus = "cleaned"
	DatasetFailed    DatasetStatus = "failed"
)

// Local reports whether the status is a client-side overlay that the
// server never persists.
func (s DatasetStatus) Local() bool {
	return s == DatasetAnalyzing || s == DatasetCleaning
}

// Shape is the (rows, columns) dimensions of a tabular dataset. The
// backend serializes it as a two-element array.
type Shape struct {
	Rows    int
	Columns int
}

// MarshalJSON encodes the shape as [rows, columns].
func (s Shape) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal([2]int{s.Rows, s.Columns})
	if err != nil {
		return nil, fmt.Errorf("marshal shape: %w", err)
	}
	return b, nil
}

// UnmarshalJSON decodes a [rows, columns] array, tolerating null.
func (s *Shape) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Shape{}
		return nil
	}
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("unmarshal shape: %w", err)
	}
	if pair[0] < 0 || pair[1] < 0 {
		return fmt.Errorf("shape dimensions must be non-negative, got %v", pair)
	}
	s.Rows = pair[0]
	s.Columns = pair[1]
	return nil
}

// Dataset is the client-side copy of a server-owned dataset record.
type Dataset struct {
	ID           int64             `json:"id"`
	Filename     string            `json:"filename"`
	FileType     string            `json:"file_type"`
	Shape        Shape             `json:"shape"`
	Columns      []string          `json:"columns,omitempty"`
	Dtypes       map[string]string `json:"dtypes,omitempty"`
	QualityScore *float64          `json:"quality_score,omitempty"`
	Status       DatasetStatus     `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    *time.Time        `json:"updated_at,omitempty"`
}

// JobType identifies which pipeline a job runs.
type JobType string

// Supported job types.
const (
	JobTypeAnalysis JobType = "analysis"
	JobTypeCleaning JobType = "cleaning"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

// Job status values reported by the backend.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further progress can occur for the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the job reached completed.
func (s JobStatus) Succeeded() bool {
	return s == JobStatusCompleted
}

// Job is the client-side read-only copy of a server-owned processing job.
// Progress is only meaningful while the job is running; terminal statuses
// freeze it.
type Job struct {
	ID           int64      `json:"id"`
	DatasetID    int64      `json:"dataset_id"`
	Type         JobType    `json:"job_type"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// MissingData summarizes missing values found during analysis.
type MissingData struct {
	TotalMissing int            `json:"total_missing"`
	PerColumn    map[string]int `json:"per_column,omitempty"`
}

// CombinedOutliers is the cross-method outlier total.
type CombinedOutliers struct {
	TotalOutliers int `json:"total_outliers"`
}

// Outliers summarizes outliers by detection method plus a combined total.
type Outliers struct {
	ByMethod map[string]int   `json:"by_method,omitempty"`
	Combined CombinedOutliers `json:"combined"`
}

// Duplicates summarizes duplicate rows found during analysis.
type Duplicates struct {
	ExactDuplicates int `json:"exact_duplicates"`
}

// AnalysisResult is the immutable output of one analysis run.
type AnalysisResult struct {
	DatasetID       int64       `json:"dataset_id"`
	QualityScore    float64     `json:"quality_score"`
	Recommendations []string    `json:"recommendations,omitempty"`
	MissingData     MissingData `json:"missing_data"`
	Outliers        Outliers    `json:"outliers"`
	Duplicates      Duplicates  `json:"duplicates"`
}

// CleaningResult is the immutable output of one cleaning run.
type CleaningResult struct {
	DatasetID     int64    `json:"dataset_id"`
	CleaningSteps []string `json:"cleaning_steps"`
	OriginalShape Shape    `json:"original_shape"`
	FinalShape    Shape    `json:"final_shape"`
	RowsRemoved   int      `json:"rows_removed"`
}

// PendingResult is returned by the result endpoints while the owning job
// has not reached a terminal state.
type PendingResult struct {
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
