// Package upload implements the client-side upload pipeline: validation,
// multipart submission, and cache seeding on success.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/metrics"
)

// State is the pipeline's transient submission state. Success and error
// return to idle via Reset; submitting the next file from either settled
// state is the "upload another" action and passes through idle implicitly,
// discarding the previous outcome.
type State string

// Pipeline states.
const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateSuccess   State = "success"
	StateError     State = "error"
)

// MaxFileBytes is the default upload size cap (100 MiB).
const MaxFileBytes = 100 * 1024 * 1024

var allowedExtensions = map[string]struct{}{
	".csv":     {},
	".xlsx":    {},
	".xls":     {},
	".parquet": {},
}

// Uploader submits a validated file to the backend.
type Uploader interface {
	Upload(ctx context.Context, filename string, file io.Reader) (dataqual.Dataset, error)
}

// Seeder receives the created dataset so it appears in the cache without
// another round trip.
type Seeder interface {
	SeedDataset(ds dataqual.Dataset)
}

// Pipeline accepts exactly one file per submission and tracks its own
// state across the attempt.
type Pipeline struct {
	backend  Uploader
	seeder   Seeder
	maxBytes int64
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	seq     uint64
	lastErr error
	dataset *dataqual.Dataset
}

// New constructs a Pipeline. maxBytes <= 0 applies the default cap.
func New(backend Uploader, seeder Seeder, maxBytes int64, logger *zap.Logger) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		backend:  backend,
		seeder:   seeder,
		maxBytes: maxBytes,
		logger:   logger,
		state:    StateIdle,
	}
}

// Validate rejects files with an unsupported extension or an excessive
// size before any network call is made.
func (p *Pipeline) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return &dataqual.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file type %q not supported; allowed: csv, xlsx, xls, parquet", ext),
		}
	}
	if size > p.maxBytes {
		return &dataqual.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file too large (%d bytes); max %d bytes", size, p.maxBytes),
		}
	}
	return nil
}

// Submit validates and uploads one file. On success the created dataset is
// seeded into the cache and the pipeline lands in StateSuccess; on failure
// the server's error message is preserved verbatim in StateError. Submitting
// from StateSuccess or StateError implicitly resets first; only an upload
// already in flight is rejected. A submission superseded by Reset discards
// its late response.
func (p *Pipeline) Submit(ctx context.Context, filename string, size int64, file io.Reader) (dataqual.Dataset, error) {
	if err := p.Validate(filename, size); err != nil {
		metrics.ObserveUpload("rejected")
		return dataqual.Dataset{}, err
	}

	p.mu.Lock()
	if p.state == StateUploading {
		p.mu.Unlock()
		return dataqual.Dataset{}, &dataqual.ValidationError{Message: "an upload is already in progress"}
	}
	p.state = StateUploading
	p.lastErr = nil
	p.dataset = nil
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	ds, err := p.backend.Upload(ctx, filename, file)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq != seq {
		// Superseded by Reset while in flight; drop the outcome.
		p.logger.Debug("discarding stale upload response", zap.String("filename", filename))
		return dataqual.Dataset{}, dataqual.ErrStaleResponse
	}
	if err != nil {
		p.state = StateError
		p.lastErr = err
		metrics.ObserveUpload("error")
		p.logger.Warn("upload failed", zap.String("filename", filename), zap.Error(err))
		return dataqual.Dataset{}, err
	}
	p.state = StateSuccess
	p.dataset = &ds
	metrics.ObserveUpload("success")
	p.logger.Info("upload succeeded",
		zap.String("filename", filename),
		zap.Int64("dataset_id", ds.ID),
		zap.Int("rows", ds.Shape.Rows),
		zap.Int("columns", ds.Shape.Columns),
	)
	if p.seeder != nil {
		p.seeder.SeedDataset(ds)
	}
	return ds, nil
}

// Reset returns the pipeline to idle so another file can be submitted.
// Resetting while an upload is in flight abandons it.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
	p.lastErr = nil
	p.dataset = nil
	p.seq++
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error from the last failed submission.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Dataset returns the dataset created by the last successful submission.
func (p *Pipeline) Dataset() (dataqual.Dataset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataset == nil {
		return dataqual.Dataset{}, false
	}
	return *p.dataset, true
}
