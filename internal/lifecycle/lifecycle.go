// Package lifecycle tracks per-dataset processing status, overlaying the
// client-local analyzing/cleaning states onto the server-reported ones.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

// ErrUnknownDataset is returned for transitions on datasets never seeded.
var ErrUnknownDataset = errors.New("dataset not tracked")

// InvalidTransitionError rejects a status transition the machine does not
// define.
type InvalidTransitionError struct {
	DatasetID int64
	From      dataqual.DatasetStatus
	To        dataqual.DatasetStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("dataset %d: invalid transition %s -> %s", e.DatasetID, e.From, e.To)
}

// Store holds the lifecycle status of every tracked dataset. Statuses only
// advance (uploaded -> analyzing -> analyzed -> cleaning -> cleaned) or
// move to failed; the only way out of failed is delete and re-upload.
type Store struct {
	mu       sync.RWMutex
	statuses map[int64]dataqual.DatasetStatus
	logger   *zap.Logger
}

// New constructs a Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		statuses: make(map[int64]dataqual.DatasetStatus),
		logger:   logger,
	}
}

var transitions = map[dataqual.DatasetStatus][]dataqual.DatasetStatus{
	dataqual.DatasetUploaded:  {dataqual.DatasetAnalyzing},
	dataqual.DatasetAnalyzing: {dataqual.DatasetAnalyzed, dataqual.DatasetFailed},
	dataqual.DatasetAnalyzed:  {dataqual.DatasetCleaning},
	dataqual.DatasetCleaning:  {dataqual.DatasetCleaned, dataqual.DatasetFailed},
	dataqual.DatasetCleaned:   {},
	dataqual.DatasetFailed:    {},
}

// Seed registers a dataset with its server-reported status, replacing any
// previous record. Used after upload and after authoritative refetches.
func (s *Store) Seed(id int64, status dataqual.DatasetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// Status returns the tracked status for a dataset.
func (s *Store) Status(id int64) (dataqual.DatasetStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[id]
	return status, ok
}

// Begin moves a dataset into the client-local in-flight state for the job
// type: uploaded -> analyzing, analyzed -> cleaning.
func (s *Store) Begin(id int64, jobType dataqual.JobType) error {
	target := dataqual.DatasetAnalyzing
	if jobType == dataqual.JobTypeCleaning {
		target = dataqual.DatasetCleaning
	}
	return s.transition(id, target)
}

// Abort undoes Begin when job submission itself failed: no job exists, so
// the dataset returns to the state it was in before the attempt.
func (s *Store) Abort(id int64, jobType dataqual.JobType) {
	restored := dataqual.DatasetUploaded
	inFlight := dataqual.DatasetAnalyzing
	if jobType == dataqual.JobTypeCleaning {
		restored = dataqual.DatasetAnalyzed
		inFlight = dataqual.DatasetCleaning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[id] == inFlight {
		s.statuses[id] = restored
	}
}

// Complete resolves the in-flight state for a job type: analyzing ->
// analyzed or failed, cleaning -> cleaned or failed.
func (s *Store) Complete(id int64, jobType dataqual.JobType, succeeded bool) error {
	target := dataqual.DatasetFailed
	if succeeded {
		target = dataqual.DatasetAnalyzed
		if jobType == dataqual.JobTypeCleaning {
			target = dataqual.DatasetCleaned
		}
	}
	return s.transition(id, target)
}

// Resolve adopts a server-reported status after an authoritative refetch.
// The server owns the record, so no transition check applies; the overlay
// simply yields to it.
func (s *Store) Resolve(id int64, server dataqual.DatasetStatus) {
	if server.Local() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.statuses[id]
	if ok && prev != server {
		s.logger.Debug("lifecycle resolved from server",
			zap.Int64("dataset_id", id),
			zap.String("local", string(prev)),
			zap.String("server", string(server)),
		)
	}
	s.statuses[id] = server
}

// Overlay returns the status the presentation layer should show: the
// client-local in-flight state when one is active, otherwise the
// server-reported status.
func (s *Store) Overlay(id int64, server dataqual.DatasetStatus) dataqual.DatasetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	local, ok := s.statuses[id]
	if ok && local.Local() {
		return local
	}
	return server
}

// Delete stops tracking a dataset.
func (s *Store) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, id)
}

// Clear stops tracking everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[int64]dataqual.DatasetStatus)
}

func (s *Store) transition(id int64, target dataqual.DatasetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.statuses[id]
	if !ok {
		return ErrUnknownDataset
	}
	for _, allowed := range transitions[current] {
		if allowed == target {
			s.statuses[id] = target
			return nil
		}
	}
	return &InvalidTransitionError{DatasetID: id, From: current, To: target}
}
