// Package cache implements the keyed remote-data cache: each key maps to
// the last fetched payload plus error/loading metadata, with explicit
// invalidation and deduplicated refetching.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/metrics"
)

// Key identifies one cached query: a resource name plus its parameters.
type Key struct {
	Resource string
	Param    string
}

func (k Key) String() string {
	if k.Param == "" {
		return k.Resource
	}
	return k.Resource + ":" + k.Param
}

// Key constructors for the resources this client caches.
func DatasetsKey() Key             { return Key{Resource: "datasets"} }
func DatasetKey(id int64) Key      { return Key{Resource: "dataset", Param: fmt.Sprintf("%d", id)} }
func JobsKey() Key                 { return Key{Resource: "jobs"} }
func DatasetJobsKey(id int64) Key  { return Key{Resource: "dataset-jobs", Param: fmt.Sprintf("%d", id)} }
func JobKey(id int64) Key          { return Key{Resource: "job", Param: fmt.Sprintf("%d", id)} }
func AnalysisKey(id int64) Key     { return Key{Resource: "analysis", Param: fmt.Sprintf("%d", id)} }
func CleaningKey(id int64) Key     { return Key{Resource: "cleaning", Param: fmt.Sprintf("%d", id)} }

// Fetcher loads fresh data for a key.
type Fetcher func(ctx context.Context) (any, error)

// Entry is a read-only snapshot of one cache slot. Err is retained beside
// the last good Data; a failed refetch never clears previously cached data.
type Entry struct {
	Data          any
	Err           error
	Loading       bool
	LastFetchedAt time.Time
}

// Subscriber receives a snapshot after every settled write to a key.
type Subscriber func(Entry)

type slot struct {
	data      any
	err       error
	fetchedAt time.Time
	hasData   bool
	valid     bool
	loading   bool
	seq       uint64
	fetch     Fetcher
}

// Store is an explicit cache object with injected lifecycle; tests
// construct a fresh Store per case. Writes to a given key are serialized
// under the store mutex and carry a per-key sequence number: a write whose
// sequence was superseded by an invalidation is dropped, never written.
type Store struct {
	mu          sync.RWMutex
	slots       map[Key]*slot
	subscribers map[Key]map[uint64]Subscriber
	subSeq      uint64
	flight      singleflight.Group
	clock       dataqual.Clock
	logger      *zap.Logger
}

// New constructs a Store.
func New(clock dataqual.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		slots:       make(map[Key]*slot),
		subscribers: make(map[Key]map[uint64]Subscriber),
		clock:       clock,
		logger:      logger,
	}
}

// Query returns cached data for the key, fetching it when the slot is
// empty or invalidated. Concurrent callers for the same key share a single
// in-flight fetch. A failed fetch is retried once before the error is
// cached and surfaced; the previous data, if any, stays available.
func (s *Store) Query(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	sl.fetch = fetch
	if sl.valid {
		data, err := sl.data, sl.err
		s.mu.Unlock()
		metrics.ObserveCacheLookup("hit")
		return data, err
	}
	startSeq := sl.seq
	sl.loading = true
	s.mu.Unlock()
	metrics.ObserveCacheLookup("miss")

	// The flight is scoped to the sequence so a fetch started after an
	// invalidation never joins a superseded one.
	flightKey := fmt.Sprintf("%s#%d", key, startSeq)
	data, err, _ := s.flight.Do(flightKey, func() (any, error) {
		d, ferr := fetch(ctx)
		if ferr != nil {
			// One automatic retry before surfacing the error.
			d, ferr = fetch(ctx)
		}
		if werr := s.commit(key, startSeq, d, ferr); werr != nil {
			// Superseded while in flight: hand the data to this caller
			// without caching it.
			s.logger.Debug("dropping superseded cache write", zap.String("key", key.String()))
			metrics.ObserveCacheLookup("stale")
		}
		return d, ferr
	})
	return data, err
}

// commit writes a settled fetch into the slot unless the sequence number
// was superseded. Last successful write wins.
func (s *Store) commit(key Key, startSeq uint64, data any, err error) error {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		s.mu.Unlock()
		return dataqual.ErrStaleResponse
	}
	if sl.seq != startSeq {
		// Superseded while in flight. The slot may still be stale when an
		// invalidation raced this fetch, so kick off one more fetch under
		// the current sequence if anyone is listening.
		sl.loading = false
		fetch := sl.fetch
		refetch := !sl.valid && len(s.subscribers[key]) > 0 && fetch != nil
		s.mu.Unlock()
		if refetch {
			go s.backgroundRefetch(key, fetch)
		}
		return dataqual.ErrStaleResponse
	}
	sl.loading = false
	sl.valid = true
	sl.err = err
	sl.fetchedAt = s.now()
	if err == nil {
		sl.data = data
		sl.hasData = true
	}
	snapshot := s.snapshotLocked(sl)
	subs := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

// Seed injects data for a key as if it had just been fetched. Used by the
// upload pipeline so a fresh dataset appears without a round trip.
func (s *Store) Seed(key Key, data any) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	sl.seq++
	sl.data = data
	sl.hasData = true
	sl.err = nil
	sl.valid = true
	sl.loading = false
	sl.fetchedAt = s.now()
	snapshot := s.snapshotLocked(sl)
	subs := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Invalidate marks a key stale. The next access refetches; when the key
// has active subscribers the refetch starts immediately. Invalidating an
// already-stale key is a no-op beyond bumping the sequence, so two
// back-to-back invalidations cause exactly one refetch.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	sl.seq++
	sl.valid = false
	fetch := sl.fetch
	// When a fetch is already in flight its commit will be dropped as
	// superseded and will re-trigger under the new sequence; starting a
	// second fetch here would run two concurrently for the same key.
	hasSubs := !sl.loading && len(s.subscribers[key]) > 0
	s.mu.Unlock()
	metrics.ObserveCacheInvalidation()

	if hasSubs && fetch != nil {
		go s.backgroundRefetch(key, fetch)
	}
}

func (s *Store) backgroundRefetch(key Key, fetch Fetcher) {
	if _, err := s.Query(context.Background(), key, fetch); err != nil {
		s.logger.Debug("background refetch failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// Subscribe registers fn for settled writes to the key and returns an
// unsubscribe function. Unsubscribing is idempotent.
func (s *Store) Subscribe(key Key, fn Subscriber) func() {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	if s.subscribers[key] == nil {
		s.subscribers[key] = make(map[uint64]Subscriber)
	}
	s.subscribers[key][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers[key], id)
			s.mu.Unlock()
		})
	}
}

// Peek returns the current snapshot for a key without fetching.
func (s *Store) Peek(key Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[key]
	if !ok {
		return Entry{}, false
	}
	return s.snapshotLocked(sl), true
}

// Clear discards every cached entry and subscriber.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[Key]*slot)
	s.subscribers = make(map[Key]map[uint64]Subscriber)
}

// Remove discards a single key, used when its dataset is deleted.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	delete(s.subscribers, key)
}

func (s *Store) subscribersLocked(key Key) []Subscriber {
	subs := make([]Subscriber, 0, len(s.subscribers[key]))
	for _, fn := range s.subscribers[key] {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store) snapshotLocked(sl *slot) Entry {
	return Entry{
		Data:          sl.data,
		Err:           sl.err,
		Loading:       sl.loading,
		LastFetchedAt: sl.fetchedAt,
	}
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
