package locationstore

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
)

const (
	defaultShards     = 4
	defaultQueueSize  = 1024
	defaultMaxRetries = 3
	writeTimeout      = 10 * time.Second
)

// Writer persists a bus's last known location outside of the process
type Writer interface {
	WriteLastKnown(ctx context.Context, update ctdf.BusLastKnownUpdate) error
}

type Options struct {
	// Writer receives the write-through. When nil nothing is persisted.
	Writer Writer

	Shards     int
	QueueSize  int
	MaxRetries uint64

	Metrics *metrics.Collector

	Clock   func() time.Time
	BackOff func() backoff.BackOff
}

type entry struct {
	mu      sync.Mutex
	state   ctdf.BusTrackingState
	removed bool
}

// Store is the in-memory table of the current reading per bus. Each bus has its own lock so
// buses never contend with each other. Durable writes are handed to a fixed set of shard workers,
// a bus always maps to the same shard so its writes land in order.
type Store struct {
	entries sync.Map

	writer     Writer
	shards     []chan ctdf.BusLastKnownUpdate
	maxRetries uint64
	newBackOff func() backoff.BackOff
	workers    conc.WaitGroup

	closeMutex sync.RWMutex
	closed     bool

	metrics *metrics.Collector
	now     func() time.Time
}

func New(options Options) *Store {
	if options.Shards <= 0 {
		options.Shards = defaultShards
	}
	if options.QueueSize <= 0 {
		options.QueueSize = defaultQueueSize
	}
	if options.MaxRetries == 0 {
		options.MaxRetries = defaultMaxRetries
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.BackOff == nil {
		options.BackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		}
	}

	store := &Store{
		writer:     options.Writer,
		maxRetries: options.MaxRetries,
		newBackOff: options.BackOff,
		metrics:    options.Metrics,
		now:        options.Clock,
	}

	if store.writer != nil {
		store.shards = make([]chan ctdf.BusLastKnownUpdate, options.Shards)
		for i := range store.shards {
			queue := make(chan ctdf.BusLastKnownUpdate, options.QueueSize)
			store.shards[i] = queue

			store.workers.Go(func() {
				store.runWorker(queue)
			})
		}
	}

	return store
}

// Put replaces the current reading for the bus and queues the write-through
func (s *Store) Put(reading *ctdf.LocationReading, tripState ctdf.TripState) {
	for {
		value, _ := s.entries.LoadOrStore(reading.BusID, &entry{})
		e := value.(*entry)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		stored := *reading
		e.state = ctdf.BusTrackingState{
			BusID:          reading.BusID,
			CurrentReading: &stored,
			TripState:      tripState,
			LastUpdateAt:   reading.CapturedAt,
		}

		// Queued under the entry lock so the shard sees writes in the same order as the store
		s.enqueue(ctdf.BusLastKnownUpdate{
			BusID:      reading.BusID,
			Reading:    &stored,
			TripStatus: reading.TripStatus,
			RecordedAt: reading.CapturedAt,
		})
		e.mu.Unlock()

		return
	}
}

// Get returns a copy of the bus's tracking state. It never touches the durable store.
func (s *Store) Get(busID string) (*ctdf.BusTrackingState, bool) {
	value, ok := s.entries.Load(busID)
	if !ok {
		return nil, false
	}
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, false
	}

	snapshot := &ctdf.BusTrackingState{}
	if err := copier.Copy(snapshot, &e.state); err != nil {
		log.Error().Err(err).Str("bus", busID).Msg("Failed to copy tracking state")
		return nil, false
	}

	if e.state.CurrentReading != nil {
		reading := &ctdf.LocationReading{}
		if err := copier.Copy(reading, e.state.CurrentReading); err != nil {
			log.Error().Err(err).Str("bus", busID).Msg("Failed to copy location reading")
			return nil, false
		}
		snapshot.CurrentReading = reading
	}

	return snapshot, true
}

// Remove clears the hot entry for the bus. The durable record is left alone.
func (s *Store) Remove(busID string) bool {
	value, ok := s.entries.Load(busID)
	if !ok {
		return false
	}
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return false
	}

	e.removed = true
	s.entries.CompareAndDelete(busID, e)

	return true
}

// PersistTripStatus queues a status only write-through for the bus
func (s *Store) PersistTripStatus(busID string, status ctdf.TripStatus) {
	s.enqueue(ctdf.BusLastKnownUpdate{
		BusID:      busID,
		TripStatus: status,
		RecordedAt: s.now(),
	})
}

// Restore loads durable records into memory without writing them back. Buses already tracked
// in memory are left untouched. It returns the number of buses restored.
func (s *Store) Restore(records []*ctdf.BusLastKnown) int {
	restored := 0

	for _, record := range records {
		if !record.HasLocation() {
			continue
		}

		reading := &ctdf.LocationReading{
			BusID:          record.BusID,
			Latitude:       record.CurrentLocation.Latitude,
			Longitude:      record.CurrentLocation.Longitude,
			AccuracyMeters: record.LastAccuracy,
			CapturedAt:     record.LastLocationUpdate,
			TripStatus:     ctdf.TripStatusActive,
		}

		_, loaded := s.entries.LoadOrStore(record.BusID, &entry{
			state: ctdf.BusTrackingState{
				BusID:          record.BusID,
				CurrentReading: reading,
				TripState:      ctdf.TripStateActive,
				LastUpdateAt:   record.LastLocationUpdate,
			},
		})
		if !loaded {
			restored++
		}
	}

	return restored
}

func (s *Store) Len() int {
	count := 0
	s.entries.Range(func(_, _ any) bool {
		count++
		return true
	})

	return count
}

// Close stops accepting write-throughs and waits for the queued ones to finish
func (s *Store) Close() {
	s.closeMutex.Lock()
	if s.closed {
		s.closeMutex.Unlock()
		return
	}
	s.closed = true
	for _, queue := range s.shards {
		close(queue)
	}
	s.closeMutex.Unlock()

	s.workers.Wait()
}

func (s *Store) enqueue(update ctdf.BusLastKnownUpdate) {
	if s.writer == nil {
		return
	}

	s.closeMutex.RLock()
	defer s.closeMutex.RUnlock()

	if s.closed {
		log.Warn().Str("bus", update.BusID).Msg("Location store closed, dropping durable write")
		s.metrics.DurableWriteDropped()
		return
	}

	queue := s.shards[xxhash.Sum64String(update.BusID)%uint64(len(s.shards))]

	select {
	case queue <- update:
	default:
		log.Error().Str("bus", update.BusID).Msg("Durable write queue full, dropping update")
		s.metrics.DurableWriteDropped()
	}
}

func (s *Store) runWorker(queue <-chan ctdf.BusLastKnownUpdate) {
	for update := range queue {
		s.write(update)
	}
}

func (s *Store) write(update ctdf.BusLastKnownUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)

	err := backoff.Retry(func() error {
		return s.writer.WriteLastKnown(ctx, update)
	}, policy)

	if err != nil {
		log.Error().Err(err).
			Str("bus", update.BusID).
			Str("tripStatus", string(update.TripStatus)).
			Msg("Failed to persist last known location")
		s.metrics.DurableWriteFailed()
	}
}
