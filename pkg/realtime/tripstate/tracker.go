package tripstate

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
)

// Store is the part of the location store the tracker drives
type Store interface {
	Put(reading *ctdf.LocationReading, tripState ctdf.TripState)
	Get(busID string) (*ctdf.BusTrackingState, bool)
	Remove(busID string) bool
	PersistTripStatus(busID string, status ctdf.TripStatus)
}

type Publisher interface {
	PublishLocation(reading *ctdf.LocationReading) int
	PublishTripEnded(busID string, at time.Time) int
}

// Tracker applies trip transitions for each bus. Work for one bus is serialised so the order
// readings land in the store is the order they are broadcast; different buses never wait on each other.
type Tracker struct {
	store     Store
	publisher Publisher

	locks sync.Map

	now func() time.Time
}

func NewTracker(store Store, publisher Publisher) *Tracker {
	return &Tracker{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Accept stores an already validated reading and broadcasts it to the bus topic
func (t *Tracker) Accept(reading *ctdf.LocationReading) ctdf.TripState {
	held := t.lock(reading.BusID)
	defer held.mu.Unlock()

	current := ctdf.TripStateInactive
	if state, exists := t.store.Get(reading.BusID); exists {
		current = state.TripState
	}

	next := Transition(current, SignalFor(reading))
	if current != next {
		log.Debug().
			Str("bus", reading.BusID).
			Str("from", string(current)).
			Str("to", string(next)).
			Msg("Trip state changed")
	}

	t.store.Put(reading, next)
	t.publisher.PublishLocation(reading)

	return next
}

// End ends the current trip: the hot entry is cleared, the durable record is marked ended and
// subscribers are told. A bus with no entry in memory still gets the durable update and event.
func (t *Tracker) End(busID string) {
	held := t.lock(busID)
	defer held.mu.Unlock()

	removed := t.store.Remove(busID)
	t.store.PersistTripStatus(busID, ctdf.TripStatusEnded)
	t.publisher.PublishTripEnded(busID, t.now())

	// Goroutines waiting on this lock see removed and take a fresh one
	held.removed = true
	t.locks.CompareAndDelete(busID, held)

	log.Info().Str("bus", busID).Bool("wasTracked", removed).Msg("Trip ended")
}

type busLock struct {
	mu      sync.Mutex
	removed bool
}

// lock returns the held lock for the bus. Locks are dropped when a trip ends so the map only
// holds buses that are currently tracked.
func (t *Tracker) lock(busID string) *busLock {
	for {
		value, _ := t.locks.LoadOrStore(busID, &busLock{})
		l := value.(*busLock)

		l.mu.Lock()
		if l.removed {
			l.mu.Unlock()
			continue
		}

		return l
	}
}
