package tripstate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/realtime/locationstore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishLocation(reading *ctdf.LocationReading) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, fmt.Sprintf("location:%s:%g", reading.BusID, reading.Latitude))
	return 1
}

func (p *recordingPublisher) PublishTripEnded(busID string, _ time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, "ended:"+busID)
	return 1
}

func (p *recordingPublisher) forBus(busID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []string
	for _, event := range p.events {
		if event == "ended:"+busID || strings.HasPrefix(event, "location:"+busID+":") {
			events = append(events, event)
		}
	}
	return events
}

type statusWriter struct {
	mu       sync.Mutex
	statuses []ctdf.TripStatus
}

func (w *statusWriter) WriteLastKnown(_ context.Context, update ctdf.BusLastKnownUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.statuses = append(w.statuses, update.TripStatus)
	return nil
}

func newReading(busID string, lat float64, status ctdf.TripStatus) *ctdf.LocationReading {
	return &ctdf.LocationReading{
		BusID:      busID,
		DriverID:   "driver-1",
		Latitude:   lat,
		Longitude:  77.2,
		CapturedAt: time.Now(),
		TripStatus: status,
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from     ctdf.TripState
		signal   Signal
		expected ctdf.TripState
	}{
		{ctdf.TripStateInactive, SignalReading, ctdf.TripStateActive},
		{ctdf.TripStateActive, SignalReading, ctdf.TripStateActive},
		{ctdf.TripStateEnded, SignalReading, ctdf.TripStateActive},
		{ctdf.TripStateActive, SignalEndTrip, ctdf.TripStateEnded},
		{ctdf.TripStateInactive, SignalEndTrip, ctdf.TripStateEnded},
		{ctdf.TripStateActive, SignalReadingEnded, ctdf.TripStateEnded},
		{ctdf.TripStateEnded, Signal(42), ctdf.TripStateEnded},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%s on %s", test.from, test.signal), func(t *testing.T) {
			assert.Equal(t, test.expected, Transition(test.from, test.signal))
		})
	}
}

func TestSignalFor(t *testing.T) {
	assert.Equal(t, SignalReading, SignalFor(newReading("BUS-1", 1, ctdf.TripStatusActive)))
	assert.Equal(t, SignalReadingEnded, SignalFor(newReading("BUS-1", 1, ctdf.TripStatusEnded)))
}

func TestAcceptStoresAndPublishes(t *testing.T) {
	store := locationstore.New(locationstore.Options{})
	defer store.Close()
	publisher := &recordingPublisher{}
	tracker := NewTracker(store, publisher)

	assert.Equal(t, ctdf.TripStateActive, tracker.Accept(newReading("BUS-1", 1, ctdf.TripStatusActive)))

	state, ok := store.Get("BUS-1")
	require.True(t, ok)
	assert.Equal(t, ctdf.TripStateActive, state.TripState)
	assert.Equal(t, []string{"location:BUS-1:1"}, publisher.forBus("BUS-1"))
}

func TestEndClearsEntryAndPublishes(t *testing.T) {
	writer := &statusWriter{}
	store := locationstore.New(locationstore.Options{Writer: writer})
	publisher := &recordingPublisher{}
	tracker := NewTracker(store, publisher)

	tracker.Accept(newReading("BUS-1", 1, ctdf.TripStatusActive))
	tracker.End("BUS-1")
	store.Close()

	_, ok := store.Get("BUS-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"location:BUS-1:1", "ended:BUS-1"}, publisher.forBus("BUS-1"))
	assert.Equal(t, []ctdf.TripStatus{ctdf.TripStatusActive, ctdf.TripStatusEnded}, writer.statuses)
}

func TestEndWithoutEntry(t *testing.T) {
	writer := &statusWriter{}
	store := locationstore.New(locationstore.Options{Writer: writer})
	publisher := &recordingPublisher{}
	tracker := NewTracker(store, publisher)

	tracker.End("BUS-9")
	store.Close()

	assert.Equal(t, []string{"ended:BUS-9"}, publisher.forBus("BUS-9"))
	assert.Equal(t, []ctdf.TripStatus{ctdf.TripStatusEnded}, writer.statuses)
}

func TestReadingAfterEndStartsNewTrip(t *testing.T) {
	store := locationstore.New(locationstore.Options{})
	defer store.Close()
	tracker := NewTracker(store, &recordingPublisher{})

	tracker.Accept(newReading("BUS-1", 1, ctdf.TripStatusActive))
	tracker.End("BUS-1")

	assert.Equal(t, ctdf.TripStateActive, tracker.Accept(newReading("BUS-1", 2, ctdf.TripStatusActive)))
	state, ok := store.Get("BUS-1")
	require.True(t, ok)
	assert.Equal(t, 2.0, state.CurrentReading.Latitude)
}

func TestStoreOrderMatchesBroadcastOrder(t *testing.T) {
	store := locationstore.New(locationstore.Options{})
	defer store.Close()
	publisher := &recordingPublisher{}
	tracker := NewTracker(store, publisher)

	var wg sync.WaitGroup
	for bus := 0; bus < 4; bus++ {
		busID := fmt.Sprintf("BUS-%d", bus)
		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					tracker.Accept(newReading(busID, float64(i), ctdf.TripStatusActive))
				}
			}()
		}
	}
	wg.Wait()

	// The last broadcast for each bus must be the reading left in the store
	for bus := 0; bus < 4; bus++ {
		busID := fmt.Sprintf("BUS-%d", bus)
		events := publisher.forBus(busID)
		require.Len(t, events, 100)

		state, ok := store.Get(busID)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("location:%s:%g", busID, state.CurrentReading.Latitude), events[len(events)-1])
	}
}

func trackedLocks(tracker *Tracker) int {
	count := 0
	tracker.locks.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func TestEndDropsBusLock(t *testing.T) {
	store := locationstore.New(locationstore.Options{})
	defer store.Close()
	tracker := NewTracker(store, &recordingPublisher{})

	tracker.Accept(newReading("BUS-1", 1, ctdf.TripStatusActive))
	tracker.Accept(newReading("BUS-2", 1, ctdf.TripStatusActive))
	assert.Equal(t, 2, trackedLocks(tracker))

	tracker.End("BUS-1")
	tracker.End("BUS-3")
	assert.Equal(t, 1, trackedLocks(tracker))
}

func TestConcurrentAcceptAndEnd(t *testing.T) {
	store := locationstore.New(locationstore.Options{})
	defer store.Close()
	publisher := &recordingPublisher{}
	tracker := NewTracker(store, publisher)

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tracker.Accept(newReading("BUS-1", float64(i), ctdf.TripStatusActive))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				tracker.End("BUS-1")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, publisher.forBus("BUS-1"), 240)

	// Whatever ran last decides the final state, the two must agree
	events := publisher.forBus("BUS-1")
	state, ok := store.Get("BUS-1")
	if events[len(events)-1] == "ended:BUS-1" {
		assert.False(t, ok)
		assert.Equal(t, 0, trackedLocks(tracker))
	} else {
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("location:BUS-1:%g", state.CurrentReading.Latitude), events[len(events)-1])
	}
}
