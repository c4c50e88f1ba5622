package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/bustracker/pkg/config"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/realtime/broadcast"
	"github.com/travigo/bustracker/pkg/realtime/freshness"
	"github.com/travigo/bustracker/pkg/realtime/lastknown"
	"github.com/travigo/bustracker/pkg/realtime/readings"
)

var startTime = time.Date(2024, 9, 2, 7, 45, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ctdf.Event
}

func (s *recordingSink) WriteEvent(event ctdf.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []ctdf.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ctdf.Event(nil), s.events...)
}

type recordingRejections struct {
	reasons []readings.Reason
}

func (r *recordingRejections) RecordRejection(_ readings.RawReading, rejected *readings.RejectedError) {
	r.reasons = append(r.reasons, rejected.Reason)
}

type harness struct {
	relay      *Relay
	durable    *lastknown.MemoryStore
	clock      *testClock
	rejections *recordingRejections
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	durable := lastknown.NewMemoryStore()
	clock := &testClock{now: startTime}
	rejections := &recordingRejections{}

	relay := New(config.Default(), Dependencies{
		Writer:     durable,
		Fallback:   durable,
		Rejections: rejections,
		Clock:      clock.Now,
	})
	t.Cleanup(relay.Close)

	return &harness{relay: relay, durable: durable, clock: clock, rejections: rejections}
}

func (h *harness) subscribe(t *testing.T, id string, busID string) *recordingSink {
	t.Helper()

	sink := &recordingSink{}
	client := broadcast.NewClient(id, sink, 16)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	h.relay.Registry().Subscribe(client, busID)

	return sink
}

func rawReading(busID string, location readings.RawLocation) readings.RawReading {
	return readings.RawReading{
		BusID:    busID,
		DriverID: "driver-1",
		Location: location,
	}
}

func TestAcceptedReadingIsStoredAndBroadcast(t *testing.T) {
	h := newHarness(t)
	sink := h.subscribe(t, "student-1", "BUS-1")

	reading, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 28.6139, Longitude: 77.2090, Accuracy: 15.0, Speed: 8.3,
	}))
	require.NoError(t, err)
	assert.Equal(t, 30.0, reading.SpeedKMH)
	assert.Equal(t, 15.0, reading.AccuracyMeters)
	assert.Equal(t, startTime, reading.CapturedAt)

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)

	event := sink.received()[0]
	assert.Equal(t, ctdf.EventTypeLocationUpdate, event.Type)
	assert.Equal(t, ctdf.LocationUpdate{
		BusID:      "BUS-1",
		Latitude:   28.6139,
		Longitude:  77.2090,
		Accuracy:   15,
		Speed:      30,
		CapturedAt: startTime,
		TripStatus: ctdf.TripStatusActive,
	}, event.Body)

	result := h.relay.Query(context.Background(), "BUS-1")
	assert.Equal(t, freshness.KindActive, result.Kind)
	assert.Equal(t, 15.0, result.Location.Accuracy)
}

func TestPoorAccuracyNeverReachesStore(t *testing.T) {
	h := newHarness(t)
	sink := h.subscribe(t, "student-1", "BUS-1")

	_, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 28.6139, Longitude: 77.2090, Accuracy: 600.0,
	}))

	var rejected *readings.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, readings.ReasonPoorAccuracy, rejected.Reason)
	require.NotNil(t, rejected.Accuracy)
	assert.Equal(t, 600.0, *rejected.Accuracy)
	assert.Equal(t, []readings.Reason{readings.ReasonPoorAccuracy}, h.rejections.reasons)

	result := h.relay.Query(context.Background(), "BUS-1")
	assert.Equal(t, freshness.KindNotFound, result.Kind)
	assert.Equal(t, freshness.StatusInactive, result.Status)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.received())
}

func TestOutOfRangeNeverReachesStore(t *testing.T) {
	h := newHarness(t)

	_, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 91.0, Longitude: 77.2090, Accuracy: 5.0,
	}))

	var rejected *readings.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, readings.ReasonOutOfRange, rejected.Reason)
	assert.Equal(t, freshness.KindNotFound, h.relay.Query(context.Background(), "BUS-1").Kind)
}

func TestEndTripFallsBackToLastKnown(t *testing.T) {
	h := newHarness(t)
	first := h.subscribe(t, "student-1", "BUS-1")
	second := h.subscribe(t, "student-2", "BUS-1")

	_, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 28.6139, Longitude: 77.2090, Accuracy: 15.0, Speed: 8.3,
	}))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	h.relay.EndTrip("BUS-1")

	for _, sink := range []*recordingSink{first, second} {
		require.Eventually(t, func() bool { return len(sink.received()) == 2 }, time.Second, 5*time.Millisecond)

		events := sink.received()
		assert.Equal(t, ctdf.EventTypeLocationUpdate, events[0].Type)
		assert.Equal(t, ctdf.EventTypeTripEnded, events[1].Type)
	}

	// The durable status update lands asynchronously
	require.Eventually(t, func() bool {
		record, err := h.durable.LastKnown(context.Background(), "BUS-1")
		return err == nil && record.TripStatus == ctdf.TripStatusEnded
	}, time.Second, 5*time.Millisecond)

	result := h.relay.Query(context.Background(), "BUS-1")
	assert.Equal(t, freshness.KindLastKnown, result.Kind)
	assert.Equal(t, freshness.StatusInactive, result.Status)
	require.NotNil(t, result.LastKnown)
	assert.Equal(t, 28.6139, result.LastKnown.Latitude)
	assert.Equal(t, 77.2090, result.LastKnown.Longitude)
	assert.Equal(t, startTime, result.LastKnown.Timestamp)
}

func TestStaleReadingIsInactive(t *testing.T) {
	h := newHarness(t)

	_, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 28.6139, Longitude: 77.2090, Accuracy: 15.0,
	}))
	require.NoError(t, err)

	h.clock.Advance(9 * time.Minute)
	assert.Equal(t, freshness.StatusActive, h.relay.Query(context.Background(), "BUS-1").Status)

	h.clock.Advance(2 * time.Minute)
	result := h.relay.Query(context.Background(), "BUS-1")
	assert.Equal(t, freshness.KindStale, result.Kind)
	require.NotNil(t, result.LastKnown)
	assert.Equal(t, startTime, result.LastKnown.Timestamp)
}

func TestRehydrate(t *testing.T) {
	durable := lastknown.NewMemoryStore()
	require.NoError(t, durable.WriteLastKnown(context.Background(), ctdf.BusLastKnownUpdate{
		BusID: "BUS-1",
		Reading: &ctdf.LocationReading{
			BusID: "BUS-1", Latitude: 28.6, Longitude: 77.2, AccuracyMeters: 10, CapturedAt: startTime,
			TripStatus: ctdf.TripStatusActive,
		},
		TripStatus: ctdf.TripStatusActive,
		RecordedAt: startTime,
	}))

	clock := &testClock{now: startTime.Add(time.Minute)}
	relay := New(config.Default(), Dependencies{Fallback: durable, Clock: clock.Now})
	defer relay.Close()

	restored, err := relay.Rehydrate(context.Background(), durable)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	result := relay.Query(context.Background(), "BUS-1")
	assert.Equal(t, freshness.KindActive, result.Kind)
	assert.Equal(t, 28.6, result.Location.Latitude)
}

func TestAccuracyJustOverThresholdNeverReachesStore(t *testing.T) {
	h := newHarness(t)
	sink := h.subscribe(t, "student-1", "BUS-1")

	_, err := h.relay.UpdateLocation(rawReading("BUS-1", readings.RawLocation{
		Latitude: 28.6139, Longitude: 77.2090, Accuracy: 500.2,
	}))

	var rejected *readings.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, readings.ReasonPoorAccuracy, rejected.Reason)
	require.NotNil(t, rejected.Accuracy)
	assert.Equal(t, 500.0, *rejected.Accuracy)

	assert.Equal(t, freshness.KindNotFound, h.relay.Query(context.Background(), "BUS-1").Kind)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.received())
}
