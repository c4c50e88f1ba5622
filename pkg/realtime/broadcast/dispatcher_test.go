package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/subscriptions"
)

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

type blockedSink struct {
	release chan struct{}
}

func (s *blockedSink) WriteEvent(_ ctdf.Event) error {
	<-s.release
	return nil
}

type failingSink struct{}

func (failingSink) WriteEvent(_ ctdf.Event) error {
	return errors.New("broken pipe")
}

type recordingMirror struct {
	mu     sync.Mutex
	events []ctdf.Event
}

func (m *recordingMirror) Mirror(event ctdf.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
}

func startClient(t *testing.T, id string, sink Sink, queueSize int) *Client {
	t.Helper()

	client := NewClient(id, sink, queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	t.Cleanup(cancel)

	return client
}

func locationReading(busID string, lat float64) *ctdf.LocationReading {
	return &ctdf.LocationReading{
		BusID:          busID,
		Latitude:       lat,
		Longitude:      77.2090,
		AccuracyMeters: 15,
		SpeedKMH:       30,
		CapturedAt:     time.Now(),
		TripStatus:     ctdf.TripStatusActive,
	}
}

func latitudes(events []ctdf.Event) []float64 {
	var values []float64
	for _, event := range events {
		if update, ok := event.Body.(ctdf.LocationUpdate); ok {
			values = append(values, update.Latitude)
		}
	}
	return values
}

func TestPublishPreservesOrderPerConnection(t *testing.T) {
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, nil)

	sinks := []*recordingSink{{}, {}, {}}
	for i, sink := range sinks {
		registry.Subscribe(startClient(t, string(rune('a'+i)), sink, 64), "BUS-1")
	}

	var expected []float64
	for i := 0; i < 30; i++ {
		lat := float64(i)
		expected = append(expected, lat)
		assert.Equal(t, 3, dispatcher.PublishLocation(locationReading("BUS-1", lat)))
	}

	for _, sink := range sinks {
		assert.Eventually(t, func() bool { return len(sink.received()) == 30 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, expected, latitudes(sink.received()))
	}
}

func TestDuplicateSubscribeDeliversOnce(t *testing.T) {
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, nil)

	sink := &recordingSink{}
	client := startClient(t, "conn-1", sink, 8)
	registry.Subscribe(client, "BUS-1")
	registry.Subscribe(client, "BUS-1")

	assert.Equal(t, 1, dispatcher.PublishLocation(locationReading("BUS-1", 1)))
	assert.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.received(), 1)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	collector := metrics.NewCollector()
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, collector)

	slow := &blockedSink{release: make(chan struct{})}
	defer close(slow.release)
	slowClient := startClient(t, "slow", slow, 2)

	fast := &recordingSink{}
	registry.Subscribe(slowClient, "BUS-1")
	registry.Subscribe(startClient(t, "fast", fast, 64), "BUS-1")

	for i := 0; i < 10; i++ {
		dispatcher.PublishLocation(locationReading("BUS-1", float64(i)))
	}

	assert.Eventually(t, func() bool { return len(fast.received()) == 10 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, registry.Count("BUS-1"))
	assert.Empty(t, registry.TopicsOf(slowClient))

	select {
	case <-slowClient.Done():
	default:
		t.Fatal("slow client was not closed")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.DeliveryFailures.WithLabelValues("queue_full")))
}

func TestTopicsAreIsolated(t *testing.T) {
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, nil)

	blocked := &blockedSink{release: make(chan struct{})}
	defer close(blocked.release)
	registry.Subscribe(startClient(t, "a", blocked, 1), "BUS-A")

	sink := &recordingSink{}
	registry.Subscribe(startClient(t, "b", sink, 8), "BUS-B")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			dispatcher.PublishLocation(locationReading("BUS-A", float64(i)))
		}
		dispatcher.PublishLocation(locationReading("BUS-B", 42))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{42}, latitudes(sink.received()))
}

func TestClosedSubscriberIsUnsubscribed(t *testing.T) {
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, nil)

	gone := NewClient("gone", &recordingSink{}, 4)
	gone.Close()
	registry.Subscribe(gone, "BUS-1")

	sink := &recordingSink{}
	registry.Subscribe(startClient(t, "live", sink, 4), "BUS-1")

	assert.Equal(t, 1, dispatcher.PublishTripEnded("BUS-1", time.Now()))
	assert.Equal(t, 1, registry.Count("BUS-1"))

	assert.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	event := sink.received()[0]
	assert.Equal(t, ctdf.EventTypeTripEnded, event.Type)
	assert.Equal(t, ctdf.TripEnded{BusID: "BUS-1"}, event.Body)
}

func TestFailedWriteClosesClient(t *testing.T) {
	registry := subscriptions.NewRegistry()
	dispatcher := NewDispatcher(registry, nil)

	client := NewClient("broken", failingSink{}, 4)
	registry.Subscribe(client, "BUS-1")

	errs := make(chan error, 1)
	go func() { errs <- client.Run(context.Background()) }()

	dispatcher.PublishLocation(locationReading("BUS-1", 1))

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	assert.ErrorIs(t, client.Deliver(ctdf.Event{}), subscriptions.ErrClosed)

	dispatcher.PublishLocation(locationReading("BUS-1", 2))
	assert.Equal(t, 0, registry.Count("BUS-1"))
}

func TestMirrorsReceiveEvents(t *testing.T) {
	mirror := &recordingMirror{}
	dispatcher := NewDispatcher(subscriptions.NewRegistry(), nil, mirror)

	assert.Equal(t, 0, dispatcher.PublishLocation(locationReading("BUS-1", 1)))
	dispatcher.PublishTripEnded("BUS-1", time.Now())

	require.Len(t, mirror.events, 2)
	assert.Equal(t, ctdf.EventTypeLocationUpdate, mirror.events[0].Type)
	assert.Equal(t, ctdf.EventTypeTripEnded, mirror.events[1].Type)
}
