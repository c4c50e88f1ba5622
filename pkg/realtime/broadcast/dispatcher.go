package broadcast

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/subscriptions"
)

// Mirror receives a copy of every published event after the local fan-out
type Mirror interface {
	Mirror(event ctdf.Event)
}

type Dispatcher struct {
	registry *subscriptions.Registry
	mirrors  []Mirror
	metrics  *metrics.Collector
}

func NewDispatcher(registry *subscriptions.Registry, collector *metrics.Collector, mirrors ...Mirror) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		mirrors:  mirrors,
		metrics:  collector,
	}
}

// Publish hands the event to every member of the bus topic and returns how many accepted it.
// Failed deliveries are logged and never returned. A member that cannot keep up is disconnected.
func (d *Dispatcher) Publish(busID string, event ctdf.Event) int {
	delivered := 0

	for _, connection := range d.registry.MembersOf(busID) {
		err := connection.Deliver(event)
		if err == nil {
			delivered++
			continue
		}

		cause := "error"
		if errors.Is(err, subscriptions.ErrQueueFull) {
			cause = "queue_full"
			connection.Close()
		} else if errors.Is(err, subscriptions.ErrClosed) {
			cause = "closed"
		}

		d.registry.UnsubscribeAll(connection)
		d.metrics.DeliveryFailed(cause)

		log.Warn().Err(err).
			Str("bus", busID).
			Str("connection", connection.ID()).
			Str("event", string(event.Type)).
			Msg("Failed to deliver event, dropping subscriber")
	}

	d.metrics.EventPublished(string(event.Type))

	for _, mirror := range d.mirrors {
		mirror.Mirror(event)
	}

	return delivered
}

func (d *Dispatcher) PublishLocation(reading *ctdf.LocationReading) int {
	return d.Publish(reading.BusID, ctdf.NewLocationUpdateEvent(reading))
}

func (d *Dispatcher) PublishTripEnded(busID string, at time.Time) int {
	return d.Publish(busID, ctdf.NewTripEndedEvent(busID, at))
}
