package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the relay metrics. All methods are safe to call on a nil Collector so
// components can be constructed without metrics in tests.
type Collector struct {
	reg *prometheus.Registry

	ReadingsAccepted prometheus.Counter
	ReadingsRejected *prometheus.CounterVec // reason label

	EventsPublished  *prometheus.CounterVec // type label
	DeliveryFailures *prometheus.CounterVec // cause label: queue_full|closed
	Subscribers      prometheus.Gauge

	DurableWriteErrors   prometheus.Counter
	DurableWritesDropped prometheus.Counter

	FallbackReads *prometheus.CounterVec // result label
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReadingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_readings_accepted_total",
			Help: "Total location readings accepted into the location store.",
		}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_readings_rejected_total",
			Help: "Total location readings rejected by validation.",
		}, []string{"reason"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_events_published_total",
			Help: "Total events published to bus topics.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_delivery_failures_total",
			Help: "Total events that could not be handed to a subscriber.",
		}, []string{"cause"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_subscribers",
			Help: "Number of live subscriber connections.",
		}),
		DurableWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_durable_write_errors_total",
			Help: "Total write-through persistence failures.",
		}),
		DurableWritesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_durable_writes_dropped_total",
			Help: "Total write-through updates dropped because the queue was full.",
		}),
		FallbackReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_fallback_reads_total",
			Help: "Total durable fallback reads by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.ReadingsAccepted, c.ReadingsRejected,
		c.EventsPublished, c.DeliveryFailures, c.Subscribers,
		c.DurableWriteErrors, c.DurableWritesDropped,
		c.FallbackReads,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) ReadingAccepted() {
	if c != nil {
		c.ReadingsAccepted.Inc()
	}
}

func (c *Collector) ReadingRejected(reason string) {
	if c != nil {
		c.ReadingsRejected.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) EventPublished(eventType string) {
	if c != nil {
		c.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (c *Collector) DeliveryFailed(cause string) {
	if c != nil {
		c.DeliveryFailures.WithLabelValues(cause).Inc()
	}
}

func (c *Collector) SubscriberConnected() {
	if c != nil {
		c.Subscribers.Inc()
	}
}

func (c *Collector) SubscriberDisconnected() {
	if c != nil {
		c.Subscribers.Dec()
	}
}

func (c *Collector) DurableWriteFailed() {
	if c != nil {
		c.DurableWriteErrors.Inc()
	}
}

func (c *Collector) DurableWriteDropped() {
	if c != nil {
		c.DurableWritesDropped.Inc()
	}
}

func (c *Collector) FallbackRead(result string) {
	if c != nil {
		c.FallbackReads.WithLabelValues(result).Inc()
	}
}
