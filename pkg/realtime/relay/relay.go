package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/config"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/broadcast"
	"github.com/travigo/bustracker/pkg/realtime/freshness"
	"github.com/travigo/bustracker/pkg/realtime/lastknown"
	"github.com/travigo/bustracker/pkg/realtime/locationstore"
	"github.com/travigo/bustracker/pkg/realtime/readings"
	"github.com/travigo/bustracker/pkg/realtime/subscriptions"
	"github.com/travigo/bustracker/pkg/realtime/tripstate"
)

type Dependencies struct {
	// Durable write-through target, nothing is persisted when nil
	Writer locationstore.Writer
	// Durable fallback used by queries
	Fallback lastknown.Reader

	Rejections RejectionRecorder
	Mirrors    []broadcast.Mirror
	Metrics    *metrics.Collector

	Clock func() time.Time
}

// ActiveSource lists the durable records of buses that were mid trip
type ActiveSource interface {
	ActiveBuses(ctx context.Context) ([]*ctdf.BusLastKnown, error)
}

// Relay wires the validator, location store, trip tracker, subscriptions and dispatcher together
type Relay struct {
	config config.TrackingConfig

	validator  *readings.Validator
	store      *locationstore.Store
	registry   *subscriptions.Registry
	dispatcher *broadcast.Dispatcher
	tracker    *tripstate.Tracker
	freshness  *freshness.Service

	rejections RejectionRecorder
	metrics    *metrics.Collector
}

func New(trackingConfig config.TrackingConfig, dependencies Dependencies) *Relay {
	clock := dependencies.Clock
	if clock == nil {
		clock = time.Now
	}

	store := locationstore.New(locationstore.Options{
		Writer:    dependencies.Writer,
		Shards:    trackingConfig.WriteThroughWorkers,
		QueueSize: trackingConfig.WriteThroughQueueSize,
		Metrics:   dependencies.Metrics,
		Clock:     clock,
	})
	registry := subscriptions.NewRegistry()
	dispatcher := broadcast.NewDispatcher(registry, dependencies.Metrics, dependencies.Mirrors...)

	return &Relay{
		config: trackingConfig,

		validator:  readings.NewValidator(trackingConfig).WithClock(clock),
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		tracker:    tripstate.NewTracker(store, dispatcher).WithClock(clock),
		freshness: freshness.NewService(store, dependencies.Fallback, freshness.Options{
			Threshold: trackingConfig.StalenessThreshold,
			Timeout:   trackingConfig.FallbackReadTimeout,
			Metrics:   dependencies.Metrics,
			Clock:     clock,
		}),

		rejections: dependencies.Rejections,
		metrics:    dependencies.Metrics,
	}
}

func (r *Relay) Config() config.TrackingConfig {
	return r.config
}

func (r *Relay) Registry() *subscriptions.Registry {
	return r.registry
}

// UpdateLocation validates a driver reading, stores it and broadcasts it to the bus topic.
// Rejected readings return a *readings.RejectedError and never touch the store.
func (r *Relay) UpdateLocation(raw readings.RawReading) (*ctdf.LocationReading, error) {
	reading, err := r.validator.Validate(raw)
	if err != nil {
		var rejected *readings.RejectedError
		if errors.As(err, &rejected) {
			r.metrics.ReadingRejected(string(rejected.Reason))
			if r.rejections != nil {
				r.rejections.RecordRejection(raw, rejected)
			}

			log.Debug().
				Str("bus", raw.BusID).
				Str("driver", raw.DriverID).
				Str("reason", string(rejected.Reason)).
				Msg(rejected.Message)
		}

		return nil, err
	}

	r.tracker.Accept(reading)
	r.metrics.ReadingAccepted()

	return reading, nil
}

func (r *Relay) EndTrip(busID string) {
	r.tracker.End(busID)
}

func (r *Relay) Query(ctx context.Context, busID string) *freshness.Result {
	return r.freshness.Query(ctx, busID)
}

// Rehydrate restores buses that were mid trip when the process stopped
func (r *Relay) Rehydrate(ctx context.Context, source ActiveSource) (int, error) {
	records, err := source.ActiveBuses(ctx)
	if err != nil {
		return 0, err
	}

	restored := r.store.Restore(records)
	log.Info().Int("restored", restored).Msg("Rehydrated location store")

	return restored, nil
}

// Close waits for queued write-throughs to finish
func (r *Relay) Close() {
	r.store.Close()
}
