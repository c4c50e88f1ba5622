package freshness

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/lastknown"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Kind says how a query was answered
type Kind string

const (
	KindActive      Kind = "active"
	KindStale       Kind = "stale"
	KindLastKnown   Kind = "lastKnown"
	KindUnavailable Kind = "unavailable"
	KindNotFound    Kind = "notFound"
)

const (
	MessageStale              = "Bus location has not been updated recently"
	MessageNotTracking        = "Bus is not currently being tracked"
	MessageUnavailable        = "Last known location is unavailable"
	MessageTrackingNotStarted = "Tracking not started"
)

type Location struct {
	Latitude   float64         `json:"lat" groups:"basic,detailed"`
	Longitude  float64         `json:"lng" groups:"basic,detailed"`
	Timestamp  time.Time       `json:"timestamp" groups:"basic,detailed"`
	TripStatus ctdf.TripStatus `json:"tripStatus" groups:"detailed"`
	Accuracy   float64         `json:"accuracy" groups:"detailed"`
}

type Result struct {
	Kind    Kind
	Status  Status
	Message string

	Location  *Location
	LastKnown *Location
}

func (r *Result) Found() bool {
	return r.Kind != KindNotFound
}

// StateReader is the in-memory side of the location store
type StateReader interface {
	Get(busID string) (*ctdf.BusTrackingState, bool)
}

type Options struct {
	Threshold time.Duration
	Timeout   time.Duration

	Metrics *metrics.Collector
	Clock   func() time.Time
}

// Service answers where a bus is. It never changes the location store, a stale entry is
// reported as inactive but stays in memory until the trip is ended.
type Service struct {
	states   StateReader
	fallback lastknown.Reader

	threshold time.Duration
	timeout   time.Duration

	metrics *metrics.Collector
	now     func() time.Time
}

func NewService(states StateReader, fallback lastknown.Reader, options Options) *Service {
	if options.Clock == nil {
		options.Clock = time.Now
	}

	return &Service{
		states:    states,
		fallback:  fallback,
		threshold: options.Threshold,
		timeout:   options.Timeout,
		metrics:   options.Metrics,
		now:       options.Clock,
	}
}

func (s *Service) Query(ctx context.Context, busID string) *Result {
	state, exists := s.states.Get(busID)
	if exists && state.HasReading() {
		reading := state.CurrentReading
		location := &Location{
			Latitude:   reading.Latitude,
			Longitude:  reading.Longitude,
			Timestamp:  state.LastUpdateAt,
			TripStatus: reading.TripStatus,
			Accuracy:   reading.AccuracyMeters,
		}

		if s.now().Sub(state.LastUpdateAt) > s.threshold {
			return &Result{
				Kind:      KindStale,
				Status:    StatusInactive,
				Message:   MessageStale,
				LastKnown: location,
			}
		}

		return &Result{
			Kind:     KindActive,
			Status:   StatusActive,
			Location: location,
		}
	}

	return s.queryFallback(ctx, busID)
}

type fallbackResult struct {
	record *ctdf.BusLastKnown
	err    error
}

func (s *Service) queryFallback(ctx context.Context, busID string) *Result {
	if s.fallback == nil {
		return s.notFound()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Bounded by the timeout even when the reader ignores ctx
	resultChan := make(chan fallbackResult, 1)
	go func() {
		record, err := s.fallback.LastKnown(ctx, busID)
		resultChan <- fallbackResult{record: record, err: err}
	}()

	var result fallbackResult
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = fallbackResult{err: ctx.Err()}
	}

	if errors.Is(result.err, lastknown.ErrNotFound) || (result.err == nil && !result.record.HasLocation()) {
		return s.notFound()
	}

	if result.err != nil {
		log.Warn().Err(result.err).Str("bus", busID).Msg("Last known location lookup failed")
		s.metrics.FallbackRead(string(KindUnavailable))

		return &Result{
			Kind:    KindUnavailable,
			Status:  StatusInactive,
			Message: MessageUnavailable,
		}
	}

	s.metrics.FallbackRead(string(KindLastKnown))

	return &Result{
		Kind:    KindLastKnown,
		Status:  StatusInactive,
		Message: MessageNotTracking,
		LastKnown: &Location{
			Latitude:   result.record.CurrentLocation.Latitude,
			Longitude:  result.record.CurrentLocation.Longitude,
			Timestamp:  result.record.LastLocationUpdate,
			TripStatus: result.record.TripStatus,
			Accuracy:   result.record.LastAccuracy,
		},
	}
}

func (s *Service) notFound() *Result {
	s.metrics.FallbackRead(string(KindNotFound))

	return &Result{
		Kind:    KindNotFound,
		Status:  StatusInactive,
		Message: MessageTrackingNotStarted,
	}
}
