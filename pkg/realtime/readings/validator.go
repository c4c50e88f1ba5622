package readings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/travigo/bustracker/pkg/config"
	"github.com/travigo/bustracker/pkg/ctdf"
	"golang.org/x/exp/slices"
)

var knownTripStatuses = []ctdf.TripStatus{ctdf.TripStatusActive, ctdf.TripStatusEnded}

// RawLocation is the location object as posted by the driver client. Values are left untyped so
// numeric strings can be accepted and anything else reported as malformed.
type RawLocation struct {
	Latitude  interface{} `json:"lat"`
	Longitude interface{} `json:"lng"`
	Accuracy  interface{} `json:"accuracy"`
	Speed     interface{} `json:"speed"`
}

type RawReading struct {
	BusID      string      `json:"busId"`
	DriverID   string      `json:"-"`
	Location   RawLocation `json:"location"`
	TripStatus string      `json:"tripStatus"`
}

// Validator checks raw GPS samples and normalises accepted ones
type Validator struct {
	maxAccuracyMeters     float64
	defaultAccuracyMeters float64

	now func() time.Time
}

func NewValidator(trackingConfig config.TrackingConfig) *Validator {
	return &Validator{
		maxAccuracyMeters:     trackingConfig.MaxAccuracyMeters,
		defaultAccuracyMeters: trackingConfig.DefaultAccuracyMeters,
		now:                   time.Now,
	}
}

// WithClock replaces the clock used to stamp CapturedAt
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate returns the normalised reading or a *RejectedError
func (v *Validator) Validate(raw RawReading) (*ctdf.LocationReading, error) {
	if strings.TrimSpace(raw.BusID) == "" {
		return nil, rejectMalformed("Bus ID is required")
	}
	if strings.TrimSpace(raw.DriverID) == "" {
		return nil, rejectMalformed("Driver ID is required")
	}

	latitude, ok := toFloat(raw.Location.Latitude)
	if !ok {
		return nil, rejectMalformed("Invalid location data: latitude is missing or not a number")
	}
	longitude, ok := toFloat(raw.Location.Longitude)
	if !ok {
		return nil, rejectMalformed("Invalid location data: longitude is missing or not a number")
	}

	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return nil, &RejectedError{
			Reason:  ReasonOutOfRange,
			Message: fmt.Sprintf("Invalid coordinates (%g, %g)", latitude, longitude),
		}
	}

	tripStatus := ctdf.TripStatusActive
	if raw.TripStatus != "" {
		tripStatus = ctdf.TripStatus(strings.ToLower(strings.TrimSpace(raw.TripStatus)))
		if !slices.Contains(knownTripStatuses, tripStatus) {
			return nil, rejectMalformed(fmt.Sprintf("Unknown trip status %q", raw.TripStatus))
		}
	}

	accuracy, ok := toFloat(raw.Location.Accuracy)
	if !ok || accuracy < 0 {
		accuracy = v.defaultAccuracyMeters
	}

	// The threshold applies to the reported value, rounding is only for display and storage
	if accuracy > v.maxAccuracyMeters {
		rounded := math.Round(accuracy)
		return nil, &RejectedError{
			Reason:   ReasonPoorAccuracy,
			Message:  fmt.Sprintf("GPS accuracy too low (%.0fm). Please wait for a better signal.", rounded),
			Accuracy: &rounded,
		}
	}
	accuracy = math.Round(accuracy)

	speed, ok := toFloat(raw.Location.Speed)
	if !ok || speed < 0 {
		speed = 0
	}

	return &ctdf.LocationReading{
		BusID:          raw.BusID,
		DriverID:       raw.DriverID,
		Latitude:       latitude,
		Longitude:      longitude,
		AccuracyMeters: accuracy,
		SpeedKMH:       MetersPerSecondToKMH(speed),
		CapturedAt:     v.now(),
		TripStatus:     tripStatus,
	}, nil
}

// MetersPerSecondToKMH converts and rounds to the nearest whole km/h
func MetersPerSecondToKMH(speed float64) float64 {
	return math.Round(speed * 3.6)
}

func toFloat(value interface{}) (float64, bool) {
	var parsed float64

	switch v := value.(type) {
	case float64:
		parsed = v
	case float32:
		parsed = float64(v)
	case int:
		parsed = float64(v)
	case int64:
		parsed = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		parsed = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		parsed = f
	default:
		return 0, false
	}

	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}

	return parsed, true
}
