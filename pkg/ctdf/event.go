package ctdf

import (
	"time"
)

type Event struct {
	Type      EventType   `json:"type"`
	BusID     string      `json:"busId"`
	Timestamp time.Time   `json:"timestamp"`
	Body      interface{} `json:"data,omitempty"`
}

type EventType string

const (
	EventTypeLocationUpdate EventType = "location-update"
	EventTypeTripEnded      EventType = "trip-ended"
)

type LocationUpdate struct {
	BusID      string     `json:"busId"`
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lng"`
	Accuracy   float64    `json:"accuracy"`
	Speed      float64    `json:"speed"`
	CapturedAt time.Time  `json:"capturedAt"`
	TripStatus TripStatus `json:"tripStatus"`
}

type TripEnded struct {
	BusID string `json:"busId"`
}

func NewLocationUpdateEvent(reading *LocationReading) Event {
	return Event{
		Type:      EventTypeLocationUpdate,
		BusID:     reading.BusID,
		Timestamp: reading.CapturedAt,
		Body: LocationUpdate{
			BusID:      reading.BusID,
			Latitude:   reading.Latitude,
			Longitude:  reading.Longitude,
			Accuracy:   reading.AccuracyMeters,
			Speed:      reading.SpeedKMH,
			CapturedAt: reading.CapturedAt,
			TripStatus: reading.TripStatus,
		},
	}
}

func NewTripEndedEvent(busID string, at time.Time) Event {
	return Event{
		Type:      EventTypeTripEnded,
		BusID:     busID,
		Timestamp: at,
		Body:      TripEnded{BusID: busID},
	}
}
