package ctdf

import "time"

// BusLastKnown is the durable record of a bus's last known location. The buses collection is
// owned by the CRUD service; only the fields below are read or written by the tracker.
type BusLastKnown struct {
	BusID string `json:"busId" bson:"primaryidentifier"`

	CurrentLocation    *GeoPoint  `json:"currentLocation" bson:"currentLocation,omitempty"`
	LastLocationUpdate time.Time  `json:"lastLocationUpdate" bson:"lastLocationUpdate,omitempty"`
	TripStatus         TripStatus `json:"tripStatus" bson:"tripStatus,omitempty"`
	LastAccuracy       float64    `json:"lastAccuracy" bson:"lastAccuracy,omitempty"`
}

func (b *BusLastKnown) HasLocation() bool {
	return b != nil && b.CurrentLocation != nil && !b.LastLocationUpdate.IsZero()
}

// BusLastKnownUpdate is one write-through to the durable store. A nil Reading only updates the trip status.
type BusLastKnownUpdate struct {
	BusID      string           `json:"busId"`
	Reading    *LocationReading `json:"reading,omitempty"`
	TripStatus TripStatus       `json:"tripStatus"`
	RecordedAt time.Time        `json:"recordedAt"`
}
