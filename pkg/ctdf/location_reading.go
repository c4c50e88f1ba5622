package ctdf

import "time"

// LocationReading is a single GPS sample from a driver device after server-side normalisation.
// Accuracy is rounded to the nearest metre and speed is in km/h rounded to the nearest integer.
type LocationReading struct {
	BusID    string `json:"busId"`
	DriverID string `json:"driverId"`

	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`

	AccuracyMeters float64 `json:"accuracy"`
	SpeedKMH       float64 `json:"speed"`

	CapturedAt time.Time  `json:"timestamp"`
	TripStatus TripStatus `json:"tripStatus"`
}

func (r *LocationReading) GeoPoint() *GeoPoint {
	return &GeoPoint{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}
}
