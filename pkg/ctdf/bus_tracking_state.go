package ctdf

import "time"

// BusTrackingState is the in-memory tracking entry for one bus
type BusTrackingState struct {
	BusID string

	CurrentReading *LocationReading
	TripState      TripState

	LastUpdateAt time.Time
}

func (s *BusTrackingState) HasReading() bool {
	return s != nil && s.CurrentReading != nil
}
