package tripstate

import "github.com/travigo/bustracker/pkg/ctdf"

type Signal int

const (
	// SignalReading is an accepted reading with an active trip hint
	SignalReading Signal = iota
	// SignalReadingEnded is an accepted reading whose client already reports the trip as ended
	SignalReadingEnded
	// SignalEndTrip is the explicit end-trip call from the driver
	SignalEndTrip
)

func (s Signal) String() string {
	switch s {
	case SignalReading:
		return "reading"
	case SignalReadingEnded:
		return "reading-ended"
	case SignalEndTrip:
		return "end-trip"
	default:
		return "unknown"
	}
}

// SignalFor maps an accepted reading onto its tracker signal
func SignalFor(reading *ctdf.LocationReading) Signal {
	if reading.TripStatus == ctdf.TripStatusEnded {
		return SignalReadingEnded
	}

	return SignalReading
}

// Transition returns the next trip state. Any accepted reading after an ended trip starts a new
// active trip; trip instances are not told apart.
func Transition(current ctdf.TripState, signal Signal) ctdf.TripState {
	switch signal {
	case SignalReading:
		return ctdf.TripStateActive
	case SignalReadingEnded, SignalEndTrip:
		return ctdf.TripStateEnded
	default:
		return current
	}
}
