package ctdf

// TripStatus is the trip hint sent by the driver client and the value persisted on the bus record.
type TripStatus string

const (
	TripStatusActive TripStatus = "active"
	TripStatusEnded  TripStatus = "ended"
)

// TripState is the derived per-bus tracking state.
type TripState string

const (
	TripStateInactive TripState = "inactive"
	TripStateActive   TripState = "active"
	TripStateEnded    TripState = "ended"
)
