package readings

type Reason string

const (
	ReasonMalformedInput Reason = "MalformedInput"
	ReasonOutOfRange     Reason = "OutOfRange"
	ReasonPoorAccuracy   Reason = "PoorAccuracy"
)

// RejectedError is returned for readings that never reach the Location Store.
// Accuracy is only set for PoorAccuracy so the driver client can display it.
type RejectedError struct {
	Reason   Reason
	Message  string
	Accuracy *float64
}

func (e *RejectedError) Error() string {
	return string(e.Reason) + ": " + e.Message
}

func rejectMalformed(message string) *RejectedError {
	return &RejectedError{
		Reason:  ReasonMalformedInput,
		Message: message,
	}
}
