package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/travigo/bustracker/pkg/elastic_client"
	"github.com/travigo/bustracker/pkg/realtime/readings"
)

type LocationRejectionElasticEvent struct {
	Timestamp time.Time

	BusID    string
	DriverID string

	Reason   string
	Message  string
	Accuracy *float64
}

// RejectionRecorder keeps a record of readings that failed validation
type RejectionRecorder interface {
	RecordRejection(raw readings.RawReading, rejected *readings.RejectedError)
}

type ElasticRejectionRecorder struct{}

func (ElasticRejectionRecorder) RecordRejection(raw readings.RawReading, rejected *readings.RejectedError) {
	if !elastic_client.Enabled() {
		return
	}

	currentTime := time.Now()
	yearNumber, weekNumber := currentTime.ISOWeek()
	indexName := fmt.Sprintf("location-rejections-%d-%d", yearNumber, weekNumber)

	elasticEvent, _ := json.Marshal(LocationRejectionElasticEvent{
		Timestamp: currentTime,

		BusID:    raw.BusID,
		DriverID: raw.DriverID,

		Reason:   string(rejected.Reason),
		Message:  rejected.Message,
		Accuracy: rejected.Accuracy,
	})

	elastic_client.IndexRequest(indexName, bytes.NewReader(elasticEvent))
}
