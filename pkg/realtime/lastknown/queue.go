package lastknown

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/ctdf"
)

const QueueName = "last-known-writes"

const (
	batchSize     = 200
	batchTimeout  = 2 * time.Second
	pollDuration  = 1 * time.Second
	writeDeadline = 30 * time.Second
)

// QueueWriter hands write-throughs to the last-known consumer over rmq instead of writing to
// Mongo from the web process
type QueueWriter struct {
	queue rmq.Queue
}

func NewQueueWriter(connection rmq.Connection) (*QueueWriter, error) {
	queue, err := connection.OpenQueue(QueueName)
	if err != nil {
		return nil, err
	}

	return &QueueWriter{queue: queue}, nil
}

func (q *QueueWriter) WriteLastKnown(_ context.Context, update ctdf.BusLastKnownUpdate) error {
	updateJSON, err := json.Marshal(update)
	if err != nil {
		return err
	}

	return q.queue.PublishBytes(updateJSON)
}

// StartConsumer runs a single batch consumer so updates for a bus are applied in the order they
// were queued
func StartConsumer(connection rmq.Connection, writer BatchWriter) (rmq.Queue, error) {
	log.Info().Msg("Starting last known location consumer")

	queue, err := connection.OpenQueue(QueueName)
	if err != nil {
		return nil, err
	}
	if err := queue.StartConsuming(batchSize, pollDuration); err != nil {
		return nil, err
	}

	if _, err := queue.AddBatchConsumer(QueueName+"-consumer", batchSize, batchTimeout, NewBatchConsumer(writer)); err != nil {
		return nil, err
	}

	return queue, nil
}

type BatchConsumer struct {
	writer BatchWriter
}

func NewBatchConsumer(writer BatchWriter) *BatchConsumer {
	return &BatchConsumer{writer: writer}
}

func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	var updates []ctdf.BusLastKnownUpdate
	var valid rmq.Deliveries

	for _, delivery := range batch {
		var update ctdf.BusLastKnownUpdate
		if err := json.Unmarshal([]byte(delivery.Payload()), &update); err != nil || update.BusID == "" {
			log.Error().Err(err).Str("payload", delivery.Payload()).Msg("Rejecting malformed last known update")

			if err := delivery.Reject(); err != nil {
				log.Error().Err(err).Msg("Failed to reject last known update")
			}
			continue
		}

		updates = append(updates, update)
		valid = append(valid, delivery)
	}

	if len(updates) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeDeadline)
	defer cancel()

	startTime := time.Now()
	err := consumer.writer.WriteLastKnownBatch(ctx, updates)
	log.Debug().Int("Length", len(updates)).Str("Time", time.Since(startTime).String()).Msg("Bulk write")

	if err != nil {
		log.Error().Err(err).Int("Length", len(updates)).Msg("Failed to bulk write last known locations")

		if rejectErrors := valid.Reject(); len(rejectErrors) > 0 {
			for _, err := range rejectErrors {
				log.Error().Err(err).Msg("Failed to reject last known update")
			}
		}
		return
	}

	if ackErrors := valid.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Error().Err(err).Msg("Failed to ack last known update")
		}
	}
}
