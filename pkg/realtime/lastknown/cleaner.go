package lastknown

import (
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
)

// StartCleaner returns deliveries held by dead consumers to the queue every interval
func StartCleaner(connection rmq.Connection, interval time.Duration) {
	cleaner := rmq.NewCleaner(connection)

	log.Info().Msgf("Starting %s queue cleaner", QueueName)

	for range time.Tick(interval) {
		returned, err := cleaner.Clean()
		if err != nil {
			log.Error().Err(err).Msg("Failed to clean")
			continue
		}

		if returned != 0 {
			log.Info().Msgf("Cleaned %d records", returned)
		}
	}
}
