package api

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/api/routes"
	"github.com/travigo/bustracker/pkg/config"
	"github.com/travigo/bustracker/pkg/database"
	"github.com/travigo/bustracker/pkg/elastic_client"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/broadcast"
	"github.com/travigo/bustracker/pkg/realtime/lastknown"
	"github.com/travigo/bustracker/pkg/realtime/locationstore"
	"github.com/travigo/bustracker/pkg/realtime/natsmirror"
	"github.com/travigo/bustracker/pkg/realtime/relay"
	"github.com/travigo/bustracker/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

const (
	durableMongo  = "mongo"
	durableMemory = "memory"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "web-api",
		Usage: "Provides the bus tracking web API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
					&cli.StringFlag{
						Name:  "durable",
						Value: durableMongo,
						Usage: "durable last known store, mongo or memory",
					},
				},
				Action: func(c *cli.Context) error {
					trackingConfig, err := config.Load()
					if err != nil {
						return err
					}

					collector := metrics.NewCollector()

					if err := elastic_client.Connect(false); err != nil {
						return err
					}

					var mirrors []broadcast.Mirror
					natsPublisher, err := natsmirror.Connect()
					if err != nil {
						return err
					}
					if natsPublisher != nil {
						defer natsPublisher.Close()
						mirrors = append(mirrors, natsPublisher)
					}

					var writer locationstore.Writer
					var fallback lastknown.Reader
					var active relay.ActiveSource
					healthChecks := map[string]routes.HealthCheck{}

					switch c.String("durable") {
					case durableMongo:
						if err := database.Connect(); err != nil {
							return err
						}
						defer database.Disconnect(context.Background())

						if err := redis_client.Connect(); err != nil {
							return err
						}

						mongoStore := lastknown.NewMongoStore()
						cachedStore := lastknown.NewCachedStore(mongoStore, redis_client.Client, trackingConfig.LastKnownCacheTTL)

						writer = cachedStore
						if trackingConfig.WriteThroughMode == config.WriteThroughQueue {
							writer, err = lastknown.NewQueueWriter(redis_client.QueueConnection)
							if err != nil {
								return err
							}
						}
						fallback = cachedStore
						active = mongoStore

						healthChecks["mongo"] = database.Ping
						healthChecks["redis"] = redis_client.Ping
					case durableMemory:
						memoryStore := lastknown.NewMemoryStore()

						writer = memoryStore
						fallback = memoryStore
						active = memoryStore
					default:
						return fmt.Errorf("unknown durable store %q", c.String("durable"))
					}

					tracker := relay.New(trackingConfig, relay.Dependencies{
						Writer:     writer,
						Fallback:   fallback,
						Rejections: relay.ElasticRejectionRecorder{},
						Mirrors:    mirrors,
						Metrics:    collector,
					})
					defer tracker.Close()

					ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
					if _, err := tracker.Rehydrate(ctx, active); err != nil {
						log.Error().Err(err).Msg("Failed to rehydrate location store")
					}
					cancel()

					return SetupServer(c.String("listen"), Options{
						Relay:        tracker,
						Metrics:      collector,
						HealthChecks: healthChecks,
					})
				},
			},
		},
	}
}
