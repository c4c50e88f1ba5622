package lastknown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/travigo/bustracker/pkg/config"
	"github.com/travigo/bustracker/pkg/database"
	"github.com/travigo/bustracker/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "last-known",
		Usage: "Durable last known bus locations",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the consumer that persists queued last known locations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "stats-listen",
						Value: ":3333",
						Usage: "listen address of the queue stats server",
					},
				},
				Action: func(c *cli.Context) error {
					trackingConfig, err := config.Load()
					if err != nil {
						return err
					}
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					store := NewCachedStore(NewMongoStore(), redis_client.Client, trackingConfig.LastKnownCacheTTL)

					if _, err := StartConsumer(redis_client.QueueConnection, store); err != nil {
						return err
					}

					go StartStatsServer(c.String("stats-listen"), redis_client.QueueConnection, map[string]Pinger{
						"redis": redis_client.Ping,
						"mongo": database.Ping,
					})

					waitForSignal()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					return nil
				},
			},
			{
				Name:  "cleaner",
				Usage: "run the queue cleaner for the last known queue",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Value: 5 * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					go StartCleaner(redis_client.QueueConnection, c.Duration("interval"))

					waitForSignal()

					return nil
				},
			},
			{
				Name:  "inspect",
				Usage: "print the durable record of a bus",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bus",
						Usage:    "bus identifier",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
					defer cancel()

					record, err := NewMongoStore().LastKnown(ctx, c.String("bus"))
					if err != nil {
						return err
					}

					pretty.Println(record)

					return nil
				},
			},
		},
	}
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	<-signals // wait for signal
	go func() {
		<-signals // hard exit on second signal (in case shutdown gets stuck)
		os.Exit(1)
	}()
}
