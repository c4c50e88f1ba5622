package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/api"
	"github.com/travigo/bustracker/pkg/realtime/lastknown"
	"github.com/travigo/bustracker/pkg/util"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	util.LoadDotEnv()

	if os.Getenv("BUSTRACKER_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("BUSTRACKER_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "bustracker",
		Description: "Live school bus location relay",

		Commands: []*cli.Command{
			api.RegisterCLI(),
			lastknown.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
