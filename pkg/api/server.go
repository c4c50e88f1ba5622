package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/travigo/bustracker/pkg/api/routes"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/relay"
)

type Options struct {
	Relay        *relay.Relay
	Metrics      *metrics.Collector
	HealthChecks map[string]routes.HealthCheck

	// Overrides the driver identity middleware, defaults to DriverIdentity()
	DriverIdentity fiber.Handler
}

func NewApp(options Options) *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())

	webApp.Get("version", routes.APIVersion)
	webApp.Get("health", routes.Health(options.HealthChecks))

	if options.Metrics != nil {
		webApp.Get("metrics", adaptor.HTTPHandler(options.Metrics.Handler()))
	}

	driverIdentity := options.DriverIdentity
	if driverIdentity == nil {
		driverIdentity = DriverIdentity()
	}

	routes.DriverRouter(webApp.Group("/driver", driverIdentity), options.Relay)
	routes.BusLocationRouter(webApp.Group("/bus-location"), options.Relay)
	routes.TrackingRouter(webApp.Group("/ws/tracking"), options.Relay, options.Metrics)

	return webApp
}

func SetupServer(listen string, options Options) error {
	return NewApp(options).Listen(listen)
}
