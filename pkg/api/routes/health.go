package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type HealthCheck func(ctx context.Context) error

func Health(checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Error().Err(err).Str("dependency", name).Msg("Health check failed")

				c.SendStatus(fiber.StatusServiceUnavailable)
				return c.JSON(fiber.Map{
					"status": "unhealthy",
					"error":  name + ": " + err.Error(),
				})
			}
		}

		return c.JSON(fiber.Map{
			"status": "ok",
		})
	}
}
