package routes

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/realtime/readings"
	"github.com/travigo/bustracker/pkg/realtime/relay"
)

var requestValidator = validator.New()

type endTripRequest struct {
	BusID string `json:"busId" validate:"required"`
}

func DriverRouter(router fiber.Router, tracker *relay.Relay) {
	router.Post("/update-location", func(c *fiber.Ctx) error {
		return updateLocation(c, tracker)
	})
	router.Post("/end-trip", func(c *fiber.Ctx) error {
		return endTrip(c, tracker)
	})
}

func updateLocation(c *fiber.Ctx, tracker *relay.Relay) error {
	var raw readings.RawReading
	if err := c.BodyParser(&raw); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"success": false,
			"reason":  readings.ReasonMalformedInput,
			"message": "Invalid request body",
		})
	}
	raw.DriverID, _ = c.Locals("driver_id").(string)

	reading, err := tracker.UpdateLocation(raw)
	if err != nil {
		var rejected *readings.RejectedError
		if !errors.As(err, &rejected) {
			log.Error().Err(err).Str("bus", raw.BusID).Msg("Failed to update location")

			c.SendStatus(fiber.StatusInternalServerError)
			return c.JSON(fiber.Map{
				"success": false,
				"message": "Failed to update location",
			})
		}

		response := fiber.Map{
			"success": false,
			"reason":  rejected.Reason,
			"message": rejected.Message,
		}
		if rejected.Accuracy != nil {
			response["accuracy"] = *rejected.Accuracy
		}

		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(response)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"location": fiber.Map{
			"lat":       reading.Latitude,
			"lng":       reading.Longitude,
			"accuracy":  reading.AccuracyMeters,
			"speed":     reading.SpeedKMH,
			"timestamp": reading.CapturedAt,
		},
	})
}

func endTrip(c *fiber.Ctx, tracker *relay.Relay) error {
	var request endTripRequest
	if err := c.BodyParser(&request); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := requestValidator.Struct(request); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"success": false,
			"message": "Bus ID is required",
		})
	}

	tracker.EndTrip(request.BusID)

	return c.JSON(fiber.Map{
		"success": true,
	})
}
