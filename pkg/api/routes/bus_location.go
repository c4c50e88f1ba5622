package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/travigo/bustracker/pkg/realtime/freshness"
	"github.com/travigo/bustracker/pkg/realtime/relay"
)

func BusLocationRouter(router fiber.Router, tracker *relay.Relay) {
	router.Get("/:busId", func(c *fiber.Ctx) error {
		return getBusLocation(c, tracker)
	})
}

func getBusLocation(c *fiber.Ctx, tracker *relay.Relay) error {
	busID := c.Params("busId")

	result := tracker.Query(c.UserContext(), busID)

	if !result.Found() {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"success": false,
			"status":  result.Status,
			"message": result.Message,
		})
	}

	if result.Status == freshness.StatusActive {
		locationReduced, err := sheriff.Marshal(&sheriff.Options{
			Groups: []string{"detailed"},
		}, result.Location)
		if err != nil {
			return sheriffError(c)
		}

		return c.JSON(fiber.Map{
			"success":  true,
			"status":   result.Status,
			"location": locationReduced,
		})
	}

	response := fiber.Map{
		"success": false,
		"status":  result.Status,
		"message": result.Message,
	}

	if result.LastKnown != nil {
		lastKnownReduced, err := sheriff.Marshal(&sheriff.Options{
			Groups: []string{"basic"},
		}, result.LastKnown)
		if err != nil {
			return sheriffError(c)
		}

		response["lastKnownLocation"] = lastKnownReduced
	}

	return c.JSON(response)
}

func sheriffError(c *fiber.Ctx) error {
	c.SendStatus(fiber.StatusInternalServerError)
	return c.JSON(fiber.Map{
		"success": false,
		"message": "Sherrif could not reduce Location",
	})
}
