package handlers

import (
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Health reports the status of the gateway and its dependencies
func Health(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		checks, healthy := svc.Health.Check(c.UserContext())

		status := "healthy"
		code := fiber.StatusOK
		if !healthy {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status":  status,
			"service": "donna",
			"checks":  checks,
		})
	}
}
