package api

import (
	"errors"

	"github.com/A-Ravioli/donna/internal/api/middleware"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// StatusFor maps an error onto the HTTP status the API answers with
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, models.ErrDuplicateEvent):
		return fiber.StatusOK
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnclassifiedEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrUpstreamTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders handler errors as {"error", "code"}
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		if code >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"request_id": middleware.RequestID(c),
				"path":       c.Path(),
				"code":       code,
				"error":      err.Error(),
			}).Error("Request failed")
		}

		message := err.Error()
		if code == fiber.StatusInternalServerError {
			// Store internals stay in the log
			message = "internal server error"
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
}
