package middleware

import (
	"strconv"
	"time"

	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RequestID returns the id assigned by the requestid middleware
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

// RequestLogger logs each request and records its HTTP metrics
func RequestLogger(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			// The error handler has not run yet; report what it will send
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		metrics.RecordRequest(c.Method(), route, strconv.Itoa(status), duration.Seconds())

		entry := logger.WithFields(logrus.Fields{
			"request_id":  RequestID(c),
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"ip":          c.IP(),
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		if status >= fiber.StatusInternalServerError {
			entry.Warn("HTTP request failed")
		} else {
			entry.Debug("HTTP request")
		}
		return err
	}
}
