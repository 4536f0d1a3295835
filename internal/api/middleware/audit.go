package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/gofiber/fiber/v2"
)

// AuditConfig holds audit middleware configuration
type AuditConfig struct {
	Logger    audit.Logger
	SkipPaths []string // Paths to skip audit logging
}

// AuditMiddleware records one admin.action event per operator API request
func AuditMiddleware(config AuditConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if strings.HasPrefix(path, skipPath) {
				return c.Next()
			}
		}

		startTime := time.Now()
		err := c.Next()
		duration := time.Since(startTime)

		status := c.Response().StatusCode()
		event := audit.NewEvent(audit.EventAdminAction, RequestID(c))
		event.IPAddress = c.IP()
		event.Resource = determineAction(c.Method(), path)
		event.UserID = c.Params("id")
		event.Metadata["method"] = c.Method()
		event.Metadata["path"] = path
		event.Metadata["duration_ms"] = duration.Milliseconds()

		event.Result = "success"
		if err != nil || status >= fiber.StatusBadRequest {
			event.Result = "failure"
			if err != nil {
				event.Metadata["error"] = err.Error()
			} else {
				event.Metadata["error"] = fmt.Sprintf("HTTP %d", status)
			}
		}

		// The request context is recycled by fasthttp once the handler returns
		_ = config.Logger.Log(context.Background(), event)
		return err
	}
}

// determineAction names the operator action from method and path,
// e.g. GET /api/v1/users/:id/messages is "messages.read"
func determineAction(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 {
		resource := parts[2]
		if len(parts) > 4 {
			resource = parts[len(parts)-1]
		}
		switch method {
		case fiber.MethodGet:
			if len(parts) > 3 {
				return fmt.Sprintf("%s.read", resource)
			}
			return fmt.Sprintf("%s.list", resource)
		case fiber.MethodPost:
			return fmt.Sprintf("%s.create", resource)
		case fiber.MethodPut, fiber.MethodPatch:
			return fmt.Sprintf("%s.update", resource)
		case fiber.MethodDelete:
			return fmt.Sprintf("%s.delete", resource)
		}
	}

	return fmt.Sprintf("%s.%s", strings.ToLower(method), path)
}
