package handlers

import (
	"github.com/A-Ravioli/donna/internal/api/middleware"
	"github.com/A-Ravioli/donna/internal/webhook"
	"github.com/gofiber/fiber/v2"
)

const connectedPage = "Your account is connected. You can close this window and go back to Messages."

// Webhook routes the request through the classifier. Only the listed kinds are
// accepted on this endpoint; the response is sent after the handler finished.
func Webhook(router *webhook.Router, accepts ...webhook.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := router.Route(c.UserContext(), newWebhookRequest(c), accepts...)
		if err != nil {
			return err
		}

		if res.Kind == webhook.KindAuthCallback && c.Method() == fiber.MethodGet {
			return c.Status(fiber.StatusOK).SendString(connectedPage)
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
			"kind":   res.Kind,
			"result": res.Body,
		})
	}
}

func newWebhookRequest(c *fiber.Ctx) webhook.Request {
	return webhook.Request{
		RequestID: middleware.RequestID(c),
		RemoteIP:  c.IP(),
		Signature: c.Get("Stripe-Signature"),
		Code:      c.Query("code"),
		State:     c.Query("state"),
		// fasthttp reuses the body buffer after the handler returns
		Body: append([]byte(nil), c.Body()...),
	}
}
