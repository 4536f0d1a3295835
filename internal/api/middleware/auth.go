package middleware

import (
	"crypto/subtle"

	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/gofiber/fiber/v2"
)

// AdminAuth requires the operator bearer token. With no token configured the
// operator API is disabled.
func AdminAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Operator API is disabled",
			})
		}

		presented := auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization))
		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}
		if !secureEqual(presented, token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals("auth_method", "admin_token")
		return c.Next()
	}
}

// BridgeSecret checks the shared secret the message bridge sends as
// ?password= or X-Bridge-Token. Billing events and OAuth callbacks carry
// their own signatures and pass through.
func BridgeSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		if c.Get("Stripe-Signature") != "" || (c.Query("code") != "" && c.Query("state") != "") {
			return c.Next()
		}

		presented := c.Get("X-Bridge-Token")
		if presented == "" {
			presented = c.Query("password")
		}
		if presented == "" || !secureEqual(presented, secret) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid bridge secret",
			})
		}
		return c.Next()
	}
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
