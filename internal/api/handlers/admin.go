package handlers

import (
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// GetUser returns a user with preferences and subscription history
func GetUser(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")

		user, err := svc.Store.GetUser(c.UserContext(), userID)
		if err != nil {
			return err
		}
		events, err := svc.Store.SubscriptionEvents(c.UserContext(), userID)
		if err != nil {
			return err
		}
		count, err := svc.Store.MessageCount(c.UserContext(), userID)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"user":                user,
			"message_count":       count,
			"subscription_events": events,
		})
	}
}

// GetUserMessages returns the most recent messages of a user, oldest first
func GetUserMessages(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")

		limit := c.QueryInt("limit", defaultMessageLimit)
		if limit <= 0 {
			limit = defaultMessageLimit
		}
		if limit > maxMessageLimit {
			limit = maxMessageLimit
		}

		if _, err := svc.Store.GetUser(c.UserContext(), userID); err != nil {
			return err
		}
		messages, err := svc.Store.RecentMessages(c.UserContext(), userID, limit)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"user_id":  userID,
			"messages": messages,
			"count":    len(messages),
		})
	}
}

// GetUserSummaries returns the summary lineage of a user, newest first
func GetUserSummaries(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")

		if _, err := svc.Store.GetUser(c.UserContext(), userID); err != nil {
			return err
		}
		summaries, err := svc.Store.Summaries(c.UserContext(), userID)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"user_id":   userID,
			"summaries": summaries,
		})
	}
}
