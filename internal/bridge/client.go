package bridge

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sendTextPath = "/api/v1/message/text"

// Client sends messages through a BlueBubbles server
type Client struct {
	httpClient *resty.Client
	cfg        config.BridgeConfig
	logger     *logrus.Logger
}

type sendTextRequest struct {
	ChatGUID string `json:"chatGuid"`
	TempGUID string `json:"tempGuid"`
	Message  string `json:"message"`
	Method   string `json:"method,omitempty"`
}

type sendTextResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		GUID string `json:"guid"`
	} `json:"data"`
}

// NewClient creates a BlueBubbles client. Sends are retried up to MaxRetries
// times on transport errors, 429 and 5xx.
func NewClient(cfg config.BridgeConfig, logger *logrus.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.ServerURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "Donna/1.0").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait * 8).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &Client{httpClient: client, cfg: cfg, logger: logger}
}

// ChatGUID returns the direct-message chat guid for a handle
func ChatGUID(userID string) string {
	if strings.Contains(userID, ";") {
		return userID
	}
	return "iMessage;-;" + userID
}

// Send delivers text to the user's direct chat
func (c *Client) Send(ctx context.Context, userID, text string) error {
	var result sendTextResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("password", c.cfg.Password).
		SetHeader("Content-Type", "application/json").
		SetBody(sendTextRequest{
			ChatGUID: ChatGUID(userID),
			TempGUID: uuid.New().String(),
			Message:  text,
			Method:   c.cfg.SendMethod,
		}).
		SetResult(&result).
		Post(sendTextPath)

	if err != nil {
		metrics.BridgeSendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: failed to reach bridge: %w", models.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		metrics.BridgeSendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: bridge returned status %d: %s", models.ErrUpstreamUnavailable, resp.StatusCode(), resp.String())
	}

	metrics.BridgeSendsTotal.WithLabelValues("success").Inc()
	c.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"message_guid": result.Data.GUID,
		"attempts":     resp.Request.Attempt,
	}).Debug("Delivered message over bridge")
	return nil
}
