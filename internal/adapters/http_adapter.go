package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/go-resty/resty/v2"
)

// HTTPAdapter forwards intents as JSON to a service endpoint that speaks the
// vendor API, authenticating with the user's token.
type HTTPAdapter struct {
	httpClient *resty.Client
	endpoint   string
}

var _ Adapter = (*HTTPAdapter)(nil)

type forwardRequest struct {
	Intent models.IntentType      `json:"intent"`
	UserID string                 `json:"user_id"`
	Params map[string]interface{} `json:"params"`
}

type forwardResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// NewHTTPAdapter creates an adapter posting to endpoint
func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		httpClient: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Donna/1.0"),
		endpoint: endpoint,
	}
}

// Execute posts the intent and maps the response to an action result
func (a *HTTPAdapter) Execute(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error) {
	var result forwardResponse
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetAuthToken(TokenFromContext(ctx)).
		SetHeader("Content-Type", "application/json").
		SetBody(forwardRequest{Intent: intent.Type, UserID: intent.UserID, Params: intent.Params}).
		SetResult(&result).
		Post(a.endpoint)

	if err != nil {
		return nil, fmt.Errorf("%w: %s adapter: %w", models.ErrUpstreamUnavailable, intent.Type, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%w: %s adapter returned status %d", models.ErrUpstreamUnavailable, intent.Type, resp.StatusCode())
	}
	if resp.IsError() {
		return &models.ActionResult{OK: false, Message: fmt.Sprintf("That didn't work (status %d).", resp.StatusCode())}, nil
	}

	msg := result.Message
	if msg == "" {
		msg = "Done."
	}
	return &models.ActionResult{OK: result.OK, Message: msg}, nil
}
