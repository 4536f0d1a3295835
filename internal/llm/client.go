package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Client wraps the OpenAI chat completion API with retries and circuit breaking
type Client struct {
	api     *openai.Client
	cfg     config.LLMConfig
	breaker *CircuitBreaker
	logger  *logrus.Logger
}

// NewClient creates a new model client
func NewClient(cfg config.LLMConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		breaker: NewCircuitBreaker(logger),
		logger:  logger,
	}, nil
}

// Complete performs one chat completion. Transient failures are retried with
// exponential backoff up to MaxAttempts; the error is ErrUpstreamTimeout or
// ErrUpstreamUnavailable when every attempt fails.
func (c *Client) Complete(ctx context.Context, operation string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	start := time.Now()
	var resp openai.ChatCompletionResponse

	attempt := 0
	op := func() error {
		attempt++
		err := c.breaker.Execute(operation, func() error {
			var err error
			resp, err = c.api.CreateChatCompletion(ctx, req)
			if err == nil && len(resp.Choices) == 0 {
				err = errors.New("empty completion")
			}
			return err
		})
		if err == nil {
			return nil
		}

		c.logger.WithFields(logrus.Fields{
			"operation": operation,
			"model":     req.Model,
			"attempt":   attempt,
			"error":     err.Error(),
		}).Warn("Model request failed")

		if IsOpen(err) || !retryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
	metrics.ObserveModelRequest(operation, start, err)
	if err != nil {
		return resp, classify(ctx, err)
	}
	return resp, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	retries := c.cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// retryable reports whether another attempt might succeed
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
}

// Healthy returns an error while the breaker guarding replies is open
func (c *Client) Healthy(ctx context.Context) error {
	if c.breaker.State("reply") == gobreaker.StateOpen {
		return errors.New("model circuit breaker is open")
	}
	return nil
}
