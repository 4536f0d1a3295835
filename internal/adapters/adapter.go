package adapters

import (
	"context"

	"github.com/A-Ravioli/donna/internal/models"
)

// Adapter performs one kind of action against an external service
type Adapter interface {
	Execute(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error)
}

// AdapterFunc lets a plain function act as an Adapter
type AdapterFunc func(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error)

// Execute calls f
func (f AdapterFunc) Execute(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error) {
	return f(ctx, intent)
}

type tokenKey struct{}

// WithToken attaches the user's unsealed access token for the adapter call
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the access token set by the registry
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
