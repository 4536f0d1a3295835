package webhook

import (
	"fmt"
	"strings"

	"github.com/A-Ravioli/donna/internal/bridge"
	"github.com/A-Ravioli/donna/internal/models"
)

// Kind is the classified shape of an inbound webhook
type Kind string

const (
	KindBilling      Kind = "billing"
	KindAuthCallback Kind = "auth_callback"
	KindMessage      Kind = "message"
)

// Request is the transport-neutral view of an inbound HTTP event
type Request struct {
	RequestID string
	RemoteIP  string
	// Signature is the Stripe-Signature header value
	Signature string
	Code      string
	State     string
	Body      []byte
}

// Envelope is a classified request. Exactly one of the kind-specific fields is set.
type Envelope struct {
	Kind Kind

	// billing
	Payload   []byte
	Signature string

	// auth callback
	Code  string
	State string

	// message
	Message *bridge.Event
}

// Classify decodes req into exactly one kind, trying billing, then the OAuth
// callback, then a bridge message. Nothing matching is ErrUnclassifiedEvent.
func Classify(req Request) (*Envelope, error) {
	if sig := strings.TrimSpace(req.Signature); sig != "" {
		return &Envelope{Kind: KindBilling, Payload: req.Body, Signature: sig}, nil
	}

	if req.Code != "" && req.State != "" {
		return &Envelope{Kind: KindAuthCallback, Code: req.Code, State: req.State}, nil
	}

	if len(req.Body) > 0 {
		if event, err := bridge.DecodeEvent(req.Body); err == nil {
			return &Envelope{Kind: KindMessage, Message: event}, nil
		}
	}

	return nil, fmt.Errorf("%w: request is not a billing event, oauth callback or message", models.ErrUnclassifiedEvent)
}
