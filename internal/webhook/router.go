package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sirupsen/logrus"
)

// HandlerFunc processes one classified event and returns the response body
type HandlerFunc func(ctx context.Context, env *Envelope) (interface{}, error)

// Result is the outcome of a routed event
type Result struct {
	Kind Kind
	Body interface{}
}

// Router classifies inbound events and dispatches each to exactly one handler.
// Every state transition is written to the audit log.
type Router struct {
	handlers map[Kind]HandlerFunc
	mu       sync.RWMutex
	audit    audit.Logger
	logger   *logrus.Logger
}

// NewRouter creates a router. auditLog may be nil.
func NewRouter(auditLog audit.Logger, logger *logrus.Logger) *Router {
	return &Router{
		handlers: make(map[Kind]HandlerFunc),
		audit:    auditLog,
		logger:   logger,
	}
}

// Handle registers the handler for kind, replacing any previous one
func (r *Router) Handle(kind Kind, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Route classifies req and dispatches it when its kind is in accepts. The result
// is returned only after the handler finished, so callers respond after the
// handler's side effects are durable.
func (r *Router) Route(ctx context.Context, req Request, accepts ...Kind) (*Result, error) {
	r.record(ctx, req, audit.EventReceived, "", nil)

	env, err := Classify(req)
	if err != nil {
		return nil, r.reject(ctx, req, "", err)
	}
	r.record(ctx, req, audit.EventClassified, env.Kind, nil)

	if !accepted(env.Kind, accepts) {
		err := fmt.Errorf("%w: %s events are not accepted here", models.ErrUnclassifiedEvent, env.Kind)
		return nil, r.reject(ctx, req, env.Kind, err)
	}

	r.mu.RLock()
	fn, ok := r.handlers[env.Kind]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: no handler for %s events", models.ErrUnclassifiedEvent, env.Kind)
		return nil, r.reject(ctx, req, env.Kind, err)
	}

	r.record(ctx, req, audit.EventDispatched, env.Kind, nil)
	body, err := fn(ctx, env)
	if err != nil {
		return nil, r.reject(ctx, req, env.Kind, err)
	}

	r.record(ctx, req, audit.EventAcknowledged, env.Kind, nil)
	metrics.WebhookEventsTotal.WithLabelValues(string(env.Kind), "acknowledged").Inc()
	return &Result{Kind: env.Kind, Body: body}, nil
}

func (r *Router) reject(ctx context.Context, req Request, kind Kind, err error) error {
	r.record(ctx, req, audit.EventRejected, kind, err)

	label := string(kind)
	if label == "" {
		label = "unclassified"
	}
	metrics.WebhookEventsTotal.WithLabelValues(label, "rejected").Inc()

	r.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"kind":       label,
		"error":      err.Error(),
	}).Warn("Webhook rejected")
	return err
}

func (r *Router) record(ctx context.Context, req Request, eventType audit.EventType, kind Kind, err error) {
	if r.audit == nil {
		return
	}
	event := audit.NewEvent(eventType, req.RequestID)
	event.IPAddress = req.RemoteIP
	event.Resource = string(kind)
	if err != nil {
		event.Result = "failure"
		event.Metadata = map[string]interface{}{"error": err.Error()}
	} else {
		event.Result = "success"
	}
	if logErr := r.audit.Log(ctx, event); logErr != nil {
		r.logger.WithError(logErr).Warn("Failed to write audit event")
	}
}

func accepted(kind Kind, accepts []Kind) bool {
	if len(accepts) == 0 {
		return true
	}
	for _, k := range accepts {
		if k == kind {
			return true
		}
	}
	return false
}
