package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event
type EventType string

const (
	EventReceived     EventType = "webhook.received"
	EventClassified   EventType = "webhook.classified"
	EventDispatched   EventType = "webhook.dispatched"
	EventAcknowledged EventType = "webhook.acknowledged"
	EventRejected     EventType = "webhook.rejected"

	EventSubscriptionChanged EventType = "subscription.changed"
	EventCredentialConnected EventType = "credential.connected"
	EventCredentialRevoked   EventType = "credential.revoked"
	EventAdminAction         EventType = "admin.action"
)

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// Event represents an audit event
type Event struct {
	ID        string                 `json:"id"`
	EventType EventType              `json:"event_type"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Result    string                 `json:"result,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sink receives every audit event after it is logged
type Sink interface {
	Write(event *Event)
}

// Service writes audit events as structured log lines
type Service struct {
	logger *logrus.Logger
	sinks  []Sink
}

// NewService creates a new audit service
func NewService(logger *logrus.Logger, sinks ...Sink) *Service {
	return &Service{
		logger: logger,
		sinks:  sinks,
	}
}

// Log records an audit event
func (s *Service) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":      true,
		"audit_id":   event.ID,
		"event_type": event.EventType,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.IPAddress != "" {
		fields["ip"] = event.IPAddress
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.Result != "" {
		fields["result"] = event.Result
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := s.logger.WithContext(ctx).WithFields(fields)
	if event.EventType == EventRejected {
		entry.Warn("audit")
	} else {
		entry.Info("audit")
	}

	for _, sink := range s.sinks {
		sink.Write(event)
	}
	return nil
}

// NewEvent creates an event stamped with a fresh id and time
func NewEvent(eventType EventType, requestID string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		RequestID: requestID,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// MemorySink keeps events in memory, for tests and the debug endpoint
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
	limit  int
}

// NewMemorySink keeps at most limit recent events
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Write stores event, dropping the oldest beyond the limit
func (m *MemorySink) Write(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
}

// Events returns a copy of the stored events, oldest first
func (m *MemorySink) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the stored event types for requestID, oldest first
func (m *MemorySink) Types(requestID string) []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []EventType
	for _, e := range m.events {
		if e.RequestID == requestID {
			types = append(types, e.EventType)
		}
	}
	return types
}
