package services

import (
	"context"

	"github.com/A-Ravioli/donna/internal/bridge"
	"github.com/sirupsen/logrus"
)

// InboundOutcome describes how a bridge event was handled
type InboundOutcome struct {
	UserID    string `json:"user_id,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Delivered bool   `json:"delivered"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// InboundService turns bridge events into conversational turns and delivers the replies
type InboundService struct {
	orchestrator *OrchestrationService
	sender       Notifier
	logger       *logrus.Logger
}

// NewInboundService creates the inbound message handler. sender may be nil.
func NewInboundService(orchestrator *OrchestrationService, sender Notifier, logger *logrus.Logger) *InboundService {
	return &InboundService{
		orchestrator: orchestrator,
		sender:       sender,
		logger:       logger,
	}
}

// HandleEvent processes one bridge event. Events other than incoming new
// messages are acknowledged and ignored. A failed delivery is logged; the
// reply is already stored.
func (s *InboundService) HandleEvent(ctx context.Context, event *bridge.Event) (*InboundOutcome, error) {
	if event.Type != bridge.EventNewMessage {
		return &InboundOutcome{Ignored: true}, nil
	}

	data, err := event.Message()
	if err != nil {
		return nil, err
	}
	if data.IsFromMe {
		return &InboundOutcome{Ignored: true}, nil
	}

	userID, inbound, err := data.Inbound()
	if err != nil {
		return nil, err
	}

	reply, err := s.orchestrator.HandleInbound(ctx, userID, inbound)
	if err != nil {
		return nil, err
	}

	outcome := &InboundOutcome{UserID: userID, Reply: reply}
	if s.sender == nil {
		return outcome, nil
	}

	if err := s.sender.Send(ctx, userID, reply); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"guid":    inbound.GUID,
			"error":   err.Error(),
		}).Error("Failed to deliver reply")
		return outcome, nil
	}
	outcome.Delivered = true
	return outcome, nil
}
