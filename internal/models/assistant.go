package models

// ContextBundle is the only state handed to the model for one turn
type ContextBundle struct {
	UserID        string            `json:"user_id"`
	Summary       *Summary          `json:"summary,omitempty"`
	Recent        []Message         `json:"recent"`
	Preferences   map[string]string `json:"preferences"`
	SentimentHint Sentiment         `json:"sentiment_hint,omitempty"`
	NewMessage    Message           `json:"new_message"`
}

// IntentType names an action the model may ask the gateway to perform
type IntentType string

const (
	IntentSendEmail     IntentType = "send_email"
	IntentScheduleEvent IntentType = "schedule_event"
	IntentBookRide      IntentType = "book_ride"
	IntentOrderFood     IntentType = "order_food"
	IntentPostMessage   IntentType = "post_message"
)

// IntentTypes lists every intent the gateway can dispatch
var IntentTypes = []IntentType{IntentSendEmail, IntentScheduleEvent, IntentBookRide, IntentOrderFood, IntentPostMessage}

// Valid reports whether t is a known intent
func (t IntentType) Valid() bool {
	for _, known := range IntentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Platform returns the credential platform an intent needs
func (t IntentType) Platform() Platform {
	switch t {
	case IntentSendEmail:
		return PlatformEmail
	case IntentScheduleEvent:
		return PlatformCalendar
	case IntentBookRide:
		return PlatformTransport
	case IntentOrderFood:
		return PlatformFood
	default:
		return PlatformMessaging
	}
}

// ActionIntent is a structured directive parsed from model output
type ActionIntent struct {
	Type   IntentType             `json:"type"`
	UserID string                 `json:"user_id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ActionResult is what an integration adapter reports back
type ActionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ModelReply is the model output for one turn
type ModelReply struct {
	Text   string        `json:"text"`
	Intent *ActionIntent `json:"intent,omitempty"`
	Model  string        `json:"model,omitempty"`
}

// Annotation is the opportunistic enrichment of an inbound message
type Annotation struct {
	Sentiment   Sentiment         `json:"sentiment,omitempty"`
	Entities    map[string]string `json:"entities,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// InboundMessage is a user message as received from the messaging bridge
type InboundMessage struct {
	GUID     string `json:"guid"`
	Text     string `json:"text"`
	ImageRef string `json:"image_ref,omitempty"`
}
