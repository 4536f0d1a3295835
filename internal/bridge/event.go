package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/A-Ravioli/donna/internal/models"
)

// EventNewMessage is the bridge event type for an incoming or outgoing message
const EventNewMessage = "new-message"

// Event is the envelope every bridge webhook delivers
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MessageData is the payload of a new-message event
type MessageData struct {
	GUID                 string       `json:"guid"`
	Text                 string       `json:"text"`
	IsFromMe             bool         `json:"isFromMe"`
	Handle               *Handle      `json:"handle"`
	Chats                []Chat       `json:"chats"`
	Attachments          []Attachment `json:"attachments"`
	ThreadOriginatorGUID string       `json:"threadOriginatorGuid"`
}

type Handle struct {
	Address string `json:"address"`
}

type Chat struct {
	GUID string `json:"guid"`
}

type Attachment struct {
	GUID     string `json:"guid"`
	MimeType string `json:"mimeType"`
}

// DecodeEvent parses a bridge envelope; both type and data are required
func DecodeEvent(body []byte) (*Event, error) {
	var event Event
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("%w: invalid bridge payload: %v", models.ErrValidation, err)
	}
	if event.Type == "" || len(event.Data) == 0 || string(event.Data) == "null" {
		return nil, fmt.Errorf("%w: bridge payload needs type and data", models.ErrValidation)
	}
	return &event, nil
}

// Message decodes the payload of a new-message event
func (e *Event) Message() (*MessageData, error) {
	if e.Type != EventNewMessage {
		return nil, fmt.Errorf("%w: event type %q is not a message", models.ErrValidation, e.Type)
	}
	var data MessageData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: invalid message data: %v", models.ErrValidation, err)
	}
	return &data, nil
}

// Sender returns the handle address of the message author
func (m *MessageData) Sender() string {
	if m.Handle != nil && m.Handle.Address != "" {
		return strings.TrimSpace(m.Handle.Address)
	}
	// Some bridge versions omit the handle; the DM chat guid ends with it
	if len(m.Chats) > 0 {
		if i := strings.LastIndex(m.Chats[0].GUID, ";"); i >= 0 {
			return m.Chats[0].GUID[i+1:]
		}
	}
	return ""
}

// Inbound converts the bridge payload into the gateway's message shape.
// The first image attachment becomes the image reference.
func (m *MessageData) Inbound() (string, models.InboundMessage, error) {
	userID := m.Sender()
	if userID == "" {
		return "", models.InboundMessage{}, fmt.Errorf("%w: message has no sender", models.ErrValidation)
	}

	inbound := models.InboundMessage{GUID: m.GUID, Text: strings.TrimSpace(m.Text)}
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.MimeType, "image/") {
			inbound.ImageRef = att.GUID
			break
		}
	}
	if inbound.Text == "" && inbound.ImageRef == "" {
		return "", models.InboundMessage{}, fmt.Errorf("%w: message has no text or image", models.ErrValidation)
	}
	return userID, inbound, nil
}
