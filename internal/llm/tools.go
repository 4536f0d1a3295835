package llm

import (
	"encoding/json"
	"fmt"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sashabaranov/go-openai"
)

type toolSpec struct {
	intent      models.IntentType
	description string
	properties  map[string]string
	required    []string
}

var toolSpecs = []toolSpec{
	{
		intent:      models.IntentSendEmail,
		description: "Send an email on the user's behalf",
		properties:  map[string]string{"to": "Recipient email address", "subject": "Subject line", "body": "Plain text body"},
		required:    []string{"to", "body"},
	},
	{
		intent:      models.IntentScheduleEvent,
		description: "Create a calendar event",
		properties:  map[string]string{"title": "Event title", "start": "Start time in RFC3339", "end": "End time in RFC3339", "attendees": "Comma separated emails"},
		required:    []string{"title", "start"},
	},
	{
		intent:      models.IntentBookRide,
		description: "Request a ride",
		properties:  map[string]string{"pickup": "Pickup address", "dropoff": "Destination address", "when": "Pickup time, empty for now"},
		required:    []string{"dropoff"},
	},
	{
		intent:      models.IntentOrderFood,
		description: "Order food for delivery",
		properties:  map[string]string{"restaurant": "Restaurant name", "items": "What to order", "address": "Delivery address"},
		required:    []string{"items"},
	},
	{
		intent:      models.IntentPostMessage,
		description: "Post a message to the user's team chat",
		properties:  map[string]string{"channel": "Channel name", "text": "Message text"},
		required:    []string{"channel", "text"},
	},
}

// actionTools describes every supported intent as a function tool
func actionTools() []openai.Tool {
	tools := make([]openai.Tool, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		props := make(map[string]interface{}, len(spec.properties))
		for name, desc := range spec.properties {
			props[name] = map[string]interface{}{"type": "string", "description": desc}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(spec.intent),
				Description: spec.description,
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": props,
					"required":   spec.required,
				},
			},
		})
	}
	return tools
}

// parseIntent turns the first recognised tool call into an action intent
func parseIntent(userID string, calls []openai.ToolCall) (*models.ActionIntent, error) {
	for _, call := range calls {
		if !knownIntent(models.IntentType(call.Function.Name)) {
			continue
		}
		params := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err)
			}
		}
		return &models.ActionIntent{
			Type:   models.IntentType(call.Function.Name),
			UserID: userID,
			Params: params,
		}, nil
	}
	return nil, nil
}

func knownIntent(t models.IntentType) bool {
	for _, spec := range toolSpecs {
		if spec.intent == t {
			return true
		}
	}
	return false
}
