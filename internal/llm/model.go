package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Model produces assistant replies from a context bundle
type Model struct {
	client *Client
	logger *logrus.Logger
}

// NewModel creates the reply model
func NewModel(client *Client, logger *logrus.Logger) *Model {
	return &Model{client: client, logger: logger}
}

// Invoke asks the model for the next reply. Only the bundle is sent; the model
// never reads the store.
func (m *Model) Invoke(ctx context.Context, bundle *models.ContextBundle) (*models.ModelReply, error) {
	cfg := m.client.cfg
	req := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    buildMessages(cfg.SystemPrompt, bundle),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Tools:       actionTools(),
		User:        bundle.UserID,
	}

	resp, err := m.client.Complete(ctx, "reply", req)
	if err != nil {
		return nil, err
	}

	msg := resp.Choices[0].Message
	reply := &models.ModelReply{
		Text:  strings.TrimSpace(msg.Content),
		Model: resp.Model,
	}

	intent, err := parseIntent(bundle.UserID, msg.ToolCalls)
	if err != nil {
		// A malformed tool call degrades to a plain reply
		m.logger.WithFields(logrus.Fields{
			"user_id": bundle.UserID,
			"error":   err.Error(),
		}).Warn("Ignoring malformed action intent")
	}
	reply.Intent = intent

	return reply, nil
}

func buildMessages(systemPrompt string, bundle *models.ContextBundle) []openai.ChatCompletionMessage {
	var system strings.Builder
	system.WriteString(systemPrompt)

	if bundle.Summary != nil && bundle.Summary.Text != "" {
		system.WriteString("\n\nSummary of the earlier conversation:\n")
		system.WriteString(bundle.Summary.Text)
	}
	if len(bundle.Preferences) > 0 {
		keys := make([]string, 0, len(bundle.Preferences))
		for k := range bundle.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		system.WriteString("\n\nKnown user preferences:")
		for _, k := range keys {
			fmt.Fprintf(&system, "\n- %s: %s", k, bundle.Preferences[k])
		}
	}
	if bundle.SentimentHint != "" && bundle.SentimentHint != models.SentimentNeutral {
		fmt.Fprintf(&system, "\n\nThe user's recent tone has been %s; adjust accordingly.", bundle.SentimentHint)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(bundle.Recent)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system.String(),
	})

	for _, msg := range bundle.Recent {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: messageText(msg)})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: messageText(bundle.NewMessage),
	})
	return messages
}

func messageText(msg models.Message) string {
	if msg.ImageRef == "" {
		return msg.Body
	}
	hint := fmt.Sprintf("[attached image %s]", msg.ImageRef)
	if msg.Body == "" {
		return hint
	}
	return msg.Body + "\n" + hint
}
