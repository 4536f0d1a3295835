package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sashabaranov/go-openai"
)

const summarizePrompt = `You maintain a running memory of a text conversation between a user and their assistant.
Rewrite the memory so it includes the new messages. Keep names, dates, commitments, open
requests and stated preferences. Drop small talk. Answer with the memory only, in at most
200 words.`

// Summarizer condenses conversation slices into rolling summaries
type Summarizer struct {
	client *Client
}

// NewSummarizer creates a summarizer using the configured summary model
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// ModelName returns the model recorded on produced summaries
func (s *Summarizer) ModelName() string {
	return s.client.cfg.SummaryModel
}

// Summarize folds messages into the previous summary text
func (s *Summarizer) Summarize(ctx context.Context, previous string, messages []models.Message) (string, error) {
	var transcript strings.Builder
	if previous != "" {
		fmt.Fprintf(&transcript, "Current memory:\n%s\n\n", previous)
	}
	transcript.WriteString("New messages:\n")
	for _, msg := range messages {
		speaker := "User"
		if msg.Role == models.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, messageText(msg))
	}

	resp, err := s.client.Complete(ctx, "summarize", openai.ChatCompletionRequest{
		Model: s.client.cfg.SummaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript.String()},
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty summary", models.ErrUpstreamUnavailable)
	}
	return text, nil
}
