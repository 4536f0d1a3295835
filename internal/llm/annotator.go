package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sashabaranov/go-openai"
)

const (
	minSentimentLength = 10
	minEntityLength    = 50
)

var preferenceKeywords = []string{"prefer", "like", "love", "hate", "favorite", "favourite", "don't like"}

// Annotator extracts sentiment, entities and preferences from user messages
type Annotator struct {
	client *Client
}

// NewAnnotator creates an annotator using the configured annotation model
func NewAnnotator(client *Client) *Annotator {
	return &Annotator{client: client}
}

// AnnotationPlan tells which annotations a message qualifies for
type AnnotationPlan struct {
	Sentiment   bool
	Entities    bool
	Preferences bool
}

// Any reports whether at least one annotation applies
func (p AnnotationPlan) Any() bool {
	return p.Sentiment || p.Entities || p.Preferences
}

// PlanAnnotation decides which annotations are worth a model call for text
func PlanAnnotation(text string) AnnotationPlan {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	plan := AnnotationPlan{
		Sentiment: len(text) >= minSentimentLength,
		Entities:  len(text) > minEntityLength,
	}
	for _, kw := range preferenceKeywords {
		if strings.Contains(lower, kw) {
			plan.Preferences = true
			break
		}
	}
	return plan
}

type annotationResponse struct {
	Sentiment   string            `json:"sentiment"`
	Entities    map[string]string `json:"entities"`
	Preferences map[string]string `json:"preferences"`
}

// Annotate returns the annotations for text. Messages that qualify for nothing
// are not sent to the model.
func (a *Annotator) Annotate(ctx context.Context, text string) (models.Annotation, error) {
	plan := PlanAnnotation(text)
	if !plan.Any() {
		return models.Annotation{}, nil
	}

	var fields []string
	if plan.Sentiment {
		fields = append(fields, `"sentiment": one of "positive", "neutral", "negative"`)
	}
	if plan.Entities {
		fields = append(fields, `"entities": object mapping entity type (person, place, organization, date, time) to the value mentioned`)
	}
	if plan.Preferences {
		fields = append(fields, `"preferences": object mapping a short snake_case topic to the user's stated preference`)
	}
	prompt := "Analyze the user's message and answer with a JSON object containing:\n- " +
		strings.Join(fields, "\n- ") + "\nOmit anything you are unsure about."

	resp, err := a.client.Complete(ctx, "annotate", openai.ChatCompletionRequest{
		Model: a.client.cfg.AnnotateModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
		MaxTokens:   200,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.Annotation{}, err
	}

	var parsed annotationResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return models.Annotation{}, fmt.Errorf("failed to decode annotation: %w", err)
	}

	var annotation models.Annotation
	if plan.Sentiment {
		annotation.Sentiment = models.ParseSentiment(strings.ToLower(parsed.Sentiment))
	}
	if plan.Entities && len(parsed.Entities) > 0 {
		annotation.Entities = parsed.Entities
	}
	if plan.Preferences && len(parsed.Preferences) > 0 {
		annotation.Preferences = parsed.Preferences
	}
	return annotation, nil
}
