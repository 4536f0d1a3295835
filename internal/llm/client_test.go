package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeOpenAI struct {
	server   *httptest.Server
	calls    atomic.Int32
	requests chan openai.ChatCompletionRequest
}

// newFakeOpenAI serves /v1/chat/completions with handler
func newFakeOpenAI(t *testing.T, handler func(n int32, req openai.ChatCompletionRequest, w http.ResponseWriter)) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{requests: make(chan openai.ChatCompletionRequest, 16)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		select {
		case f.requests <- req:
		default:
		}
		handler(f.calls.Add(1), req, w)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOpenAI) client(t *testing.T, attempts int) *Client {
	t.Helper()
	c, err := NewClient(config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        f.server.URL + "/v1",
		Model:          "gpt-test",
		SummaryModel:   "gpt-summary",
		AnnotateModel:  "gpt-annotate",
		MaxTokens:      100,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		SystemPrompt:   "You are Donna.",
	}, testLogger())
	require.NoError(t, err)
	return c
}

func writeCompletion(w http.ResponseWriter, msg openai.ChatCompletionMessage) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-test",
		Choices: []openai.ChatCompletionChoice{
			{Index: 0, Message: msg, FinishReason: openai.FinishReasonStop},
		},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
}

func TestModelInvokeReturnsText(t *testing.T) {
	fake := newFakeOpenAI(t, func(_ int32, _ openai.ChatCompletionRequest, w http.ResponseWriter) {
		writeCompletion(w, openai.ChatCompletionMessage{Role: "assistant", Content: " Sure thing! "})
	})
	model := NewModel(fake.client(t, 3), testLogger())

	summary := &models.Summary{Text: "User is planning a trip to Lisbon."}
	reply, err := model.Invoke(context.Background(), &models.ContextBundle{
		UserID:        "+15550001",
		Summary:       summary,
		Preferences:   map[string]string{"airline": "TAP"},
		SentimentHint: models.SentimentNegative,
		Recent: []models.Message{
			{Role: models.RoleUser, Body: "hi"},
			{Role: models.RoleAssistant, Body: "hello"},
		},
		NewMessage: models.Message{Role: models.RoleUser, Body: "book it", ImageRef: "att-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure thing!", reply.Text)
	assert.Nil(t, reply.Intent)

	req := <-fake.requests
	require.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[0].Content, "Lisbon")
	assert.Contains(t, req.Messages[0].Content, "airline: TAP")
	assert.Contains(t, req.Messages[0].Content, "negative")
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.Contains(t, req.Messages[3].Content, "att-9")
	assert.Len(t, req.Tools, len(toolSpecs))
}

func TestModelInvokeParsesToolCall(t *testing.T) {
	fake := newFakeOpenAI(t, func(_ int32, _ openai.ChatCompletionRequest, w http.ResponseWriter) {
		writeCompletion(w, openai.ChatCompletionMessage{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{
				{ID: "call_0", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "unknown_tool", Arguments: "{}"}},
				{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{
					Name:      "send_email",
					Arguments: `{"to":"dana@example.com","body":"running late"}`,
				}},
			},
		})
	})
	model := NewModel(fake.client(t, 1), testLogger())

	reply, err := model.Invoke(context.Background(), &models.ContextBundle{
		UserID:     "u1",
		NewMessage: models.Message{Role: models.RoleUser, Body: "tell Dana I'm late"},
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Intent)
	assert.Equal(t, models.IntentSendEmail, reply.Intent.Type)
	assert.Equal(t, "u1", reply.Intent.UserID)
	assert.Equal(t, "dana@example.com", reply.Intent.Params["to"])
}

func TestClientRetries(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		handler   func(n int32, w http.ResponseWriter)
		wantErr   error
		wantCalls int32
	}{
		{
			name:     "recovers after server error",
			attempts: 3,
			handler: func(n int32, w http.ResponseWriter) {
				if n == 1 {
					writeError(w, http.StatusInternalServerError)
					return
				}
				writeCompletion(w, openai.ChatCompletionMessage{Role: "assistant", Content: "ok"})
			},
			wantCalls: 2,
		},
		{
			name:      "gives up after max attempts",
			attempts:  3,
			handler:   func(_ int32, w http.ResponseWriter) { writeError(w, http.StatusBadGateway) },
			wantErr:   models.ErrUpstreamUnavailable,
			wantCalls: 3,
		},
		{
			name:      "client errors are not retried",
			attempts:  3,
			handler:   func(_ int32, w http.ResponseWriter) { writeError(w, http.StatusBadRequest) },
			wantErr:   models.ErrUpstreamUnavailable,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeOpenAI(t, func(n int32, _ openai.ChatCompletionRequest, w http.ResponseWriter) {
				tt.handler(n, w)
			})
			_, err := fake.client(t, tt.attempts).Complete(context.Background(), "test", openai.ChatCompletionRequest{
				Model:    "gpt-test",
				Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, fake.calls.Load())
		})
	}
}

func TestClientDeadlineIsTimeout(t *testing.T) {
	fake := newFakeOpenAI(t, func(_ int32, _ openai.ChatCompletionRequest, w http.ResponseWriter) {
		time.Sleep(200 * time.Millisecond)
		writeCompletion(w, openai.ChatCompletionMessage{Role: "assistant", Content: "late"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fake.client(t, 3).Complete(ctx, "test", openai.ChatCompletionRequest{
		Model:    "gpt-test",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, models.ErrUpstreamTimeout)
}

func TestCircuitBreakerOpens(t *testing.T) {
	cb := NewCircuitBreaker(testLogger())
	for i := 0; i < 5; i++ {
		_ = cb.Execute("reply", func() error { return assert.AnError })
	}

	called := false
	err := cb.Execute("reply", func() error { called = true; return nil })
	assert.True(t, IsOpen(err))
	assert.False(t, called)

	assert.NoError(t, cb.Execute("summarize", func() error { return nil }), "breakers are per operation")
}

func TestPlanAnnotation(t *testing.T) {
	tests := []struct {
		text string
		want AnnotationPlan
	}{
		{text: "ok", want: AnnotationPlan{}},
		{text: "thanks a lot!", want: AnnotationPlan{Sentiment: true}},
		{text: "I love sushi", want: AnnotationPlan{Sentiment: true, Preferences: true}},
		{
			text: "Meeting with Dana Scully at the FBI office in Washington on Monday at 9",
			want: AnnotationPlan{Sentiment: true, Entities: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanAnnotation(tt.text))
		})
	}
}

func TestAnnotate(t *testing.T) {
	fake := newFakeOpenAI(t, func(_ int32, req openai.ChatCompletionRequest, w http.ResponseWriter) {
		writeCompletion(w, openai.ChatCompletionMessage{
			Role:    "assistant",
			Content: `{"sentiment":"Positive","preferences":{"cuisine":"sushi"},"entities":{"person":"ignored"}}`,
		})
	})
	annotator := NewAnnotator(fake.client(t, 1))

	annotation, err := annotator.Annotate(context.Background(), "I love sushi")
	require.NoError(t, err)
	assert.Equal(t, models.SentimentPositive, annotation.Sentiment)
	assert.Equal(t, map[string]string{"cuisine": "sushi"}, annotation.Preferences)
	assert.Nil(t, annotation.Entities, "entities are only kept for long messages")

	req := <-fake.requests
	assert.Equal(t, "gpt-annotate", req.Model)

	annotation, err = annotator.Annotate(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, models.Annotation{}, annotation)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestSummarizeFoldsPreviousSummary(t *testing.T) {
	fake := newFakeOpenAI(t, func(_ int32, _ openai.ChatCompletionRequest, w http.ResponseWriter) {
		writeCompletion(w, openai.ChatCompletionMessage{Role: "assistant", Content: "User wants sushi on Friday."})
	})
	summarizer := NewSummarizer(fake.client(t, 1))

	text, err := summarizer.Summarize(context.Background(), "User lives in Oakland.", []models.Message{
		{Role: models.RoleUser, Body: "sushi friday?"},
		{Role: models.RoleAssistant, Body: "Sounds great"},
	})
	require.NoError(t, err)
	assert.Equal(t, "User wants sushi on Friday.", text)
	assert.Equal(t, "gpt-summary", summarizer.ModelName())

	req := <-fake.requests
	body := req.Messages[1].Content
	assert.True(t, strings.HasPrefix(body, "Current memory:\nUser lives in Oakland."))
	assert.Contains(t, body, "Assistant: Sounds great")
}
