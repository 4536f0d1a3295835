package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(url string) *Client {
	return NewClient(config.BridgeConfig{
		ServerURL:  url,
		Password:   "secret",
		SendMethod: "private-api",
		MaxRetries: 2,
		RetryWait:  time.Millisecond,
		Timeout:    time.Second,
	}, testLogger())
}

func TestSend(t *testing.T) {
	var got sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sendTextPath, r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("password"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":200,"message":"Success","data":{"guid":"msg-1"}}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Send(context.Background(), "+15550001", "hello"))
	assert.Equal(t, "iMessage;-;+15550001", got.ChatGUID)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "private-api", got.Method)
	assert.NotEmpty(t, got.TempGUID)
}

func TestSendRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    func(n int32) int
		wantErr   bool
		wantCalls int32
	}{
		{
			name: "recovers",
			status: func(n int32) int {
				if n == 1 {
					return http.StatusServiceUnavailable
				}
				return http.StatusOK
			},
			wantCalls: 2,
		},
		{
			name:      "bounded",
			status:    func(int32) int { return http.StatusInternalServerError },
			wantErr:   true,
			wantCalls: 3,
		},
		{
			name:      "client error is final",
			status:    func(int32) int { return http.StatusBadRequest },
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status(calls.Add(1)))
				_, _ = w.Write([]byte(`{"status":0,"data":{}}`))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Send(context.Background(), "u", "hi")
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"type":"new-message","data":{"text":"hi"}}`},
		{name: "not json", body: `hello`, wantErr: true},
		{name: "missing type", body: `{"data":{"text":"hi"}}`, wantErr: true},
		{name: "missing data", body: `{"type":"new-message"}`, wantErr: true},
		{name: "null data", body: `{"type":"new-message","data":null}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageInbound(t *testing.T) {
	body := `{"type":"new-message","data":{
		"guid":"g-1","text":"  look at this ","isFromMe":false,
		"handle":{"address":"+15550001"},
		"chats":[{"guid":"iMessage;-;+15550001"}],
		"attachments":[{"guid":"a-pdf","mimeType":"application/pdf"},{"guid":"a-img","mimeType":"image/jpeg"}]
	}}`

	event, err := DecodeEvent([]byte(body))
	require.NoError(t, err)
	data, err := event.Message()
	require.NoError(t, err)

	userID, inbound, err := data.Inbound()
	require.NoError(t, err)
	assert.Equal(t, "+15550001", userID)
	assert.Equal(t, models.InboundMessage{GUID: "g-1", Text: "look at this", ImageRef: "a-img"}, inbound)
}

func TestMessageSenderFallsBackToChat(t *testing.T) {
	data := MessageData{Text: "hi", Chats: []Chat{{GUID: "iMessage;-;me@example.com"}}}
	assert.Equal(t, "me@example.com", data.Sender())

	_, _, err := (&MessageData{Text: "hi"}).Inbound()
	assert.ErrorIs(t, err, models.ErrValidation)

	_, _, err = (&MessageData{Handle: &Handle{Address: "x"}}).Inbound()
	assert.ErrorIs(t, err, models.ErrValidation)
}
