package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/database"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository/sqlstore"
	"github.com/A-Ravioli/donna/internal/userlock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlstore.New(db.DB)
}

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		RecentLimit:        10,
		SummaryThreshold:   10,
		SummaryTokenBudget: 2000,
		SummaryTimeout:     time.Second,
		AnnotateTimeout:    time.Second,
	}
}

func testAssistantConfig() config.AssistantConfig {
	return config.AssistantConfig{
		ReplyTimeout:  time.Second,
		FallbackReply: config.DefaultFallbackReply,
	}
}

// fakeModel echoes the new message, optionally after a delay or with an error
type fakeModel struct {
	mu      sync.Mutex
	calls   int
	bundles []*models.ContextBundle
	delay   time.Duration
	err     error
	reply   func(bundle *models.ContextBundle) *models.ModelReply
}

func (m *fakeModel) Invoke(ctx context.Context, bundle *models.ContextBundle) (*models.ModelReply, error) {
	m.mu.Lock()
	m.calls++
	m.bundles = append(m.bundles, bundle)
	delay, err, reply := m.delay, m.err, m.reply
	m.mu.Unlock()

	if delay > 0 {
		// Ignores ctx so late results can be observed
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if reply != nil {
		return reply(bundle), nil
	}
	return &models.ModelReply{Text: "echo: " + bundle.NewMessage.Body, Model: "fake"}, nil
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeSummarizer struct {
	mu       sync.Mutex
	previous []string
	batches  [][]models.Message
	err      error
}

func (s *fakeSummarizer) Summarize(ctx context.Context, previous string, messages []models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.previous = append(s.previous, previous)
	s.batches = append(s.batches, messages)

	bodies := make([]string, len(messages))
	for i, m := range messages {
		bodies[i] = m.Body
	}
	return fmt.Sprintf("summary %d: %s", len(s.batches), strings.Join(bodies, ",")), nil
}

func (s *fakeSummarizer) ModelName() string { return "fake-summarizer" }

// gatedSummarizer blocks until release is closed
type gatedSummarizer struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *gatedSummarizer) Summarize(ctx context.Context, previous string, messages []models.Message) (string, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return "summary of earlier messages", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *gatedSummarizer) ModelName() string { return "gated-summarizer" }

type fakeAnnotator struct {
	annotation models.Annotation
	err        error
}

func (a *fakeAnnotator) Annotate(ctx context.Context, text string) (models.Annotation, error) {
	return a.annotation, a.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string][]string)
	}
	s.sent[userID] = append(s.sent[userID], text)
	return s.err
}

func (s *fakeSender) Sent(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[userID]...)
}

type fakeDispatcher struct {
	intents []models.ActionIntent
	result  *models.ActionResult
	err     error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error) {
	d.intents = append(d.intents, intent)
	return d.result, d.err
}

type orchestratorFixture struct {
	store      *sqlstore.Store
	model      *fakeModel
	summarizer *fakeSummarizer
	memory     *MemoryManager
	orch       *OrchestrationService
}

func newOrchestratorFixture(t *testing.T, assistant config.AssistantConfig, actions ActionDispatcher) *orchestratorFixture {
	t.Helper()
	logger := testLogger()
	store := newTestStore(t)
	model := &fakeModel{}
	summarizer := &fakeSummarizer{}
	memory := NewMemoryManager(store, summarizer, nil, testMemoryConfig(), logger)
	commands := NewCommandService(store, nil, assistant, logger)
	orch := NewOrchestrationService(store, memory, model, actions, newTestLocker(), commands, assistant, logger)
	t.Cleanup(orch.Wait)

	return &orchestratorFixture{
		store:      store,
		model:      model,
		summarizer: summarizer,
		memory:     memory,
		orch:       orch,
	}
}

func appendMessages(t *testing.T, store *sqlstore.Store, userID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id, err := store.Append(context.Background(), userID, models.Message{Role: models.RoleUser, Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func newTestLocker() *userlock.Locker {
	return userlock.New(time.Minute, nil, testLogger())
}

type stubExchanger struct {
	lastState string
}

func (e *stubExchanger) AuthCodeURL(platform models.Platform, state string) (string, error) {
	e.lastState = state
	return "https://auth.example.com/" + string(platform) + "?state=" + state, nil
}

func (e *stubExchanger) Exchange(ctx context.Context, platform models.Platform, code string) (*oauth2.Token, error) {
	if code != "the-code" {
		return nil, fmt.Errorf("%w: bad code", models.ErrUpstreamUnavailable)
	}
	return &oauth2.Token{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}
