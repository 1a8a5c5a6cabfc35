package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminID = int64(42)

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
	answered []string
}

func (s *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (s *fakeSender) AnswerCallbackQuery(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered = append(s.answered, id)
	return nil
}

func (s *fakeSender) sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *fakeSender) last(t *testing.T) string {
	t.Helper()
	msgs := s.sent()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Status(ctx context.Context, name string) (types.AppStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(types.AppStatus), args.Error(1)
}

func (m *mockBackend) StatusAll(ctx context.Context) []types.AppStatus {
	args := m.Called(ctx)
	return args.Get(0).([]types.AppStatus)
}

func (m *mockBackend) LockStatus(ctx context.Context, name string) (types.LockStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(types.LockStatus), args.Error(1)
}

func (m *mockBackend) Locks(ctx context.Context) []types.LockStatus {
	args := m.Called(ctx)
	return args.Get(0).([]types.LockStatus)
}

func (m *mockBackend) Reconcile(ctx context.Context, name string, opts reconciler.Options) (types.Outcome, error) {
	args := m.Called(ctx, name, opts)
	return args.Get(0).(types.Outcome), args.Error(1)
}

func (m *mockBackend) ReconcileAll(ctx context.Context, opts reconciler.Options) []types.Outcome {
	args := m.Called(ctx, opts)
	return args.Get(0).([]types.Outcome)
}

func (m *mockBackend) ClearLock(ctx context.Context, name, day string) (manager.UnlockResult, error) {
	args := m.Called(ctx, name, day)
	return args.Get(0).(manager.UnlockResult), args.Error(1)
}

func (m *mockBackend) ClearAllLocks(ctx context.Context) manager.ClearResult {
	args := m.Called(ctx)
	return args.Get(0).(manager.ClearResult)
}

var forceTelegram = reconciler.Options{Trigger: types.TriggerTelegram, Force: true}

func newTestBot() (*Bot, *fakeSender, *mockBackend) {
	sender := &fakeSender{}
	backend := &mockBackend{}
	return NewBot(sender, backend, []int64{adminID}), sender, backend
}

func message(from int64, text string) Update {
	return Update{UpdateID: 1, Message: &Message{
		MessageID: 10,
		From:      &User{ID: from},
		Chat:      Chat{ID: from, Type: "private"},
		Text:      text,
	}}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		text, cmd, arg string
	}{
		{"/run blog", "/run", "blog"},
		{"  /status   shop  extra", "/status", "shop"},
		{"/list@keepwarm_bot", "/list", ""},
		{"hello", "", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		cmd, arg := Command(tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		assert.Equal(t, tt.arg, arg, tt.text)
	}
}

func TestNonAdminDenied(t *testing.T) {
	bot, sender, backend := newTestBot()

	require.NoError(t, bot.HandleUpdate(context.Background(), message(7, "/run blog")))

	assert.Contains(t, sender.last(t), "Permission denied")
	backend.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestNoAdminsConfigured(t *testing.T) {
	sender := &fakeSender{}
	bot := NewBot(sender, &mockBackend{}, nil)

	assert.False(t, bot.IsAdmin(adminID))
	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/help")))
	assert.Contains(t, sender.last(t), "Permission denied")
}

func TestHelp(t *testing.T) {
	bot, sender, _ := newTestBot()

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/start")))
	assert.Contains(t, sender.last(t), "/runall")

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/nope")))
	assert.Equal(t, "Unknown command, use /help", sender.last(t))
}

func TestList(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("StatusAll", mock.Anything).Return([]types.AppStatus{
		{App: "blog", Succeeded: true, State: types.AppStateStarted},
		{App: "shop", Succeeded: true, State: types.AppStateStopped},
		{App: "api", Error: "UAA token error: 401"},
	})
	backend.On("Locks", mock.Anything).Return([]types.LockStatus{
		{App: "blog", Locked: true},
		{App: "shop"},
		{App: "api"},
	})

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/list")))

	text := sender.last(t)
	assert.Contains(t, text, "✅ 🔒 <code>blog</code>")
	assert.Contains(t, text, "❌ 🔑 <code>shop</code>")
	assert.Contains(t, text, "❓ 🔑 <code>api</code>")
	backend.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("Status", mock.Anything, "blog").Return(types.AppStatus{
		App: "blog", Succeeded: true, State: types.AppStateStarted,
		Instances: []types.InstanceStatus{{Index: 0, State: types.InstanceStateRunning}},
	}, nil)
	backend.On("LockStatus", mock.Anything, "blog").Return(types.LockStatus{App: "blog", Locked: true}, nil)
	backend.On("Status", mock.Anything, "ghost").Return(types.AppStatus{}, fmt.Errorf("%w: ghost", manager.ErrAppNotFound))

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/status blog")))
	text := sender.last(t)
	assert.Contains(t, text, "<b>State:</b> ✅ STARTED")
	assert.Contains(t, text, "<b>Lock:</b> 🔒 locked")
	assert.Contains(t, text, "<b>Instances:</b> RUNNING")

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/status ghost")))
	assert.Equal(t, "❌ App <code>ghost</code> not found", sender.last(t))

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/status")))
	assert.Contains(t, sender.last(t), "Usage")
}

func TestRun(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("Reconcile", mock.Anything, "blog", forceTelegram).
		Return(types.Outcome{App: "blog", Succeeded: true, Reason: types.ReasonCompleted}, nil).Once()
	backend.On("Reconcile", mock.Anything, "shop", forceTelegram).
		Return(types.Outcome{App: "shop", Reason: types.ReasonFailed, Error: "App not STARTED in time, state=STOPPED"}, nil).Once()

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/run blog")))
	msgs := sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "🚀 Starting <code>blog</code>...", msgs[0].Text)
	assert.Equal(t, "✅ <code>blog</code> started", msgs[1].Text)

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/run shop")))
	assert.Contains(t, sender.last(t), "failed to start\nError: App not STARTED in time, state=STOPPED")
	backend.AssertExpectations(t)
}

func TestRunAll(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("ReconcileAll", mock.Anything, forceTelegram).Return([]types.Outcome{
		{App: "blog", Succeeded: true, Reason: types.ReasonCompleted},
		{App: "shop", Reason: types.ReasonFailed, Error: "boom"},
	})

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/runall")))

	text := sender.last(t)
	assert.Contains(t, text, "Succeeded: 1/2")
	assert.Contains(t, text, "Failed: 1/2")
	assert.Contains(t, text, "❌ shop: boom")
}

func TestFormatRunAllTruncates(t *testing.T) {
	outcomes := make([]types.Outcome, 12)
	for i := range outcomes {
		outcomes[i] = types.Outcome{App: fmt.Sprintf("app%d", i), Succeeded: true}
	}

	text := formatRunAll(outcomes)
	assert.Contains(t, text, "app9: started")
	assert.NotContains(t, text, "app10")
	assert.Contains(t, text, "... 2 more not shown")
}

func TestUnlock(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("ClearLock", mock.Anything, "blog", "").Return(manager.UnlockResult{App: "blog", Success: true}, nil)
	backend.On("ClearAllLocks", mock.Anything).Return(manager.ClearResult{Cleared: 2, Total: 3})

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/unlock blog")))
	assert.Equal(t, "✅ <code>blog</code> unlocked", sender.last(t))

	require.NoError(t, bot.HandleUpdate(context.Background(), message(adminID, "/unlockall")))
	assert.Equal(t, "✅ Unlocked 2 of 3 apps", sender.last(t))
}

func TestCallbackQuery(t *testing.T) {
	bot, sender, backend := newTestBot()
	backend.On("Reconcile", mock.Anything, "blog", forceTelegram).
		Return(types.Outcome{App: "blog", Succeeded: true, Reason: types.ReasonAlreadyRunning}, nil)

	update := Update{CallbackQuery: &CallbackQuery{
		ID:      "cb-1",
		From:    User{ID: adminID},
		Message: &Message{Chat: Chat{ID: 99}},
		Data:    "startapp_blog",
	}}
	require.NoError(t, bot.HandleUpdate(context.Background(), update))

	assert.Equal(t, []string{"cb-1"}, sender.answered)
	msgs := sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(99), msgs[1].ChatID)
	assert.Equal(t, "✅ <code>blog</code> is already running", msgs[1].Text)

	update.CallbackQuery.Data = "bogus"
	require.NoError(t, bot.HandleUpdate(context.Background(), update))
	assert.Equal(t, "❌ Unknown action", sender.last(t))
}

func TestServeHTTP(t *testing.T) {
	bot, sender, _ := newTestBot()

	rec := httptest.NewRecorder()
	bot.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	bot.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, err := json.Marshal(message(adminID, "/help"))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	bot.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	bot.Wait()
	assert.Contains(t, sender.last(t), "keepwarm")
}

func TestShutdownCancelsInFlightRun(t *testing.T) {
	bot, _, backend := newTestBot()

	started := make(chan struct{})
	backend.On("Reconcile", mock.Anything, "blog", forceTelegram).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(types.Outcome{App: "blog", Reason: types.ReasonFailed, Error: "context canceled"}, nil)

	body, err := json.Marshal(message(adminID, "/run blog"))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	bot.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never reached the backend")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err = bot.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 2*time.Second)
	backend.AssertExpectations(t)
}

func TestShutdownIdle(t *testing.T) {
	bot, _, _ := newTestBot()
	assert.NoError(t, bot.Shutdown(context.Background()))
}

func TestClient(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]interface{}
		path    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		payload = nil
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["chat_id"] == float64(13) {
			_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"url":"https://hook.example.com"}}`))
	}))
	defer srv.Close()

	c := NewClient("123:abc", srv.URL+"/")

	require.NoError(t, c.SendMessage(context.Background(), 42, "<b>hi</b>"))
	mu.Lock()
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "HTML", payload["parse_mode"])
	assert.Equal(t, "<b>hi</b>", payload["text"])
	mu.Unlock()

	err := c.SendMessage(context.Background(), 13, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")

	require.NoError(t, c.SetWebhook(context.Background(), "https://hook.example.com"))
	mu.Lock()
	assert.Equal(t, "/bot123:abc/setWebhook", path)
	mu.Unlock()

	info, err := c.WebhookInfo(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://hook.example.com"}`, string(info))

	assert.Error(t, NewClient("", srv.URL).SendMessage(context.Background(), 1, "x"))
}

func TestNotifier(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sender := &fakeSender{}
	n := NewNotifier(sender, broker, []int64{1, 2})
	n.Start()

	broker.Publish(events.ForOutcome(types.Outcome{App: "blog", Succeeded: true, Reason: types.ReasonCompleted}))
	broker.Publish(events.ForOutcome(types.Outcome{App: "shop", Reason: types.ReasonFailed, Error: "UAA token error: 401", Trigger: types.TriggerCron}))
	broker.Publish(&events.Event{Type: events.EventSweepCompleted, Message: "2/2 apps processed successfully",
		Metadata: map[string]string{"failed": "0"}})

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 10*time.Millisecond)
	n.Stop()

	msgs := sender.sent()
	assert.Equal(t, int64(1), msgs[0].ChatID)
	assert.Equal(t, int64(2), msgs[1].ChatID)
	assert.Contains(t, msgs[0].Text, "<code>shop</code>")
	assert.Contains(t, msgs[0].Text, "<b>Trigger:</b> cron")
	assert.Contains(t, msgs[0].Text, "UAA token error: 401")
}
