package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/rs/zerolog"
)

// updateTimeout bounds the handling of one update, including any starts it
// triggers
const updateTimeout = 15 * time.Minute

// Backend is the set of manager operations the bot exposes
type Backend interface {
	Status(ctx context.Context, name string) (types.AppStatus, error)
	StatusAll(ctx context.Context) []types.AppStatus
	LockStatus(ctx context.Context, name string) (types.LockStatus, error)
	Locks(ctx context.Context) []types.LockStatus
	Reconcile(ctx context.Context, name string, opts reconciler.Options) (types.Outcome, error)
	ReconcileAll(ctx context.Context, opts reconciler.Options) []types.Outcome
	ClearLock(ctx context.Context, name, day string) (manager.UnlockResult, error)
	ClearAllLocks(ctx context.Context) manager.ClearResult
}

// Sender delivers replies
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, id string) error
}

// Bot handles webhook updates from admin users
type Bot struct {
	sender  Sender
	backend Backend
	admins  map[int64]bool

	// bg is the parent of every update context; Shutdown cancels it
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewBot creates a bot replying through sender. Only adminIDs may use it.
func NewBot(sender Sender, backend Backend, adminIDs []int64) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Bot{
		sender:  sender,
		backend: backend,
		admins:  admins,
		bg:      bg,
		cancel:  cancel,
		logger:  log.WithComponent("telegram"),
	}
}

// IsAdmin reports whether userID may use the bot. With no admins
// configured nobody may.
func (b *Bot) IsAdmin(userID int64) bool {
	return b.admins[userID]
}

// ServeHTTP accepts a webhook update, acknowledges it at once and handles
// it in the background
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to parse update")
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.bg, updateTimeout)
		defer cancel()
		if err := b.HandleUpdate(ctx, update); err != nil {
			b.logger.Error().Err(err).Int64("update_id", update.UpdateID).Msg("Update handling failed")
		}
	}()

	_, _ = w.Write([]byte("OK"))
}

// Wait blocks until every background update has been handled
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Shutdown waits for background updates. Updates still running when ctx
// expires are cancelled, and Shutdown returns once they have unwound.
func (b *Bot) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn().Msg("Cancelling in-flight updates")
		err = ctx.Err()
		b.cancel()
		<-done
	}
	b.cancel()
	return err
}

// HandleUpdate processes one update synchronously
func (b *Bot) HandleUpdate(ctx context.Context, u Update) error {
	switch {
	case u.Message != nil:
		return b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, u.CallbackQuery)
	default:
		return nil
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *Message) error {
	if m.From == nil {
		return nil
	}
	if !b.IsAdmin(m.From.ID) {
		b.logger.Warn().Int64("user_id", m.From.ID).Msg("Rejected non-admin user")
		return b.reply(ctx, m.Chat.ID, deniedText)
	}

	cmd, arg := Command(m.Text)
	return b.command(ctx, m.Chat.ID, cmd, arg)
}

// Callback data sent by inline menu buttons
const (
	cbMainMenu       = "main_menu"
	cbListApps       = "list_apps"
	cbRefresh        = "refresh_status"
	cbNoAction       = "no_action"
	cbUnlockAll      = "unlock_all"
	cbStartAll       = "start_all"
	cbDetailPrefix   = "app_detail_"
	cbUnlockPrefix   = "unlock_"
	cbStartAppPrefix = "startapp_"
)

func (b *Bot) handleCallback(ctx context.Context, q *CallbackQuery) error {
	if q.Message == nil || q.From.ID == 0 {
		b.logger.Warn().Str("callback_id", q.ID).Msg("Invalid callback query")
		return nil
	}
	if err := b.sender.AnswerCallbackQuery(ctx, q.ID); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to answer callback query")
	}

	chatID := q.Message.Chat.ID
	if !b.IsAdmin(q.From.ID) {
		return b.reply(ctx, chatID, deniedText)
	}

	switch data := q.Data; {
	case data == cbMainMenu:
		return b.command(ctx, chatID, "/help", "")
	case data == cbListApps, data == cbRefresh, data == cbNoAction:
		return b.command(ctx, chatID, "/list", "")
	case data == cbUnlockAll:
		return b.command(ctx, chatID, "/unlockall", "")
	case data == cbStartAll:
		return b.command(ctx, chatID, "/runall", "")
	case strings.HasPrefix(data, cbDetailPrefix):
		return b.command(ctx, chatID, "/status", strings.TrimPrefix(data, cbDetailPrefix))
	case strings.HasPrefix(data, cbUnlockPrefix):
		return b.command(ctx, chatID, "/unlock", strings.TrimPrefix(data, cbUnlockPrefix))
	case strings.HasPrefix(data, cbStartAppPrefix):
		return b.command(ctx, chatID, "/run", strings.TrimPrefix(data, cbStartAppPrefix))
	default:
		return b.reply(ctx, chatID, "❌ Unknown action")
	}
}

func (b *Bot) command(ctx context.Context, chatID int64, cmd, arg string) error {
	switch cmd {
	case "/start", "/help":
		return b.reply(ctx, chatID, helpText)
	case "/list":
		return b.reply(ctx, chatID, formatList(b.backend.StatusAll(ctx), b.backend.Locks(ctx)))
	case "/status":
		if arg == "" {
			return b.reply(ctx, chatID, "Usage: /status &lt;app&gt;")
		}
		return b.status(ctx, chatID, arg)
	case "/run":
		if arg == "" {
			return b.reply(ctx, chatID, "Usage: /run &lt;app&gt;")
		}
		return b.run(ctx, chatID, arg)
	case "/runall":
		if err := b.reply(ctx, chatID, "🚀 Starting all apps..."); err != nil {
			return err
		}
		outcomes := b.backend.ReconcileAll(ctx, reconciler.Options{Trigger: types.TriggerTelegram, Force: true})
		return b.reply(ctx, chatID, formatRunAll(outcomes))
	case "/unlock":
		if arg == "" {
			return b.reply(ctx, chatID, "Usage: /unlock &lt;app&gt;")
		}
		res, err := b.backend.ClearLock(ctx, arg, "")
		if err != nil {
			return b.replyError(ctx, chatID, arg, err)
		}
		if !res.Success {
			return b.reply(ctx, chatID, "❌ Failed to unlock <code>"+html.EscapeString(arg)+"</code>")
		}
		return b.reply(ctx, chatID, "✅ <code>"+html.EscapeString(arg)+"</code> unlocked")
	case "/unlockall":
		res := b.backend.ClearAllLocks(ctx)
		return b.reply(ctx, chatID, formatUnlockAll(res))
	default:
		return b.reply(ctx, chatID, "Unknown command, use /help")
	}
}

func (b *Bot) status(ctx context.Context, chatID int64, name string) error {
	st, err := b.backend.Status(ctx, name)
	if err != nil {
		return b.replyError(ctx, chatID, name, err)
	}
	ls, err := b.backend.LockStatus(ctx, name)
	if err != nil {
		return b.replyError(ctx, chatID, name, err)
	}
	return b.reply(ctx, chatID, formatDetail(st, ls))
}

func (b *Bot) run(ctx context.Context, chatID int64, name string) error {
	if err := b.reply(ctx, chatID, "🚀 Starting <code>"+html.EscapeString(name)+"</code>..."); err != nil {
		return err
	}
	out, err := b.backend.Reconcile(ctx, name, reconciler.Options{Trigger: types.TriggerTelegram, Force: true})
	if err != nil {
		return b.replyError(ctx, chatID, name, err)
	}
	return b.reply(ctx, chatID, formatOutcome(out))
}

func (b *Bot) replyError(ctx context.Context, chatID int64, name string, err error) error {
	if errors.Is(err, manager.ErrAppNotFound) {
		return b.reply(ctx, chatID, "❌ App <code>"+html.EscapeString(name)+"</code> not found")
	}
	return b.reply(ctx, chatID, "❌ "+html.EscapeString(err.Error()))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	return b.sender.SendMessage(ctx, chatID, text)
}
