package telegram

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/rs/zerolog"
)

// Notifier forwards failed reconciliations and sweep summaries to every
// admin chat
type Notifier struct {
	sender Sender
	broker *events.Broker
	admins []int64

	mu     sync.Mutex
	sub    events.Subscriber
	done   chan struct{}
	logger zerolog.Logger
}

// NewNotifier creates a notifier for broker's events
func NewNotifier(sender Sender, broker *events.Broker, admins []int64) *Notifier {
	return &Notifier{
		sender: sender,
		broker: broker,
		admins: admins,
		logger: log.WithComponent("telegram-notifier"),
	}
}

// Start subscribes to the broker
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return
	}
	n.sub = n.broker.Subscribe()
	n.done = make(chan struct{})
	go n.run(n.sub, n.done)
}

// Stop unsubscribes and waits for pending notifications
func (n *Notifier) Stop() {
	n.mu.Lock()
	sub, done := n.sub, n.done
	n.sub = nil
	n.mu.Unlock()

	if sub == nil {
		return
	}
	n.broker.Unsubscribe(sub)
	<-done
}

func (n *Notifier) run(sub events.Subscriber, done chan struct{}) {
	defer close(done)
	for ev := range sub {
		text, ok := notification(ev)
		if !ok {
			continue
		}
		n.broadcast(text)
	}
}

func (n *Notifier) broadcast(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range n.admins {
		if err := n.sender.SendMessage(ctx, id, text); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", id).Msg("Failed to send notification")
		}
	}
}

// notification renders the message for an event, if the event warrants one
func notification(ev *events.Event) (string, bool) {
	switch ev.Type {
	case events.EventAppFailed:
		detail := ev.Message
		trigger := ev.Metadata["trigger"]
		if ev.Outcome != nil {
			detail = outcomeDetail(*ev.Outcome)
			trigger = ev.Outcome.Trigger
		}
		return fmt.Sprintf("⚠️ <b>Start failed</b>\n\n<b>App:</b> %s\n<b>Trigger:</b> %s\n<b>Error:</b> %s",
			code(ev.App), html.EscapeString(trigger), html.EscapeString(detail)), true
	case events.EventSweepCompleted:
		if ev.Metadata["failed"] == "0" {
			return "", false
		}
		return "🕛 <b>Daily sweep</b>\n\n" + html.EscapeString(ev.Message), true
	default:
		return "", false
	}
}
