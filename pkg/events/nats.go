package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Conn is the part of a NATS connection the forwarder needs
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// DialNATS connects to url with reconnects enabled
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("keepwarm"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject an event type is published on, e.g.
// keepwarm.events.app.failed
func Subject(prefix string, t EventType) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(t)
}

// Forwarder publishes every broker event as JSON on NATS
type Forwarder struct {
	broker *Broker
	conn   Conn
	prefix string

	mu     sync.Mutex
	sub    Subscriber
	done   chan struct{}
	logger zerolog.Logger
}

// NewForwarder creates a forwarder for broker's events
func NewForwarder(broker *Broker, conn Conn, prefix string) *Forwarder {
	return &Forwarder{
		broker: broker,
		conn:   conn,
		prefix: prefix,
		logger: log.WithComponent("events-nats"),
	}
}

// Start subscribes to the broker
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return
	}
	f.sub = f.broker.Subscribe()
	f.done = make(chan struct{})
	go f.run(f.sub, f.done)
}

// Stop unsubscribes, flushes what was published and closes the connection
func (f *Forwarder) Stop() {
	f.mu.Lock()
	sub, done := f.sub, f.done
	f.sub = nil
	f.mu.Unlock()

	if sub == nil {
		return
	}
	f.broker.Unsubscribe(sub)
	<-done

	if err := f.conn.Flush(); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to flush NATS connection")
	}
	f.conn.Close()
}

func (f *Forwarder) run(sub Subscriber, done chan struct{}) {
	defer close(done)
	for ev := range sub {
		f.forward(ev)
	}
}

func (f *Forwarder) forward(ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to encode event")
		return
	}
	subject := Subject(f.prefix, ev.Type)
	if err := f.conn.Publish(subject, data); err != nil {
		f.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}
	f.logger.Debug().Str("subject", subject).Str("app", ev.App).Msg("Event published")
}
