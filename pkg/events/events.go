package events

import (
	"sync"
	"time"

	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventAppStarted        EventType = "app.started"
	EventAppAlreadyRunning EventType = "app.already_running"
	EventAppLocked         EventType = "app.locked"
	EventAppFailed         EventType = "app.failed"
	EventAppStopped        EventType = "app.stopped"
	EventSweepCompleted    EventType = "sweep.completed"
	EventLockCleared       EventType = "lock.cleared"
)

// Event represents something that happened to an application or sweep
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	App       string            `json:"app,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Outcome   *types.Outcome    `json:"outcome,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ForOutcome builds the event describing a reconciliation outcome
func ForOutcome(o types.Outcome) *Event {
	var typ EventType
	switch o.Reason {
	case types.ReasonCompleted:
		typ = EventAppStarted
	case types.ReasonAlreadyRunning:
		typ = EventAppAlreadyRunning
	case types.ReasonLocked:
		typ = EventAppLocked
	default:
		typ = EventAppFailed
	}
	return &Event{
		Type:    typ,
		App:     o.App,
		Message: o.Error,
		Outcome: &o,
		Metadata: map[string]string{
			"trigger": o.Trigger,
			"run_id":  o.RunID,
		},
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Publisher accepts events; a nil Publisher is valid and discards them
type Publisher interface {
	Publish(event *Event)
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. It never blocks on a slow
// subscriber; a full broker buffer drops the event.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
