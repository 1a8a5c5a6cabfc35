/*
Package events distributes reconciliation and lock events inside a keepwarm
process.

The reconciler publishes one event per outcome (app.started,
app.already_running, app.locked, app.failed), the scheduler publishes
sweep.completed, and the manager publishes app.stopped and lock.cleared.
Subscribers such as the chat-bot notifier receive events on buffered
channels.

Delivery is best effort. Publish never blocks the publisher: when the broker
buffer or a subscriber buffer is full the event is dropped for that
receiver. Events are not persisted.

# NATS

Forwarder republishes every event as JSON on <prefix>.<type>, for example
keepwarm.events.app.failed, so other systems can follow runs without polling
the control surface:

	nc, err := events.DialNATS("nats://localhost:4222")
	if err != nil {
		return err
	}
	fwd := events.NewForwarder(broker, nc, "keepwarm.events")
	fwd.Start()
	defer fwd.Stop()
*/
package events
