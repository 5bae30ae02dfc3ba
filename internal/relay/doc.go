// Package relay forwards log events to a chat webhook without letting bursts
// through.
//
// # Dispatch
//
// Relay.Handle is called once per event. Under a FIFO lock it asks the rate
// gate whether the cool-down interval has passed since the last dispatch:
//
//   - outside the cool-down the event is posted on its own by an async task;
//   - inside it the event is queued and a single drainer task is started.
//
// The drainer sleeps one full interval, then empties the queue in chunks of
// BatchSize attachments per POST, pausing BatchPause between full chunks.
//
// # Failure handling
//
// Nothing that goes wrong while encoding or posting reaches the caller of
// Handle. Failures are recorded on the relay's Status (the diagnostic
// channel) and the event is dropped. There is no retry and no flush on
// shutdown.
//
// # Ordering
//
// Events that go through the queue are delivered in arrival order. An event
// sent on its own may arrive after a later, batched one if its POST is slow.
package relay
