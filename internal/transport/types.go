// Package transport defines the outbound delivery contract used by relays.
package transport

import "context"

// Sender delivers one pre-encoded payload to a fixed destination.
//
// Post blocks for at most the implementation's timeout. Implementations do not
// retry; callers decide what to do with a failure.
type Sender interface {
	Post(ctx context.Context, body []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, body []byte) error

func (f SenderFunc) Post(ctx context.Context, body []byte) error { return f(ctx, body) }
