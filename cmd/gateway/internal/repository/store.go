package repository

import (
	"context"
	"errors"
)

// ErrFeedClosed is returned by RunPubSub once the store's subscription has
// been closed. The store does not resubscribe, so every later call fails too.
var ErrFeedClosed = errors.New("feed subscription closed")

// FeedStore is an external pub/sub feed of encoded market events.
type FeedStore interface {
	Channels() []string
	Publish(ctx context.Context, channel, payload string) error
	RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) error
	Close() error
}
