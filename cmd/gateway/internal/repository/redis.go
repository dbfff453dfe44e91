package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Compile-time check to ensure RedisStore implements FeedStore
var _ FeedStore = (*RedisStore)(nil)

type RedisStore struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	channels []string
	mu       sync.Mutex // guards pubsub
}

// NewRedisStore subscribes to channels and waits until Redis confirms every
// subscription, so nothing published afterwards is missed.
func NewRedisStore(ctx context.Context, client *redis.Client, channels ...string) (*RedisStore, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("redis feed: no channels configured")
	}

	ps := client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("redis feed subscribe: %w", err)
		}
	}

	return &RedisStore{
		client:   client,
		pubsub:   ps,
		channels: channels,
	}, nil
}

func (r *RedisStore) Channels() []string {
	return r.channels
}

// Publish sends payload to a channel. Used by feed producers and tests.
func (r *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// RunPubSub is a blocking loop that reads messages from Redis and triggers the callback.
// It returns nil when ctx is done and ErrFeedClosed if the subscription is closed.
func (r *RedisStore) RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) error {
	r.mu.Lock()
	ch := r.pubsub.Channel()
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			onMessage(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
