package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// ScriptedReader serves Errs first, then Messages, then blocks until ctx is
// done like an idle topic.
type ScriptedReader struct {
	mu       sync.Mutex
	Errs     []error
	Messages []kafka.Message
	reads    int
}

func (r *ScriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.reads++
	if len(r.Errs) > 0 {
		err := r.Errs[0]
		r.Errs = r.Errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.Messages) > 0 {
		m := r.Messages[0]
		r.Messages = r.Messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

// Reads counts ReadMessage calls, including failed ones.
func (r *ScriptedReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// FailingReader fails every read with Err.
type FailingReader struct {
	Err   error
	reads atomic.Int64
}

func (r *FailingReader) ReadMessage(context.Context) (kafka.Message, error) {
	r.reads.Add(1)
	return kafka.Message{}, r.Err
}

func (r *FailingReader) Reads() int64 { return r.reads.Load() }

// FakeRedis hands out pipelines that record into one shared log. Commands
// only become visible when their pipeline is executed.
type FakeRedis struct {
	mu        sync.Mutex
	execs     int
	cmds      []string
	published map[string][]string
	ttls      map[string]time.Duration
}

func (f *FakeRedis) Pipeline() redis.Pipeliner {
	return &fakePipe{redis: f}
}

func (f *FakeRedis) Execs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs
}

// Commands lists executed commands as "SET <key>" or "PUBLISH <channel>".
func (f *FakeRedis) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

// PublishedOn returns the payloads published to channel, in order.
func (f *FakeRedis) PublishedOn(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published[channel]...)
}

func (f *FakeRedis) TTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

type queued struct {
	cmd     string
	channel string
	key     string
	payload string
	ttl     time.Duration
}

type fakePipe struct {
	redis.Pipeliner // unused methods panic

	redis   *FakeRedis
	pending []queued
}

func (p *fakePipe) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	p.pending = append(p.pending, queued{cmd: "SET", key: key, ttl: expiration})
	return redis.NewStatusCmd(ctx)
}

func (p *fakePipe) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.pending = append(p.pending, queued{cmd: "PUBLISH", channel: channel, payload: fmt.Sprintf("%s", message)})
	return redis.NewIntCmd(ctx)
}

func (p *fakePipe) Exec(context.Context) ([]redis.Cmder, error) {
	f := p.redis
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs++
	for _, q := range p.pending {
		switch q.cmd {
		case "SET":
			f.cmds = append(f.cmds, "SET "+q.key)
			if f.ttls == nil {
				f.ttls = make(map[string]time.Duration)
			}
			f.ttls[q.key] = q.ttl
		case "PUBLISH":
			f.cmds = append(f.cmds, "PUBLISH "+q.channel)
			if f.published == nil {
				f.published = make(map[string][]string)
			}
			f.published[q.channel] = append(f.published[q.channel], q.payload)
		}
	}
	p.pending = nil
	return nil, nil
}
