package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/Haadesx/Saas/cmd/generator/internal/generator"
)

// RecordingWriter keeps every message the sink writes.
type RecordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *RecordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

// FailWith makes later writes return err. A nil err heals the writer.
func (w *RecordingWriter) FailWith(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Messages returns a copy of what has been written so far.
func (w *RecordingWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func (w *RecordingWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// FakeAdmin acts as both the bootstrap broker and the controller.
type FakeAdmin struct {
	Created  []kafka.TopicConfig
	NotReady bool
}

func (a *FakeAdmin) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}

func (a *FakeAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	a.Created = append(a.Created, topics...)
	return nil
}

func (a *FakeAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if a.NotReady {
		return nil, nil
	}
	parts := make([]kafka.Partition, 0, len(topics))
	for _, t := range topics {
		parts = append(parts, kafka.Partition{Topic: t, ID: 0})
	}
	return parts, nil
}

func (a *FakeAdmin) Close() error { return nil }

type FakeDialer struct {
	Admin  *FakeAdmin
	Down   map[string]bool // refused addresses
	Dialed []string
}

func (d *FakeDialer) DialContext(_ context.Context, _, address string) (generator.AdminConn, error) {
	d.Dialed = append(d.Dialed, address)
	if d.Down[address] {
		return nil, errors.New("connection refused")
	}
	if d.Admin == nil {
		d.Admin = &FakeAdmin{}
	}
	return d.Admin, nil
}
