package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MockClient simulates a connected session: Run blocks until ctx is done or
// Close is called.
type MockClient struct {
	IDVal   string
	RunErr  error
	Started chan struct{}

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	once   sync.Once
}

func NewMockClient(id string) *MockClient {
	return &MockClient{
		IDVal:   id,
		Started: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Run(ctx context.Context) error {
	close(m.Started)
	select {
	case <-ctx.Done():
	case <-m.stop:
	}
	return m.RunErr
}

func (m *MockClient) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.once.Do(func() { close(m.stop) })
}

func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// StuckClient ignores Close and cancellation.
type StuckClient struct {
	IDVal   string
	Release chan struct{}
}

func (s *StuckClient) ID() string { return s.IDVal }
func (s *StuckClient) Close()     {}
func (s *StuckClient) Run(context.Context) error {
	<-s.Release
	return nil
}

// Recorder collects published payloads; it satisfies simulator.Publisher.
type Recorder struct {
	mu       sync.Mutex
	Payloads [][]byte
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payloads = append(r.Payloads, payload)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Payloads)
}

func (r *Recorder) Strings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Payloads))
	for i, p := range r.Payloads {
		out[i] = string(p)
	}
	return out
}

// MockKafkaReader replays Messages and then blocks until ctx is done.
type MockKafkaReader struct {
	Messages []kafka.Message
	FailN    int // number of reads that fail before messages are served

	mu     sync.Mutex
	pos    int
	failed int
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if m.failed < m.FailN {
		m.failed++
		m.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if m.pos < len(m.Messages) {
		msg := m.Messages[m.pos]
		m.pos++
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
