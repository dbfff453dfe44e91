// Package bus implements the in-process publish bus that fans every market
// event out to all live subscriptions.
//
// Each subscription owns a bounded queue. When a subscriber falls behind, the
// oldest undelivered payload in its queue is discarded to admit the newest:
// live prices are superseded by later ones, so freshness wins over
// completeness. Publishers are never blocked and never see an error.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
)

// DefaultCapacity is the per-subscription queue length used when New is given
// a non-positive capacity.
const DefaultCapacity = 100

// ErrClosed is returned by Subscription.Next once the subscription (or the
// whole bus) has been closed.
var ErrClosed = errors.New("bus: subscription closed")

type Bus struct {
	// mu serialises subscribe/unsubscribe; Publish never takes it.
	mu     sync.Mutex
	subs   atomic.Pointer[[]*Subscription]
	closed atomic.Bool
	nextID atomic.Uint64

	capacity int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		capacity: capacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)
	return b
}

// Publish hands payload to every current subscription. The payload is shared
// between subscribers and must not be modified afterwards. Publish never
// blocks; with no subscribers the payload is simply dropped.
func (b *Bus) Publish(payload []byte) {
	if b.closed.Load() {
		return
	}

	dropped := 0
	for _, s := range *b.subs.Load() {
		if s.q.push(payload) {
			dropped++
		}
	}
	b.metrics.Published(dropped)
}

// Subscribe registers a new subscription that sees every payload published
// from now on. After Close it returns an already-closed subscription.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		id:  b.nextID.Add(1),
		bus: b,
		q:   newRingQueue(b.capacity),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		s.q.close()
		return s
	}

	cur := *b.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	b.subs.Store(&next)

	b.metrics.SetSubscribers(len(next))
	b.logger.Debug("Subscription added", zap.Uint64("sub_id", s.id), zap.Int("subscribers", len(next)))
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.subs.Load()
	next := make([]*Subscription, 0, len(cur))
	for _, other := range cur {
		if other != s {
			next = append(next, other)
		}
	}
	if len(next) == len(cur) {
		return
	}
	b.subs.Store(&next)

	b.metrics.SetSubscribers(len(next))
	b.logger.Debug("Subscription removed",
		zap.Uint64("sub_id", s.id),
		zap.Uint64("dropped", s.q.droppedCount()),
		zap.Int("subscribers", len(next)),
	)
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	return len(*b.subs.Load())
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Swap(true) {
		return
	}
	for _, s := range *b.subs.Load() {
		s.q.close()
	}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)
	b.metrics.SetSubscribers(0)
}

// Subscription is a private delivery queue on the bus. It is owned by a
// single consumer.
type Subscription struct {
	id   uint64
	bus  *Bus
	q    *ringQueue
	once sync.Once
}

func (s *Subscription) ID() uint64 { return s.id }

// Next blocks until a payload is available, the subscription is closed
// (ErrClosed) or ctx is done.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	return s.q.pop(ctx)
}

// TryNext returns the oldest pending payload without blocking.
func (s *Subscription) TryNext() ([]byte, bool) {
	return s.q.tryPop()
}

// Ready is signalled after payloads are queued. A receive may cover several
// payloads, so consumers drain with TryNext after each signal.
func (s *Subscription) Ready() <-chan struct{} { return s.q.ready }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.q.done }

// Len is the number of queued, undelivered payloads.
func (s *Subscription) Len() int { return s.q.len() }

// Dropped is the number of payloads discarded by the overflow policy.
func (s *Subscription) Dropped() uint64 { return s.q.droppedCount() }

// Close removes the subscription from the bus and discards anything still
// queued. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		s.q.close()
	})
}
