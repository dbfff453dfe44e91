package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
)

func drain(t *testing.T, sub *bus.Subscription) []string {
	t.Helper()
	var out []string
	for {
		p, ok := sub.TryNext()
		if !ok {
			return out
		}
		out = append(out, string(p))
	}
}

func TestBus_FanOutToEverySubscriber(t *testing.T) {
	b := bus.New(16)
	subs := make([]*bus.Subscription, 5)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))
	b.Publish([]byte("c"))

	for i, sub := range subs {
		assert.Equal(t, []string{"a", "b", "c"}, drain(t, sub), "subscriber %d", i)
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bus.New(4, bus.WithMetrics(m))

	assert.NotPanics(t, func() { b.Publish([]byte("nobody")) })
	assert.Equal(t, 0, b.SubscriberCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishedTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DroppedTotal))
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	b := bus.New(4)
	b.Publish([]byte("before"))

	sub := b.Subscribe()
	b.Publish([]byte("after"))

	assert.Equal(t, []string{"after"}, drain(t, sub))
}

func TestBus_OverflowKeepsMostRecent(t *testing.T) {
	const capacity, extra = 10, 7

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bus.New(capacity, bus.WithMetrics(m))
	sub := b.Subscribe()

	for i := 0; i < capacity+extra; i++ {
		b.Publish([]byte(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, capacity, sub.Len())
	assert.Equal(t, uint64(extra), sub.Dropped())

	var want []string
	for i := extra; i < capacity+extra; i++ {
		want = append(want, fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, want, drain(t, sub))
	assert.Equal(t, float64(extra), testutil.ToFloat64(m.DroppedTotal))
}

func TestBus_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := bus.New(2)
	slow := b.Subscribe()
	fast := b.Subscribe()

	var got []string
	for i := 0; i < 5; i++ {
		b.Publish([]byte(fmt.Sprintf("m%d", i)))
		got = append(got, drain(t, fast)...)
	}

	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, got)
	assert.Equal(t, []string{"m3", "m4"}, drain(t, slow))
}

func TestBus_DefaultCapacity(t *testing.T) {
	b := bus.New(0)
	sub := b.Subscribe()
	for i := 0; i < bus.DefaultCapacity+1; i++ {
		b.Publish([]byte("x"))
	}
	assert.Equal(t, bus.DefaultCapacity, sub.Len())
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bus.New(4, bus.WithMetrics(m))
	sub := b.Subscribe()
	other := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Subscribers))

	b.Publish([]byte("pending"))
	sub.Close()
	sub.Close()

	b.Publish([]byte("later"))

	assert.Equal(t, 1, b.SubscriberCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, 0, sub.Len())
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)
	assert.Equal(t, []string{"pending", "later"}, drain(t, other))
}

func TestSubscription_NextBlocksUntilPublish(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish([]byte("tick"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tick", string(p))
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscription_CloseWakesWaiter(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, bus.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestBus_Close(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()

	b.Close()
	b.Publish([]byte("ignored"))

	assert.Equal(t, 0, b.SubscriberCount())
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)

	late := b.Subscribe()
	_, err = late.Next(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_ConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	// Run with `go test -race ./...`
	b := bus.New(8)
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.Publish([]byte("x"))
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := b.Subscribe()
				sub.TryNext()
				sub.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_PerSubscriberOrderUnderConcurrentReaders(t *testing.T) {
	const n = 200
	b := bus.New(n)
	subs := []*bus.Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	var wg sync.WaitGroup
	results := make([][]string, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *bus.Subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for len(results[i]) < n {
				p, err := sub.Next(ctx)
				if err != nil {
					return
				}
				results[i] = append(results[i], string(p))
			}
		}(i, sub)
	}

	for i := 0; i < n; i++ {
		b.Publish([]byte(fmt.Sprintf("%03d", i)))
	}
	wg.Wait()

	for i := range subs {
		require.Len(t, results[i], n)
		for j := 1; j < n; j++ {
			assert.Less(t, results[i][j-1], results[i][j])
		}
	}
}
