package relay_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/relay"
	"github.com/Haadesx/Saas/cmd/gateway/internal/repository"
	"github.com/Haadesx/Saas/cmd/gateway/internal/testutils"
	"github.com/Haadesx/Saas/pkg/simulator"
)

func runSource(t *testing.T, run func(ctx context.Context) error) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("source did not stop")
		}
	}
}

func TestRedisSource_RelaysValidJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := repository.NewRedisStore(context.Background(), rdb, "market.events")
	require.NoError(t, err)
	defer store.Close()

	rec := testutils.NewRecorder()
	src := relay.NewRedisSource(store, zap.NewNop())
	assert.Equal(t, "redis", src.Name())

	stop := runSource(t, func(ctx context.Context) error { return src.Run(ctx, rec) })
	defer stop()

	mr.Publish("market.events", `{"type":"trade","symbol":"BTCUSDT"}`)
	mr.Publish("market.events", `not json`)
	mr.Publish("market.events", `{"type":"price_update","symbol":"ETH/USD"}`)

	require.Eventually(t, func() bool { return rec.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		`{"type":"trade","symbol":"BTCUSDT"}`,
		`{"type":"price_update","symbol":"ETH/USD"}`,
	}, rec.Strings())
}

func TestRedisSource_ClosedFeedIsAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := repository.NewRedisStore(context.Background(), rdb, "market.events")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	src := relay.NewRedisSource(store, zap.NewNop())
	err = src.Run(context.Background(), testutils.NewRecorder())
	assert.ErrorIs(t, err, repository.ErrFeedClosed)
	assert.ErrorIs(t, err, simulator.ErrPermanent)
}

func TestRedisSource_ClosedFeedIsRunOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := repository.NewRedisStore(context.Background(), rdb, "market.events")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var restarts atomic.Int32
	r := simulator.NewRunner(zap.NewNop(), clockwork.NewRealClock(), testutils.NewRecorder(), relay.NewRedisSource(store, zap.NewNop()))
	r.RestartDelay = time.Millisecond
	r.OnRestart = func(string) { restarts.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Run(ctx)

	require.NoError(t, ctx.Err(), "runner should stop on its own")
	assert.Zero(t, restarts.Load())
}

func TestKafkaSource_RetriesThenRelays(t *testing.T) {
	reader := &testutils.MockKafkaReader{
		FailN: 2,
		Messages: []kafka.Message{
			{Topic: "market_events", Key: []byte("BTCUSDT"), Value: []byte(`{"type":"trade","symbol":"BTCUSDT"}`)},
			{Topic: "market_events", Offset: 1, Value: []byte(`{broken`)},
			{Topic: "market_events", Offset: 2, Value: []byte(`{"type":"exchange_status"}`)},
		},
	}
	rec := testutils.NewRecorder()

	src := relay.NewKafkaSource(reader, zap.NewNop(), clockwork.NewRealClock())
	src.RetryDelay = time.Millisecond
	assert.Equal(t, "kafka", src.Name())

	stop := runSource(t, func(ctx context.Context) error { return src.Run(ctx, rec) })

	require.Eventually(t, func() bool { return rec.Len() == 2 }, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{
		`{"type":"trade","symbol":"BTCUSDT"}`,
		`{"type":"exchange_status"}`,
	}, rec.Strings())
}

func TestKafkaSource_WaitsRetryDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reader := &testutils.MockKafkaReader{
		FailN:    1,
		Messages: []kafka.Message{{Value: []byte(`{"type":"trade"}`)}},
	}
	rec := testutils.NewRecorder()

	src := relay.NewKafkaSource(reader, zap.NewNop(), clock)
	src.RetryDelay = time.Minute

	stop := runSource(t, func(ctx context.Context) error { return src.Run(ctx, rec) })
	defer stop()

	clock.BlockUntilContext(context.Background(), 1) //nolint:errcheck
	assert.Equal(t, 0, rec.Len())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, 2*time.Second, time.Millisecond)
}
