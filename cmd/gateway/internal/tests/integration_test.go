package tests

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/api"
	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/gateway"
	"github.com/Haadesx/Saas/cmd/gateway/internal/hub"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
	"github.com/Haadesx/Saas/cmd/gateway/internal/relay"
	"github.com/Haadesx/Saas/cmd/gateway/internal/repository"
	"github.com/Haadesx/Saas/pkg/models"
	"github.com/Haadesx/Saas/pkg/simulator"
)

const waitFor = 3 * time.Second

type env struct {
	server  *httptest.Server
	bus     *bus.Bus
	hub     *hub.Hub
	metrics *metrics.Metrics
}

func startServer(t *testing.T) *env {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())
	b := bus.New(bus.DefaultCapacity, bus.WithMetrics(m))
	h := hub.NewHub(zap.NewNop(), m)

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Logger:  zap.NewNop(),
		Hub:     h,
		Bus:     b,
		Metrics: m,
		Session: gateway.DefaultOptions(),
		AppName: "Quant-SaaS Backend",
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
		b.Close()
	})
	return &env{server: srv, bus: b, hub: h, metrics: m}
}

// runSources drives the given sources into the bus until the test ends.
func (e *env) runSources(t *testing.T, sources ...simulator.Source) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		simulator.NewRunner(zap.NewNop(), clockwork.NewRealClock(), e.bus, sources...).Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "Failed to connect to websocket")
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.MarketEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)

	var ev models.MarketEvent
	require.NoError(t, json.Unmarshal(msg, &ev), "payload: %s", msg)
	return ev
}

func TestEndToEnd_SubscribeReceivesPriceUpdate(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)

	subMsg := `{"action":"subscribe","symbols":["BTC/USD"],"id":"t1"}`
	require.NoError(t, wsConn.WriteMessage(websocket.TextMessage, []byte(subMsg)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.InboundMessages.WithLabelValues("accepted")) == 1
	}, waitFor, 5*time.Millisecond)

	e.runSources(t, simulator.NewPriceSource(zap.NewNop(), clockwork.NewRealClock(), simulator.NewRealRand(1), simulator.DefaultPriceSymbols, 10*time.Millisecond))

	ev := readEvent(t, wsConn)
	assert.Equal(t, models.EventPriceUpdate, ev.Type)
	assert.Contains(t, simulator.DefaultPriceSymbols, ev.Symbol)
	assert.Equal(t, "simulated", ev.Exchange)
	assert.Greater(t, ev.Price, 0.0)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEndToEnd_SessionsShareTradeSequence(t *testing.T) {
	e := startServer(t)
	first := connectWS(t, e.server.URL)
	second := connectWS(t, e.server.URL)
	require.Eventually(t, func() bool { return e.bus.SubscriberCount() == 2 }, waitFor, 5*time.Millisecond)

	only := []simulator.Instrument{simulator.DefaultInstruments[0]}
	e.runSources(t, simulator.NewBinanceSource(zap.NewNop(), clockwork.NewRealClock(), simulator.NewRealRand(7), only, 10*time.Millisecond))

	const trades = 5
	collect := func(conn *websocket.Conn) []int64 {
		ids := make([]int64, 0, trades)
		for len(ids) < trades {
			ev := readEvent(t, conn)
			require.Equal(t, models.EventTrade, ev.Type)
			require.Equal(t, "BTCUSDT", ev.Symbol)
			require.NotNil(t, ev.Raw)
			ids = append(ids, ev.Raw.TradeID)
		}
		return ids
	}

	a := collect(first)
	b := collect(second)
	assert.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		assert.Equal(t, a[i-1]+1, a[i], "trade ids must be consecutive")
	}
}

func TestEndToEnd_ClientCloseReleasesSubscription(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)

	require.Eventually(t, func() bool { return e.bus.SubscriberCount() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Subscribers))

	require.NoError(t, wsConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	wsConn.Close()

	require.Eventually(t, func() bool {
		return e.bus.SubscriberCount() == 0 && e.hub.Count() == 0
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.Subscribers))

	// Publishing with nobody connected is a no-op.
	assert.NotPanics(t, func() { e.bus.Publish([]byte(`{"type":"trade"}`)) })
}

func TestEndToEnd_MalformedRequestKeepsStreaming(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)
	require.Eventually(t, func() bool { return e.bus.SubscriberCount() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action": `)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(e.metrics.InboundMessages.WithLabelValues("malformed")) == 1
	}, waitFor, 5*time.Millisecond)

	e.bus.Publish([]byte(`{"type":"exchange_status","status":"connected","timestamp":"2024-01-01T00:00:00Z"}`))
	ev := readEvent(t, wsConn)
	assert.Equal(t, models.EventExchangeStatus, ev.Type)
}

func TestEndToEnd_RedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := repository.NewRedisStore(context.Background(), rdb, "market.events")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := startServer(t)
	e.runSources(t, relay.NewRedisSource(store, zap.NewNop()))

	wsConn := connectWS(t, e.server.URL)
	require.Eventually(t, func() bool { return e.bus.SubscriberCount() == 1 }, waitFor, 5*time.Millisecond)

	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.Publish("market.events", `{"type":"trade","symbol":"ETHUSDT","price":3500.5,"timestamp":"2024-01-01T00:00:00Z"}`)
	}()

	ev := readEvent(t, wsConn)
	assert.Equal(t, models.EventTrade, ev.Type)
	assert.Equal(t, "ETHUSDT", ev.Symbol)
	assert.Equal(t, 3500.5, ev.Price)
}

func TestEndToEnd_ShutdownClosesSessions(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)
	require.Eventually(t, func() bool { return e.hub.Count() == 1 }, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, e.hub.Shutdown(ctx))

	require.NoError(t, wsConn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := wsConn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, e.bus.SubscriberCount())

	// New connections are turned away once draining.
	late := connectWS(t, e.server.URL)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
