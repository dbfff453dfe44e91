package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/hub"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
	"github.com/Haadesx/Saas/cmd/gateway/internal/protocol"
)

var (
	ErrMessageTooLarge = errors.New("gateway: message exceeds size limit")
	ErrProtocol        = errors.New("gateway: websocket protocol violation")

	// errPeerClosed ends the read loop on a clean close. It has to be non-nil
	// so the errgroup cancels the write loop.
	errPeerClosed = errors.New("gateway: peer closed connection")
)

// HardMessageLimit caps a client message however Options are set.
const HardMessageLimit int64 = 16 << 20

type Options struct {
	PingPeriod     time.Duration // 0 disables keep-alive pings
	PongWait       time.Duration // 0 disables the read deadline
	WriteWait      time.Duration // 0 disables the write deadline
	MaxMessageSize int64 // 0 or above HardMessageLimit means HardMessageLimit
	InboundRate    float64 // client messages per second; 0 disables limiting
	InboundBurst   int
}

func DefaultOptions() Options {
	return Options{
		PingPeriod:     30 * time.Second,
		MaxMessageSize: 512 * 1024,
		InboundRate:    20,
		InboundBurst:   40,
	}
}

// Session bridges one WebSocket connection to the bus: an inbound loop reads
// control messages and an outbound loop relays the session's subscription.
type Session struct {
	id      string
	conn    net.Conn
	src     io.Reader
	hub     *hub.Hub
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	limiter *rate.Limiter

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ hub.Client = (*Session)(nil)

func NewSession(conn net.Conn, h *hub.Hub, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, opts Options) *Session {
	if opts.MaxMessageSize <= 0 || opts.MaxMessageSize > HardMessageLimit {
		opts.MaxMessageSize = HardMessageLimit
	}
	id := uuid.NewString()
	s := &Session{
		id:      id,
		conn:    conn,
		src:     conn,
		hub:     h,
		bus:     b,
		logger:  logger.With(zap.String("session_id", id), zap.String("remote", conn.RemoteAddr().String())),
		metrics: m,
		opts:    opts,
		closed:  make(chan struct{}),
	}
	if opts.InboundRate > 0 {
		burst := opts.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.InboundRate), burst)
	}
	return s
}

// WithReader makes the session read frames from r instead of the raw
// connection, e.g. the buffered reader returned by the upgrade.
func (s *Session) WithReader(r io.Reader) *Session {
	if r != nil {
		s.src = r
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Close ends the session from outside. Run returns nil afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Run subscribes to the bus and serves the connection until the peer goes
// away, a transport error occurs, Close is called or ctx is done. Both loops
// have exited, the subscription is released and the connection is closed by
// the time Run returns. A clean shutdown returns nil.
func (s *Session) Run(ctx context.Context) error {
	sub := s.bus.Subscribe()
	defer sub.Close()
	defer s.conn.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Cancelling the scope must also unblock a read in progress.
	stop := context.AfterFunc(gctx, func() {
		sub.Close()
		_ = s.conn.Close()
	})
	defer stop()

	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx, sub) })

	err := g.Wait()

	select {
	case <-s.closed:
		return nil
	default:
	}
	switch {
	case err == nil,
		errors.Is(err, errPeerClosed),
		errors.Is(err, bus.ErrClosed),
		errors.Is(err, context.Canceled):
		s.logger.Debug("Session loops stopped", zap.NamedError("cause", err))
		return nil
	}
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	var (
		message    []byte
		collecting bool
	)

	for {
		s.extendReadDeadline()

		header, err := ws.ReadHeader(s.src)
		if err != nil {
			return s.readError(ctx, err)
		}

		state := ws.StateServerSide
		if collecting {
			state |= ws.StateFragmented
		}
		if err := ws.CheckHeader(header, state); err != nil {
			s.logger.Warn("Protocol violation", zap.Error(err), zap.Uint8("opcode", uint8(header.OpCode)))
			_ = s.writeClose(ws.StatusProtocolError)
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}

		if int64(len(message))+header.Length > s.opts.MaxMessageSize {
			s.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			_ = s.writeClose(ws.StatusMessageTooBig)
			return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, header.Length)
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(s.src, payload); err != nil {
			return s.readError(ctx, err)
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			code := ws.StatusNormalClosure
			if len(payload) >= 2 {
				code, _ = ws.ParseCloseFrameData(payload)
			}
			_ = s.writeClose(code)
			return errPeerClosed

		case ws.OpPing:
			if err := s.writeFrame(ws.OpPong, payload); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}

		case ws.OpPong:
			// deadline already extended

		case ws.OpText:
			if collecting {
				return fmt.Errorf("%w: text frame inside fragmented message", ErrProtocol)
			}
			if !header.Fin {
				message, collecting = payload, true
				continue
			}
			s.handleMessage(payload)

		case ws.OpContinuation:
			if !collecting {
				return fmt.Errorf("%w: unexpected continuation frame", ErrProtocol)
			}
			message = append(message, payload...)
			if header.Fin {
				s.handleMessage(message)
				message, collecting = nil, false
			}

		case ws.OpBinary:
			s.metrics.Inbound("ignored")
			s.logger.Debug("Ignoring binary frame", zap.Int64("size", header.Length))
		}
	}
}

// readError maps a failed read to the loop's result.
func (s *Session) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return errPeerClosed
	}
	return fmt.Errorf("read: %w", err)
}

func (s *Session) handleMessage(payload []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.Inbound("limited")
		s.logger.Warn("Client message rate exceeded, dropping message")
		return
	}

	var req protocol.ClientRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.metrics.Inbound("malformed")
		s.logger.Warn("Invalid JSON from client", zap.Error(err))
		return
	}

	for i, sym := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	s.hub.HandleCommand(s, req)
}

func (s *Session) writeLoop(ctx context.Context, sub *bus.Subscription) error {
	var pings <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sub.Done():
			return bus.ErrClosed

		case <-sub.Ready():
			for {
				msg, ok := sub.TryNext()
				if !ok {
					break
				}
				if err := s.writeFrame(ws.OpText, msg); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}

		case <-pings:
			if err := s.writeFrame(ws.OpPing, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// writeFrame serialises writes from both loops onto the connection.
func (s *Session) writeFrame(op ws.OpCode, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.opts.WriteWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	}
	return wsutil.WriteServerMessage(s.conn, op, payload)
}

func (s *Session) writeClose(code ws.StatusCode) error {
	return s.writeFrame(ws.OpClose, ws.NewCloseFrameBody(code, ""))
}

func (s *Session) extendReadDeadline() {
	if s.opts.PongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	}
}
