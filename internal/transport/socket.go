package transport

import (
	"bufio"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// maxSlowWriteAttempts disconnects a peer after 3 consecutive slow-write
// failures rather than letting an unbounded backlog build up.
const maxSlowWriteAttempts = 3

// socket adapts a raw gobwas/ws connection to pool.Socket and
// heartbeat.Pinger. Data frames and ping/pong control frames funnel through
// writeLoop, the only goroutine that writes them to conn, so the pool/router
// never block on a slow peer and ping/pong frames never interleave with
// in-flight data writes. Close writes the close frame to conn directly.
type socket struct {
	conn       net.Conn
	remoteAddr string
	logger     zerolog.Logger

	send      chan []byte
	ctrl      chan wsutil.Message
	closeOnce sync.Once
	closed    chan struct{}

	slowAttempts int
}

func newSocket(conn net.Conn, sendBuffer int, logger zerolog.Logger) *socket {
	return &socket{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		logger:     logger,
		send:       make(chan []byte, sendBuffer),
		ctrl:       make(chan wsutil.Message, 8),
		closed:     make(chan struct{}),
	}
}

// Send implements pool.Socket. It never blocks: a full buffer marks the peer
// slow and, after maxSlowWriteAttempts, forces a close.
func (s *socket) Send(data []byte) error {
	select {
	case s.send <- data:
		s.slowAttempts = 0
		return nil
	case <-s.closed:
		return net.ErrClosed
	default:
		s.slowAttempts++
		if s.slowAttempts >= maxSlowWriteAttempts {
			_ = s.Close(1008, "slow_client")
		}
		return net.ErrClosed
	}
}

// Ping implements heartbeat.Pinger by queuing a native WebSocket ping control
// frame for writeLoop, the same path data frames take, so it never races a
// concurrent write to conn.
func (s *socket) Ping() error {
	return s.writeControl(ws.OpPing, nil)
}

// Pong queues a native WebSocket pong control frame in reply to a client
// ping, through the same writeLoop-owned path as Ping and Send.
func (s *socket) Pong() error {
	return s.writeControl(ws.OpPong, nil)
}

func (s *socket) writeControl(op ws.OpCode, data []byte) error {
	select {
	case s.ctrl <- wsutil.Message{OpCode: op, Payload: data}:
		return nil
	case <-s.closed:
		return net.ErrClosed
	}
}

// Close implements pool.Socket.
func (s *socket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeMsg := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
		_ = ws.WriteFrame(s.conn, ws.NewCloseFrame(closeMsg))
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr implements pool.Socket.
func (s *socket) RemoteAddr() string { return s.remoteAddr }

// SaturationRatio reports how full the outbound send queue is, sampled by
// the server's periodic buffer-saturation probe.
func (s *socket) SaturationRatio() float64 {
	return float64(len(s.send)) / float64(cap(s.send))
}

// writeLoop is the only goroutine that writes to conn: it drains the send
// queue, batching whatever has queued up since the last flush
// (ws/internal/shared/pump_write.go), and interleaves any queued control
// frame (ping/pong) between batches so pings never race data writes.
func (s *socket) writeLoop() {
	writer := bufio.NewWriter(s.conn)
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := wsutil.WriteServerMessage(writer, ws.OpText, data); err != nil {
				s.logger.Debug().Str("remote_addr", s.remoteAddr).Err(err).Msg("write failed")
				return
			}
			n := len(s.send)
			for i := 0; i < n; i++ {
				data = <-s.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, data); err != nil {
					return
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}
		case ctrl := <-s.ctrl:
			if err := wsutil.WriteServerMessage(writer, ctrl.OpCode, ctrl.Payload); err != nil {
				s.logger.Debug().Str("remote_addr", s.remoteAddr).Err(err).Msg("control write failed")
				return
			}
			if err := writer.Flush(); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
