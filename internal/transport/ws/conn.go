package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

type connOptions struct {
	sendQueue int
	writeWait time.Duration
	pongWait  time.Duration
	readLimit int64
}

// wsConn is the registry handle of one websocket. Frames are queued and
// written by writePump, the only writer of the socket.
type wsConn struct {
	ws       *websocket.Conn
	identity string
	opts     connOptions

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, identity string, opts connOptions) *wsConn {
	return &wsConn{
		ws:       ws,
		identity: identity,
		opts:     opts,
		send:     make(chan []byte, opts.sendQueue),
		closed:   make(chan struct{}),
	}
}

// Send enqueues payload without blocking. A full queue means the peer is too
// slow and the frame is refused.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		return errQueueFull
	}
}

// Close sends a close frame and tears the socket down, which also ends the
// read loop. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) pingPeriod() time.Duration {
	return (c.opts.pongWait * 9) / 10
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("ws write failed", "identity", c.identity, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
