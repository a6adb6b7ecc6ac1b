package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/chat-service/internal/hub"
)

var errConnClosed = errors.New("connection closed")

// wsConn — hub.Conn поверх gorilla: Send только кладёт кадр в буфер,
// в сокет пишет writePump.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	writeTimeout time.Duration
	pingEvery    time.Duration
	log          *slog.Logger
}

var _ hub.Conn = (*wsConn)(nil)

func newWsConn(conn *websocket.Conn, buffer int, writeTimeout, pingEvery time.Duration, log *slog.Logger) *wsConn {
	return &wsConn{
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingEvery:    pingEvery,
		log:          log,
	}
}

// Send never blocks. A full buffer means the peer is not keeping up: the
// socket is closed so the client reconnects and resyncs.
func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closeLocked()
		return hub.ErrSlowConsumer
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *wsConn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// writePump владеет записью в сокет. Выходит по Close; остаток буфера
// дописывается, затем отправляется close frame.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					if !c.write(websocket.TextMessage, frame) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(c.writeTimeout))
					return
				}
			}
		}
	}
}

func (c *wsConn) write(kind int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		c.log.Debug("ws write failed", "err", err)
		_ = c.Close()
		return false
	}
	return true
}
