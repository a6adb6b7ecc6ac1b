package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

// Conn is the transport side of a live socket. Send must not block: it
// either queues the frame or fails.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Connection is the hub's record of one live socket. It is never persisted.
type Connection struct {
	id          string
	conn        Conn
	connectedAt time.Time

	// announce упорядочивает UserConnected и UserDisconnected одного сокета.
	announce sync.Mutex

	mu        sync.Mutex
	principal *domain.Principal
	groups    map[string]struct{}
	closed    bool
}

func newConnection(id string, conn Conn) *Connection {
	return &Connection{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		groups:      make(map[string]struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) Principal() (domain.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return domain.Principal{}, false
	}
	return *c.principal, true
}

// Groups returns a sorted snapshot of joined group names.
func (c *Connection) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) send(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: send panic: %v", domain.ErrTransport, r)
		}
	}()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: connection %s closed", domain.ErrTransport, c.id)
	}
	if err := c.conn.Send(frame); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	return nil
}

// ErrSlowConsumer is returned by Conn implementations whose outbound queue is full.
var ErrSlowConsumer = errors.New("send buffer full")
