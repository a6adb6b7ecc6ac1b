package hub

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

// Observer receives hub lifecycle and delivery notifications. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	GroupCreated()
	GroupRemoved()
	Broadcast(target Target, eventType EventType, d Delivery)
}

// PresenceListener persists online state. Called synchronously from
// AttachPrincipal/Unregister; errors are logged only.
type PresenceListener interface {
	Online(p domain.Principal) error
	Offline(p domain.Principal) error
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
	Presence PresenceListener
}

type Hub struct {
	log      *slog.Logger
	obs      Observer
	presence PresenceListener

	conns  *registry
	groups *groups
}

func New(opts Options) *Hub {
	h := &Hub{
		log:      opts.Logger,
		obs:      opts.Observer,
		presence: opts.Presence,
		conns:    newRegistry(),
		groups:   newGroups(),
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.obs == nil {
		h.obs = nopObserver{}
	}
	h.log = h.log.With("component", "hub")
	return h
}

// Register adds a live socket under id. Reusing a live id fails with
// domain.ErrAlreadyRegistered.
func (h *Hub) Register(id string, conn Conn) (*Connection, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil conn", domain.ErrValidation)
	}
	c, err := h.conns.add(id, conn)
	if err != nil {
		return nil, err
	}
	h.obs.ConnectionOpened()
	h.log.Debug("connection registered", "conn_id", id)
	return c, nil
}

func (h *Hub) Lookup(id string) (*Connection, error) {
	return h.conns.get(id)
}

// AttachPrincipal binds an identity to the connection. Attaching the same
// user again is a no-op; a different user is a conflict. The first attach
// announces UserConnected to everyone.
func (h *Hub) AttachPrincipal(id string, p domain.Principal) error {
	c, err := h.conns.get(id)
	if err != nil {
		return err
	}

	c.announce.Lock()
	defer c.announce.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	case c.principal != nil && c.principal.UserID == p.UserID:
		c.mu.Unlock()
		return nil
	case c.principal != nil:
		c.mu.Unlock()
		return fmt.Errorf("%w: connection %s already bound to user %d", domain.ErrConflict, id, c.principal.UserID)
	}
	pp := p
	c.principal = &pp
	c.mu.Unlock()

	h.announceConnected(p)
	return nil
}

// Unregister removes the connection, evicts it from every group and
// announces UserDisconnected if it was authenticated.
func (h *Hub) Unregister(id string) error {
	c, err := h.conns.remove(id)
	if err != nil {
		return err
	}
	// ждём незавершённый AttachPrincipal: disconnect не обгонит connect
	c.announce.Lock()
	defer c.announce.Unlock()

	c.mu.Lock()
	c.closed = true
	principal := c.principal
	names := make([]string, 0, len(c.groups))
	for g := range c.groups {
		names = append(names, g)
	}
	c.groups = make(map[string]struct{})
	c.mu.Unlock()

	for _, name := range names {
		if h.groups.remove(name, id) {
			h.obs.GroupRemoved()
			h.log.Debug("group removed", "group", name)
		}
	}
	h.obs.ConnectionClosed()
	h.log.Debug("connection unregistered", "conn_id", id, "groups", len(names))

	if principal != nil {
		h.announceDisconnected(*principal)
	}
	return nil
}

// Join adds the connection to group, creating it on first use. joined is
// false when the connection was already a member.
func (h *Hub) Join(group, id string) (joined bool, err error) {
	name, err := normalizeGroup(group)
	if err != nil {
		return false, err
	}
	c, err := h.conns.get(id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if c.principal == nil {
		return false, fmt.Errorf("%w: join requires an authenticated connection", domain.ErrUnauthorized)
	}
	if _, ok := c.groups[name]; ok {
		return false, nil
	}
	c.groups[name] = struct{}{}
	if h.groups.add(name, c) {
		h.obs.GroupCreated()
		h.log.Debug("group created", "group", name)
	}
	return true, nil
}

// Leave removes membership. left is false when the connection was not a member.
func (h *Hub) Leave(group, id string) (left bool, err error) {
	name, err := normalizeGroup(group)
	if err != nil {
		return false, err
	}
	c, err := h.conns.get(id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return false, fmt.Errorf("%w: leave requires an authenticated connection", domain.ErrUnauthorized)
	}
	if _, ok := c.groups[name]; !ok {
		return false, nil
	}
	delete(c.groups, name)
	if h.groups.remove(name, id) {
		h.obs.GroupRemoved()
		h.log.Debug("group removed", "group", name)
	}
	return true, nil
}

// MembersOf returns a sorted snapshot of member connection ids. An unknown
// or invalid group yields an empty slice.
func (h *Hub) MembersOf(group string) []string {
	name, err := normalizeGroup(group)
	if err != nil {
		return []string{}
	}
	return h.groups.memberIDs(name)
}

func (h *Hub) Groups() []string { return h.groups.names() }

func (h *Hub) ConnectionCount() int { return h.conns.len() }

func (h *Hub) GroupCount() int { return h.groups.len() }

// Close unregisters every connection and closes its transport.
func (h *Hub) Close() error {
	var errs []error
	for _, c := range h.conns.snapshot() {
		if err := h.Unregister(c.id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
		}
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()                    {}
func (nopObserver) ConnectionClosed()                    {}
func (nopObserver) GroupCreated()                        {}
func (nopObserver) GroupRemoved()                        {}
func (nopObserver) Broadcast(Target, EventType, Delivery) {}
