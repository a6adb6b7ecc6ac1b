package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
)

var (
	ErrGaveUp       = errors.New("reconnect attempts exhausted")
	ErrNotConnected = errors.New("not connected")
)

// Session — одно живое соединение с сервером.
type Session interface {
	Send(ctx context.Context, req ws.Request) error
	// Recv blocks until the next frame or a transport error.
	Recv() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Frame — входящее событие хаба в сыром виде.
type Frame struct {
	Type    hub.EventType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Options struct {
	Dialer Dialer
	Policy Policy
	Logger *slog.Logger

	// OnFrame is called from the read loop for every server event.
	OnFrame func(Frame)
	OnState func(State)
	// Resync runs after every successful reconnect, once groups are rejoined.
	// The server does not replay missed broadcasts.
	Resync func(ctx context.Context) error
	// AdoptServerPolicy заменяет Policy советом из welcome-кадра.
	AdoptServerPolicy bool

	// для тестов
	Sleep func(ctx context.Context, d time.Duration) error
	Delay func(attempt int) time.Duration
}

type Client struct {
	dialer  Dialer
	policy  Policy
	log     *slog.Logger
	onFrame func(Frame)
	onState func(State)
	resync  func(ctx context.Context) error
	adopt   bool
	sleep   func(ctx context.Context, d time.Duration) error
	delay   func(attempt int) time.Duration

	mu      sync.Mutex
	state   State
	attempt int
	session Session
	groups  map[string]struct{}

	reqSeq atomic.Uint64
}

func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		dialer:  opts.Dialer,
		policy:  opts.Policy,
		log:     log.With("component", "chat-client"),
		onFrame: opts.OnFrame,
		onState: opts.OnState,
		resync:  opts.Resync,
		adopt:   opts.AdoptServerPolicy,
		sleep:   opts.Sleep,
		delay:   opts.Delay,
		groups:  make(map[string]struct{}),
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Policy returns the backoff currently in force.
func (c *Client) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

func (c *Client) nextDelay(attempt int) time.Duration {
	if c.delay != nil {
		return c.delay(attempt)
	}
	return c.Policy().jittered(attempt)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt — число неудачных попыток с последнего успешного подключения.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Groups returns the groups that will be rejoined after a reconnect.
func (c *Client) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Run connects and keeps the connection alive until ctx is done or the
// policy gives up. It returns ctx.Err() or an error wrapping ErrGaveUp.
func (c *Client) Run(ctx context.Context) error {
	initial := true
	for {
		sess, err := c.connect(ctx, initial)
		if err != nil {
			return err
		}
		if !initial {
			if err := c.restore(ctx, sess); err != nil {
				c.log.Warn("restore after reconnect failed", "err", err)
				c.drop(sess)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
		}
		initial = false

		stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
		err = c.readLoop(sess)
		stop()
		c.drop(sess)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("connection lost", "err", err)
	}
}

func (c *Client) connect(ctx context.Context, initial bool) (Session, error) {
	c.setState(Reconnecting)

	if initial {
		if sess, err := c.dial(ctx); err == nil {
			return sess, nil
		} else if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil, ctx.Err()
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.Policy().Exhausted(attempt) {
			c.setState(GivingUp)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempt, lastErr)
		}
		d := c.nextDelay(attempt)
		c.log.Debug("reconnect scheduled", "attempt", attempt, "delay", d)
		if err := c.sleep(ctx, d); err != nil {
			c.setState(Disconnected)
			return nil, err
		}

		sess, err := c.dial(ctx)
		if err == nil {
			return sess, nil
		}
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil, ctx.Err()
		}
		lastErr = err
		c.mu.Lock()
		c.attempt = attempt + 1
		c.mu.Unlock()
		c.log.Info("reconnect failed", "attempt", attempt, "err", err)
	}
}

func (c *Client) dial(ctx context.Context) (Session, error) {
	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session = sess
	c.attempt = 0
	c.mu.Unlock()
	c.setState(Connected)
	return sess, nil
}

// restore заново входит во все группы и догоняет пропущенное.
func (c *Client) restore(ctx context.Context, sess Session) error {
	for _, g := range c.Groups() {
		if err := sess.Send(ctx, c.request(ws.TypeJoin, ws.GroupPayload{Group: g})); err != nil {
			return fmt.Errorf("rejoin %q: %w", g, err)
		}
	}
	if c.resync != nil {
		if err := c.resync(ctx); err != nil {
			// данные догонятся при следующем resync, соединение живое
			c.log.Warn("resync failed", "err", err)
		}
	}
	return nil
}

func (c *Client) readLoop(sess Session) error {
	for {
		data, err := sess.Recv()
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("skip malformed frame", "err", err)
			continue
		}
		if f.Type == hub.TypeWelcome && c.adopt {
			c.adoptHint(f.Payload)
		}
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}

func (c *Client) adoptHint(raw json.RawMessage) {
	var w hub.Welcome
	if err := json.Unmarshal(raw, &w); err != nil || w.Reconnect == nil {
		return
	}
	p, ok := PolicyFromHint(*w.Reconnect)
	if !ok {
		c.log.Debug("ignoring invalid reconnect hint", "hint", *w.Reconnect)
		return
	}
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
	c.log.Debug("reconnect policy from server", "base", p.Base, "cap", p.Cap, "max_attempts", p.MaxAttempts)
}

func (c *Client) drop(sess Session) {
	_ = sess.Close()
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	c.mu.Unlock()
	c.setState(Disconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

// Join запоминает группу (для rejoin) и отправляет join.
func (c *Client) Join(ctx context.Context, group string) error {
	if err := c.send(ctx, ws.TypeJoin, ws.GroupPayload{Group: group}); err != nil {
		return err
	}
	c.mu.Lock()
	c.groups[group] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) Leave(ctx context.Context, group string) error {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
	return c.send(ctx, ws.TypeLeave, ws.GroupPayload{Group: group})
}

func (c *Client) SendMessage(ctx context.Context, content string) error {
	return c.send(ctx, ws.TypeSendMessage, ws.SendMessagePayload{Content: content})
}

func (c *Client) ToggleReaction(ctx context.Context, group string, messageID int64, emoji string) error {
	return c.send(ctx, ws.TypeToggleReaction, ws.ToggleReactionPayload{Group: group, MessageID: messageID, Emoji: emoji})
}

func (c *Client) send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(ctx, c.request(typ, payload))
}

func (c *Client) request(typ string, payload any) ws.Request {
	raw, _ := json.Marshal(payload)
	return ws.Request{
		Type:      typ,
		RequestID: strconv.FormatUint(c.reqSeq.Add(1), 10),
		Payload:   raw,
	}
}
