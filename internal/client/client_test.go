package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
)

type fakeSession struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []ws.Request
}

func newFakeSession() *fakeSession {
	return &fakeSession{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeSession) Send(_ context.Context, req ws.Request) error {
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeSession) Recv() ([]byte, error) {
	select {
	case b, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-s.closed:
		return nil, io.ErrClosedPipe
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// drop имитирует обрыв со стороны сервера.
func (s *fakeSession) drop() { close(s.in) }

func (s *fakeSession) requests() []ws.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ws.Request(nil), s.sent...)
}

// fakeDialer отдаёт сессии/ошибки по сценарию; после конца сценария — ошибка.
type fakeDialer struct {
	mu     sync.Mutex
	script []any // *fakeSession | error
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.script[0]
	d.script = d.script[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*fakeSession), nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
	sleeps []time.Duration
	frames []Frame
}

func (r *recorder) onState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) onFrame(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) snapshot() ([]State, []time.Duration, []Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]time.Duration(nil), r.sleeps...), append([]Frame(nil), r.frames...)
}

func newTestClient(d Dialer, p Policy, rec *recorder, resync func(context.Context) error) *Client {
	return New(Options{
		Dialer:  d,
		Policy:  p,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnFrame: rec.onFrame,
		OnState: rec.onState,
		Resync:  resync,
		Sleep:   rec.sleep,
		Delay:   p.Delay,
	})
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestClient_ReconnectRejoinsAndResyncs(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	d := &fakeDialer{script: []any{first, errors.New("refused"), errors.New("refused"), second}}
	rec := &recorder{}

	var resyncs sync.WaitGroup
	resyncs.Add(1)
	c := newTestClient(d, Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}, rec, func(context.Context) error {
		resyncs.Done()
		return nil
	})
	cancel, done := runClient(t, c)

	require.Eventually(t, func() bool { return c.State() == Connected }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Join(context.Background(), "room"))
	require.NoError(t, c.Join(context.Background(), "lobby"))
	require.Equal(t, []string{"lobby", "room"}, c.Groups())

	first.drop()
	resyncs.Wait()

	require.Equal(t, Connected, c.State())
	require.Equal(t, 0, c.Attempt())

	var rejoined []string
	for _, r := range second.requests() {
		require.Equal(t, ws.TypeJoin, r.Type)
		var p ws.GroupPayload
		require.NoError(t, json.Unmarshal(r.Payload, &p))
		rejoined = append(rejoined, p.Group)
	}
	require.Equal(t, []string{"lobby", "room"}, rejoined)

	states, sleeps, _ := rec.snapshot()
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
	require.Equal(t, []State{Reconnecting, Connected, Disconnected, Reconnecting, Connected}, states)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, Disconnected, c.State())
}

func TestClient_GivesUp(t *testing.T) {
	d := &fakeDialer{}
	rec := &recorder{}
	c := newTestClient(d, Policy{Base: 100 * time.Millisecond, Cap: time.Second, MaxAttempts: 3}, rec, nil)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrGaveUp)
	require.Equal(t, GivingUp, c.State())

	_, sleeps, _ := rec.snapshot()
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sleeps)
	// первая попытка без задержки + три по политике
	require.Equal(t, 4, d.dials)
	require.Equal(t, 3, c.Attempt())
}

func TestClient_AttemptResetsAfterSuccess(t *testing.T) {
	first, second, third := newFakeSession(), newFakeSession(), newFakeSession()
	d := &fakeDialer{script: []any{first, errors.New("refused"), second, third}}
	rec := &recorder{}
	c := newTestClient(d, Policy{Base: time.Second, Cap: 30 * time.Second}, rec, nil)
	runClient(t, c)

	require.Eventually(t, func() bool { return c.State() == Connected }, time.Second, 5*time.Millisecond)
	first.drop()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.dials == 3 && c.State() == Connected
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, c.Attempt())

	second.drop()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.dials == 4 && c.State() == Connected
	}, time.Second, 5*time.Millisecond)

	_, sleeps, _ := rec.snapshot()
	// после успешного reconnect отсчёт начинается заново с Base
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, sleeps)
}

func TestClient_DeliversFrames(t *testing.T) {
	sess := newFakeSession()
	d := &fakeDialer{script: []any{sess}}
	rec := &recorder{}
	c := newTestClient(d, DefaultPolicy(), rec, nil)
	runClient(t, c)

	sess.in <- []byte(`{"type":"message_received","payload":{"message_id":7,"content":"hi"}}`)
	sess.in <- []byte(`garbage`)
	sess.in <- []byte(`{"type":"user_connected","payload":{"id":2}}`)

	require.Eventually(t, func() bool {
		_, _, frames := rec.snapshot()
		return len(frames) == 2
	}, time.Second, 5*time.Millisecond)

	_, _, frames := rec.snapshot()
	require.Equal(t, hub.TypeMessageReceived, frames[0].Type)
	require.Equal(t, hub.TypeUserConnected, frames[1].Type)
}

func TestClient_SendRequiresConnection(t *testing.T) {
	c := newTestClient(&fakeDialer{}, DefaultPolicy(), &recorder{}, nil)
	require.ErrorIs(t, c.SendMessage(context.Background(), "hi"), ErrNotConnected)
	require.ErrorIs(t, c.Join(context.Background(), "room"), ErrNotConnected)
	require.Empty(t, c.Groups())
}

func TestClient_LeaveForgetsGroup(t *testing.T) {
	sess := newFakeSession()
	c := newTestClient(&fakeDialer{script: []any{sess}}, DefaultPolicy(), &recorder{}, nil)
	runClient(t, c)
	require.Eventually(t, func() bool { return c.State() == Connected }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, c.Join(ctx, "room"))
	require.NoError(t, c.ToggleReaction(ctx, "room", 7, "👍"))
	require.NoError(t, c.Leave(ctx, "room"))
	require.Empty(t, c.Groups())

	reqs := sess.requests()
	require.Len(t, reqs, 3)
	require.Equal(t, ws.TypeToggleReaction, reqs[1].Type)
	require.Equal(t, ws.TypeLeave, reqs[2].Type)
	require.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
}

func TestClient_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Options{Dialer: &fakeDialer{}, Policy: DefaultPolicy(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	require.ErrorIs(t, c.Run(ctx), context.Canceled)
	require.Equal(t, Disconnected, c.State())
}

func TestClient_AdoptsServerPolicy(t *testing.T) {
	sess := newFakeSession()
	d := &fakeDialer{script: []any{sess}}
	rec := &recorder{}
	c := New(Options{
		Dialer:            d,
		Policy:            DefaultPolicy(),
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnState:           rec.onState,
		Sleep:             rec.sleep,
		AdoptServerPolicy: true,
	})
	_, done := runClient(t, c)

	sess.in <- []byte(`{"type":"welcome","payload":{"connection_id":"c1","user_id":1,` +
		`"reconnect":{"base_ms":50,"cap_ms":100,"max_attempts":2,"jitter":0}}}`)
	require.Eventually(t, func() bool { return c.Policy().Base == 50*time.Millisecond }, time.Second, 5*time.Millisecond)

	sess.drop()
	require.ErrorIs(t, <-done, ErrGaveUp)
	_, sleeps, _ := rec.snapshot()
	require.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, sleeps)
}

func TestClient_KeepsOwnPolicyByDefault(t *testing.T) {
	sess := newFakeSession()
	rec := &recorder{}
	c := newTestClient(&fakeDialer{script: []any{sess}}, DefaultPolicy(), rec, nil)
	runClient(t, c)

	sess.in <- []byte(`{"type":"welcome","payload":{"connection_id":"c1","reconnect":{"base_ms":50,"cap_ms":100}}}`)
	require.Eventually(t, func() bool {
		_, _, frames := rec.snapshot()
		return len(frames) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, DefaultPolicy(), c.Policy())
}
