package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/hub"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 30 * time.Second}
	want := []time.Duration{1000, 2000, 4000, 8000, 16000, 30000, 30000}
	for attempt, ms := range want {
		require.Equal(t, ms*time.Millisecond, p.Delay(attempt), "attempt %d", attempt)
	}
	require.Equal(t, time.Second, p.Delay(-3))
	require.Equal(t, 30*time.Second, p.Delay(500))
}

func TestPolicy_DelayWithRand(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 30 * time.Second, Jitter: 0.5}

	require.Equal(t, 4*time.Second, p.DelayWithRand(2, 0))
	require.Equal(t, 3*time.Second, p.DelayWithRand(2, 0.5))
	for _, r := range []float64{0, 0.25, 0.999} {
		d := p.DelayWithRand(10, r)
		require.LessOrEqual(t, d, p.Cap)
		require.GreaterOrEqual(t, d, p.Cap/2)
	}

	p.Jitter = 0
	require.Equal(t, 8*time.Second, p.DelayWithRand(3, 0.9))
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))

	p.MaxAttempts = 0
	require.False(t, p.Exhausted(1_000))
}

func TestPolicyFromHint(t *testing.T) {
	p, ok := PolicyFromHint(hub.ReconnectHint{BaseMs: 500, CapMs: 8000, MaxAttempts: 5, Jitter: 0.1})
	require.True(t, ok)
	require.Equal(t, Policy{Base: 500 * time.Millisecond, Cap: 8 * time.Second, MaxAttempts: 5, Jitter: 0.1}, p)

	for _, h := range []hub.ReconnectHint{
		{},
		{BaseMs: 1000, CapMs: 500},
		{BaseMs: 100, CapMs: 200, Jitter: 1.5},
	} {
		_, ok := PolicyFromHint(h)
		require.False(t, ok, "%+v", h)
	}
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "reconnecting", Reconnecting.String())
	require.Equal(t, "giving_up", GivingUp.String())
	require.True(t, GivingUp.Terminal())
	require.False(t, Disconnected.Terminal())
}
