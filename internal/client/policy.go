// Package client is the reconnecting chat client: backoff policy,
// connection state machine and the websocket session it drives.
package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/cwrk-planet/chat-service/internal/hub"
)

// Policy — экспоненциальный backoff: delay = min(Cap, Base * 2^attempt).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int     // <= 0: без ограничения
	Jitter      float64 // 0..1, доля задержки, которую можно срезать
}

func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 10, Jitter: 0.2}
}

// PolicyFromHint converts the server's welcome hint. ok is false for a hint
// that cannot drive a backoff (no base, or cap below base).
func PolicyFromHint(h hub.ReconnectHint) (p Policy, ok bool) {
	p = Policy{
		Base:        time.Duration(h.BaseMs) * time.Millisecond,
		Cap:         time.Duration(h.CapMs) * time.Millisecond,
		MaxAttempts: h.MaxAttempts,
		Jitter:      h.Jitter,
	}
	if p.Base <= 0 || p.Cap < p.Base || p.Jitter < 0 || p.Jitter > 1 {
		return Policy{}, false
	}
	return p, true
}

// Delay returns the un-jittered delay before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// DelayWithRand applies jitter using r in [0,1). Jitter only shortens the
// delay, so the cap is never exceeded.
func (p Policy) DelayWithRand(attempt int, r float64) time.Duration {
	d := p.Delay(attempt)
	j := p.Jitter
	if j <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}
	return d - time.Duration(float64(d)*j*r)
}

func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func (p Policy) jittered(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter, не криптография
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
