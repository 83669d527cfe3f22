package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits the send rate of a Sender
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottled wraps next with a token bucket of perSecond and burst.
// A non-positive rate disables throttling.
func NewThrottled(next Sender, perSecond float64, burst int) Sender {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send waits for a token and forwards to the wrapped sender
func (t *Throttled) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, Temporaryf("rate limit wait: %v", err)
	}
	return t.next.Send(ctx, msg)
}
