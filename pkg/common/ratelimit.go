// Package common holds small process-level helpers shared by the service
// entrypoint and the application layer.
package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SendPacer hands out send permits per delivery channel. Every channel gets
// its own token bucket with the same rate and burst, created on first use.
type SendPacer struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewSendPacer returns a pacer allowing rps sends per second on each channel
// with bursts of up to burst sends. A non-positive rps disables pacing.
func NewSendPacer(rps float64, burst int) *SendPacer {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &SendPacer{limit: limit, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

func (p *SendPacer) bucket(channel string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[channel]
	if !ok {
		b = rate.NewLimiter(p.limit, p.burst)
		p.buckets[channel] = b
	}
	return b
}

// Wait blocks until channel may send or ctx is done. It returns how long the
// caller was held back.
func (p *SendPacer) Wait(ctx context.Context, channel string) (time.Duration, error) {
	start := time.Now()
	err := p.bucket(channel).Wait(ctx)
	return time.Since(start), err
}
