package upstream

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostPacer spreads outbound requests per feed host with a token bucket, so
// a burst of pricing requests cannot hammer one upstream.
type hostPacer struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newHostPacer(rps float64, burst int) *hostPacer {
	return &hostPacer{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (p *hostPacer) limiter(host string) *rate.Limiter {
	p.mu.RLock()
	limiter, exists := p.limiters[host]
	p.mu.RUnlock()
	if exists {
		return limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, exists = p.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.limiters[host] = limiter
	return limiter
}

// wait blocks until a token for host is available or ctx is done.
func (p *hostPacer) wait(ctx context.Context, host string) error {
	return p.limiter(host).Wait(ctx)
}
