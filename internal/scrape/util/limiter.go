package util

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter hands out one token bucket per host so a slow public API
// (api.grants.gov, projects.propublica.org) is never hammered by a run.
type HostLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

// NewHostLimiter allows reqPerSec requests per host. A non-positive rate
// disables limiting.
func NewHostLimiter(reqPerSec float64, burst int) *HostLimiter {
	lim := rate.Inf
	if reqPerSec > 0 {
		lim = rate.Limit(reqPerSec)
	}
	return &HostLimiter{
		buckets: map[string]*rate.Limiter{},
		every:   lim,
		burst:   max(burst, 1),
	}
}

func (hl *HostLimiter) bucket(host string) *rate.Limiter {
	host = strings.ToLower(host)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	b, ok := hl.buckets[host]
	if !ok {
		b = rate.NewLimiter(hl.every, hl.burst)
		hl.buckets[host] = b
	}
	return b
}

// Wait blocks until host has a free token. A nil limiter never blocks.
func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	if hl == nil {
		return ctx.Err()
	}
	return hl.bucket(host).Wait(ctx)
}

// WaitURL waits on the host of raw; unparseable URLs share one bucket.
func (hl *HostLimiter) WaitURL(ctx context.Context, raw string) error {
	host := "_"
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Host
	}
	return hl.Wait(ctx, host)
}
