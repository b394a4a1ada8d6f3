// Per-client rate limiting of API requests.

package main

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimitRPS   = 20
	defaultRateLimitBurst = 40
	// Number of clients to track. Least recently seen clients are forgotten.
	defaultRateLimitClients = 1 << 14
)

type rateLimitConfig struct {
	// Sustained requests per second per client. Negative disables limiting.
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
	// Number of clients to track.
	Clients int `json:"clients"`
}

type clientLimiter struct {
	// Serializes creation of limiters for the same client.
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newClientLimiter returns nil if limiting is disabled.
func newClientLimiter(conf *rateLimitConfig) *clientLimiter {
	rps, burst, size := float64(defaultRateLimitRPS), defaultRateLimitBurst, defaultRateLimitClients
	if conf != nil {
		if conf.RPS < 0 {
			return nil
		}
		if conf.RPS > 0 {
			rps = conf.RPS
		}
		if conf.Burst > 0 {
			burst = conf.Burst
		}
		if conf.Clients > 0 {
			size = conf.Clients
		}
	}
	cache, _ := lru.New[string, *rate.Limiter](size)
	return &clientLimiter{limiters: cache, limit: rate.Limit(rps), burst: burst}
}

// Allow reports if the client may make a request now. Nil limiter allows everything.
func (cl *clientLimiter) Allow(client string) bool {
	if cl == nil {
		return true
	}

	cl.mu.Lock()
	l, ok := cl.limiters.Get(client)
	if !ok {
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters.Add(client, l)
	}
	cl.mu.Unlock()

	return l.Allow()
}
