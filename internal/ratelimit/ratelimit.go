// Package ratelimit shapes the ARP transport client's outbound send rate,
// grounded on infrastructure/ratelimit/ratelimit.go's golang.org/x/time/rate
// wrapper.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config configures a send-rate Limiter.
type Config struct {
	BatchesPerSecond float64
	Burst            int
}

// DefaultConfig allows generous default throughput; callers tune it to the
// downstream CAP cluster's accepted rate.
func DefaultConfig() Config {
	return Config{BatchesPerSecond: 50, Burst: 100}
}

// Limiter wraps rate.Limiter for the transport client's Flush path.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	cfg     Config
}

// New creates a Limiter from cfg, applying defaults for zero fields.
func New(cfg Config) *Limiter {
	if cfg.BatchesPerSecond <= 0 {
		cfg.BatchesPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BatchesPerSecond * 2)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), cfg.Burst),
		cfg:     cfg,
	}
}

// Wait blocks until a send token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()
	return lim.Wait(ctx)
}

// Allow reports whether a token is available now, consuming it if so. It
// never blocks.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Reset rebuilds the limiter from its original configuration, discarding
// accumulated burst credit.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.cfg.BatchesPerSecond), l.cfg.Burst)
}
