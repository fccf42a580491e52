package collector

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRateLimiter spaces requests to the same host by a fixed interval.
type HostRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func NewHostRateLimiter(interval time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// WaitForHost blocks until a request to rawURL's host is allowed.
func (h *HostRateLimiter) WaitForHost(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return &url.Error{Op: "parse", URL: rawURL, Err: errors.New("missing host in URL")}
	}
	return h.limiterFor(u.Host).Wait(ctx)
}

func (h *HostRateLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.RLock()
	l, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return l
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Every(h.interval), 1)
	h.limiters[host] = l
	return l
}
