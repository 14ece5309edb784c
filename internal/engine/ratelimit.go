package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// CallLimiter applies a per-agent token bucket to analysis producer
// calls so a burst of sessions cannot hammer one producer backend.
type CallLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewCallLimiter builds a limiter factory from a per-minute budget
func NewCallLimiter(perMinute float64, burst int) *CallLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &CallLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

// Wait blocks until the agent's bucket grants a token or ctx is done
func (c *CallLimiter) Wait(ctx context.Context, agentID uuid.UUID) error {
	c.mu.Lock()
	lim, ok := c.limiters[agentID]
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
		c.limiters[agentID] = lim
	}
	c.mu.Unlock()

	return lim.Wait(ctx)
}
