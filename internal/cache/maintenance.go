package cache

import (
	"context"
	"time"
)

// sweepLoop drops expired entries that nobody reads again.
func (c *LRU[V]) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *LRU[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireLocked(c.now())
}
