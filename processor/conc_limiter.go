package processor

import (
	"context"
	"sync"
)

// ConcLimiter bounds the number of in-flight rendering calls.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

// Acquire is Increase that gives up when ctx is done.
func (c *ConcLimiter) Acquire(ctx context.Context) error {
	c.Add(1)
	select {
	case c.Pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		c.Done()
		return ctx.Err()
	}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}
