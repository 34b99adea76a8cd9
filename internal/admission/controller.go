// Package admission gates draw ingestion with a per-user counter that is
// cleared on a fixed interval.
package admission

import (
	"context"
	"sync"
	"time"

	"drawing-board/internal/clock"
)

type rateState struct {
	count int
}

// Controller admits at most ceiling events per user between two resets.
// The reset is a hard clear on a fixed period, not a sliding window.
type Controller struct {
	ceiling  int
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	states map[string]*rateState

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Controller. A ceiling <= 0 admits everything.
func New(ceiling int, interval time.Duration, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Controller{
		ceiling:  ceiling,
		interval: interval,
		clock:    clk,
		states:   make(map[string]*rateState),
	}
}

func (c *Controller) Ceiling() int { return c.ceiling }

// Admit counts one draw attempt for userID and reports whether it fits
// under the ceiling. Rejected attempts are not counted.
func (c *Controller) Admit(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.states[userID]
	if !ok {
		s = &rateState{}
		c.states[userID] = s
	}

	if c.ceiling > 0 && s.count >= c.ceiling {
		return false
	}
	s.count++
	return true
}

// Count returns the admitted events for userID in the current window.
func (c *Controller) Count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.states[userID]; ok {
		return s.count
	}
	return 0
}

// Forget drops the state of a user who left.
func (c *Controller) Forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
}

// Reset clears every counter.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.states {
		s.count = 0
	}
}

// Start launches the periodic reset. It returns immediately; the task
// runs until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	ticker := c.clock.NewTicker(c.interval)

	go func() {
		defer close(c.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Reset()
			}
		}
	}()
}

// Stop cancels the reset task and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
